// Package cli implements the toolgate commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/internal/buildinfo"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: fmt.Sprintf("toolgate authorization gate (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `toolgate authenticates bearer credentials against an OAuth 2.1
authorization server and authorizes each protocol operation against a
policy before it reaches the tool server behind it.`,
	Version: buildinfo.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd); err != nil {
			return err
		}
		configPath, configErr := initConfig()
		initLogging(cmd.ErrOrStderr())
		if configErr != nil {
			return configErr
		}
		if configPath != "" {
			log.Debug().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Configuration file (default is ./toolgate.yaml, then $HOME/.config/toolgate/toolgate.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

// flagKeys maps flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":  config.KeyLogLevel,
	"log-format": config.KeyLogFormat,
	"addr":       config.KeyServerAddr,
	"upstream":   config.KeyServerUpstream,
}

// bindFlags binds the flags cmd knows about and the TOOLGATE_*
// environment to the global viper instance.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	config.BindEnv(viper.GetViper())
	return nil
}

func initConfig() (string, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + "/toolgate")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("toolgate")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundError) {
			return "", fmt.Errorf("reading config: %w", err)
		}
		return "", nil
	}
	return viper.ConfigFileUsed(), nil
}

func initLogging(w io.Writer) {
	level, err := zerolog.ParseLevel(viper.GetString(config.KeyLogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if viper.GetString(config.KeyLogFormat) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}
