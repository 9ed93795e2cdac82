package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/internal/buildinfo"
	"github.com/jonwraymond/toolgate/internal/server"
	"github.com/jonwraymond/toolgate/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gate in front of the upstream tool server",
	Long: `Serve the discovery, health and metrics endpoints and proxy every other
request to server.upstream once its credential and operation are authorized.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(ctx, viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		log.Info().Msg("Initializing telemetry...")
		obs, err := observe.NewObserver(ctx, cfg.ObserveConfig(buildinfo.Version))
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
		ins, err := observe.FromObserver(obs)
		if err != nil {
			return err
		}

		log.Info().
			Str("issuer", cfg.ExpectedIssuer).
			Str("policy_mode", cfg.PolicyMode).
			Msg("Initializing gate...")
		components, err := server.NewComponents(cfg, ins)
		if err != nil {
			return err
		}

		srv, err := server.New(components, log.Logger)
		if err != nil {
			return err
		}
		if cfg.Server.Upstream == "" {
			log.Warn().Msg("server.upstream is not set; authorized requests will be answered with 502")
		}
		return srv.Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "address to listen on")
	serveCmd.Flags().String("upstream", "", "URL of the tool server to protect")
}
