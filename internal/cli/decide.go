package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/gate"
	"github.com/jonwraymond/toolgate/internal/server"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/policy"
)

// errDenied makes `toolgate decide` exit non-zero for a denial.
var errDenied = errors.New("request denied")

// decideOutput is what `toolgate decide` prints.
type decideOutput struct {
	gate.Decision
	Code      string `json:"code,omitempty"`
	Status    int    `json:"status"`
	Challenge string `json:"challenge,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Evaluate one request against the configured gate",
	Long: `Run authentication and authorization for a single request without
serving anything, and print the decision as JSON. Keys are fetched from
key_source_uri as the server would. The command exits non-zero when the
request is denied.

Pass --token - to read the credential from stdin.`,
	Example: `  toolgate decide --token "$TOKEN" --operation tools/call --target search \
    --arguments '{"query":"status"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		operation, _ := cmd.Flags().GetString("operation")
		target, _ := cmd.Flags().GetString("target")
		rawArgs, _ := cmd.Flags().GetString("arguments")
		method, _ := cmd.Flags().GetString("method")
		path, _ := cmd.Flags().GetString("path")

		if token == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading token from stdin: %w", err)
			}
			token = strings.TrimSpace(string(b))
		}

		var arguments map[string]any
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
				return fmt.Errorf("--arguments must be a JSON object: %w", err)
			}
		}

		cfg, err := config.Load(cmd.Context(), viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		components, err := server.NewComponents(cfg, observe.Noop())
		if err != nil {
			return err
		}

		d := components.Gate.Authorize(cmd.Context(), gate.Request{
			Credential: token,
			Method:     method,
			Path:       path,
			Headers:    map[string]string{},
			Operation: policy.Operation{
				Name:      operation,
				Target:    target,
				Arguments: arguments,
			},
		})

		out := decideOutput{Decision: d, Code: d.Code, Status: d.HTTPStatus()}
		if d.Claims != nil {
			out.Subject = d.Claims.Subject
		}
		if !d.Allowed() {
			resourceMetadata := ""
			if components.Discovery.HasResource() {
				resourceMetadata = components.Discovery.ResourceMetadataURL()
			}
			out.Challenge = d.Challenge(cfg.Realm, resourceMetadata)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if !d.Allowed() {
			return errDenied
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decideCmd)

	decideCmd.Flags().String("token", "", "bearer credential to validate (- reads stdin)")
	decideCmd.Flags().String("operation", "", "operation name, e.g. tools/call")
	decideCmd.Flags().String("target", "", "operation target, e.g. a tool name or resource URI")
	decideCmd.Flags().String("arguments", "", "operation arguments as a JSON object")
	decideCmd.Flags().String("method", "POST", "HTTP method of the simulated request")
	decideCmd.Flags().String("path", "/", "HTTP path of the simulated request")
}
