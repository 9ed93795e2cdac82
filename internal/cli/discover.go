package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/config"
)

// providerMetadata is the part of an OpenID provider document that maps
// onto gate configuration.
type providerMetadata struct {
	Issuer                   string   `json:"issuer"`
	JWKSURI                  string   `json:"jwks_uri"`
	AuthorizationEndpoint    string   `json:"authorization_endpoint"`
	TokenEndpoint            string   `json:"token_endpoint"`
	RegistrationEndpoint     string   `json:"registration_endpoint"`
	IntrospectionEndpoint    string   `json:"introspection_endpoint"`
	ScopesSupported          []string `json:"scopes_supported"`
	ResponseTypesSupported   []string `json:"response_types_supported"`
	GrantTypesSupported      []string `json:"grant_types_supported"`
	CodeChallengeMethods     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethods []string `json:"token_endpoint_auth_methods_supported"`
	SigningAlgorithms        []string `json:"id_token_signing_alg_values_supported"`
}

// discoveredConfig is a configuration fragment built from a provider
// document.
type discoveredConfig struct {
	ExpectedIssuer string                   `json:"expected_issuer" yaml:"expected_issuer"`
	KeySourceURI   string                   `json:"key_source_uri" yaml:"key_source_uri"`
	Discovery      discoveredEndpoints      `json:"discovery" yaml:"discovery"`
	Introspection  *discoveredIntrospection `json:"introspection,omitempty" yaml:"introspection,omitempty"`
}

// discoveredIntrospection leaves the client credentials to the operator.
type discoveredIntrospection struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

type discoveredEndpoints struct {
	AuthorizationEndpoint    string   `json:"authorization_endpoint,omitempty" yaml:"authorization_endpoint,omitempty"`
	TokenEndpoint            string   `json:"token_endpoint,omitempty" yaml:"token_endpoint,omitempty"`
	RegistrationEndpoint     string   `json:"registration_endpoint,omitempty" yaml:"registration_endpoint,omitempty"`
	ServerScopes             []string `json:"server_scopes,omitempty" yaml:"server_scopes,omitempty"`
	ResponseTypes            []string `json:"response_types,omitempty" yaml:"response_types,omitempty"`
	GrantTypes               []string `json:"grant_types,omitempty" yaml:"grant_types,omitempty"`
	CodeChallengeMethods     []string `json:"code_challenge_methods,omitempty" yaml:"code_challenge_methods,omitempty"`
	TokenEndpointAuthMethods []string `json:"token_endpoint_auth_methods,omitempty" yaml:"token_endpoint_auth_methods,omitempty"`
}

var discoverCmd = &cobra.Command{
	Use:   "discover [issuer]",
	Short: "Fetch an issuer's OpenID configuration and print matching settings",
	Long: `Fetch <issuer>/.well-known/openid-configuration and print the
expected_issuer, key_source_uri, discovery and introspection settings it
implies. The
issuer defaults to expected_issuer from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer := viper.GetString(config.KeyExpectedIssuer)
		if len(args) == 1 {
			issuer = args[0]
		}
		if issuer == "" {
			return errors.New("no issuer given and expected_issuer is not set")
		}
		if err := auth.ValidateIssuer(issuer); err != nil {
			return err
		}

		provider, err := oidc.NewProvider(cmd.Context(), issuer)
		if err != nil {
			return fmt.Errorf("discovering %s: %w", issuer, err)
		}
		var md providerMetadata
		if err := provider.Claims(&md); err != nil {
			return fmt.Errorf("decoding provider metadata: %w", err)
		}
		if md.JWKSURI == "" {
			return fmt.Errorf("provider %s does not publish jwks_uri", issuer)
		}
		if rejected := rejectedAlgorithms(md.SigningAlgorithms); len(rejected) > 0 {
			log.Warn().
				Strs("algorithms", rejected).
				Strs("accepted", auth.SupportedAlgorithms()).
				Msg("Provider signs with algorithms the gate rejects.")
		}

		out := discoveredConfig{
			ExpectedIssuer: md.Issuer,
			KeySourceURI:   md.JWKSURI,
			Discovery: discoveredEndpoints{
				AuthorizationEndpoint:    md.AuthorizationEndpoint,
				TokenEndpoint:            md.TokenEndpoint,
				RegistrationEndpoint:     md.RegistrationEndpoint,
				ServerScopes:             md.ScopesSupported,
				ResponseTypes:            md.ResponseTypesSupported,
				GrantTypes:               md.GrantTypesSupported,
				CodeChallengeMethods:     md.CodeChallengeMethods,
				TokenEndpointAuthMethods: md.TokenEndpointAuthMethods,
			},
		}
		if md.IntrospectionEndpoint != "" {
			out.Introspection = &discoveredIntrospection{Endpoint: md.IntrospectionEndpoint}
		}

		format, _ := cmd.Flags().GetString("output")
		switch format {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		case "yaml":
			b, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		default:
			return fmt.Errorf("unknown output format %q (yaml, json)", format)
		}
	},
}

func rejectedAlgorithms(advertised []string) []string {
	accepted := auth.SupportedAlgorithms()
	var out []string
	for _, alg := range advertised {
		if !slices.Contains(accepted, alg) {
			out = append(out, alg)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
}
