package discovery

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
)

// Default metadata values.
var (
	DefaultScopes = []string{
		"mcp:tools:read",
		"mcp:tools:write",
		"mcp:resources:read",
		"mcp:resources:write",
		"mcp:prompts:read",
	}
	DefaultServerScopes             = []string{"openid", "profile", "email"}
	DefaultResponseTypes            = []string{"code", "code id_token"}
	DefaultGrantTypes               = []string{"authorization_code", "refresh_token"}
	DefaultCodeChallengeMethods     = []string{"S256", "plain"}
	DefaultTokenEndpointAuthMethods = []string{"client_secret_basic", "client_secret_post", "none"}
	DefaultBearerMethods            = []string{"header"}
)

// Config describes the protected resource and its authorization server.
// Every empty field falls back to a default.
type Config struct {
	// Issuer is the authorization server. Required.
	Issuer string `mapstructure:"-"`

	// Resource is the protected resource identifier. Optional; when
	// empty no protected-resource document is served.
	Resource     string `mapstructure:"-"`
	ResourceName string `mapstructure:"resource_name"`

	// AuthorizationServers defaults to [Issuer].
	AuthorizationServers []string `mapstructure:"authorization_servers"`

	// Endpoints default to paths under Issuer: /oauth2/authorize,
	// /oauth2/token, /oauth2/jwks and /oauth2/register.
	AuthorizationEndpoint string `mapstructure:"authorization_endpoint"`
	TokenEndpoint         string `mapstructure:"token_endpoint"`
	JWKSURI               string `mapstructure:"jwks_uri"`
	RegistrationEndpoint  string `mapstructure:"registration_endpoint"`

	Scopes                   []string `mapstructure:"scopes"`
	ServerScopes             []string `mapstructure:"server_scopes"`
	ResponseTypes            []string `mapstructure:"response_types"`
	GrantTypes               []string `mapstructure:"grant_types"`
	CodeChallengeMethods     []string `mapstructure:"code_challenge_methods"`
	TokenEndpointAuthMethods []string `mapstructure:"token_endpoint_auth_methods"`
	BearerMethods            []string `mapstructure:"bearer_methods"`

	ResourceDocumentation string `mapstructure:"resource_documentation"`
	ServiceDocumentation  string `mapstructure:"service_documentation"`
}

// Validate checks the issuer, the resource and every configured URL.
func (c Config) Validate() error {
	if err := auth.ValidateIssuer(c.Issuer); err != nil {
		return err
	}
	if c.Resource != "" {
		if err := ValidateResource(c.Resource); err != nil {
			return err
		}
	}

	urls := map[string]string{
		"authorization_endpoint": c.AuthorizationEndpoint,
		"token_endpoint":         c.TokenEndpoint,
		"jwks_uri":               c.JWKSURI,
		"registration_endpoint":  c.RegistrationEndpoint,
		"resource_documentation": c.ResourceDocumentation,
		"service_documentation":  c.ServiceDocumentation,
	}
	for _, s := range c.AuthorizationServers {
		if err := checkURL("authorization_servers", s); err != nil {
			return err
		}
	}
	for name, s := range urls {
		if s == "" {
			continue
		}
		if err := checkURL(name, s); err != nil {
			return err
		}
	}
	return nil
}

// ValidateResource checks a protected resource identifier: an absolute
// https URL without a fragment.
func ValidateResource(resource string) error {
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("%w: resource %q: %v", auth.ErrConfiguration, resource, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: resource %q must be an absolute https URL", auth.ErrConfiguration, resource)
	}
	if u.Fragment != "" || strings.Contains(resource, "#") {
		return fmt.Errorf("%w: resource %q must not have a fragment", auth.ErrConfiguration, resource)
	}
	return nil
}

func checkURL(name, s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute http(s) URL", auth.ErrConfiguration, name, s)
	}
	return nil
}

// ResourceMetadata is the RFC 9728 protected-resource document.
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	ResourceName           string   `json:"resource_name,omitempty"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// ServerMetadata is the RFC 8414 authorization-server document.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ServiceDocumentation              string   `json:"service_documentation,omitempty"`
}

// Responder builds metadata documents from a Config.
type Responder struct {
	config Config
}

// New validates config and returns a Responder.
func New(config Config) (*Responder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Responder{config: config}, nil
}

// HasResource reports whether a protected-resource document is available.
func (r *Responder) HasResource() bool {
	return r.config.Resource != ""
}

// ResourceMetadata returns the protected-resource document.
func (r *Responder) ResourceMetadata() ResourceMetadata {
	c := r.config
	return ResourceMetadata{
		Resource:               c.Resource,
		ResourceName:           c.ResourceName,
		AuthorizationServers:   orDefault(c.AuthorizationServers, []string{c.Issuer}),
		ScopesSupported:        orDefault(c.Scopes, DefaultScopes),
		BearerMethodsSupported: orDefault(c.BearerMethods, DefaultBearerMethods),
		ResourceDocumentation:  c.ResourceDocumentation,
	}
}

// ServerMetadata returns the authorization-server document.
func (r *Responder) ServerMetadata() ServerMetadata {
	c := r.config
	base := strings.TrimRight(c.Issuer, "/")

	scopes := c.ServerScopes
	if len(scopes) == 0 {
		scopes = append(slices.Clone(DefaultServerScopes), orDefault(c.Scopes, DefaultScopes)...)
	}

	return ServerMetadata{
		Issuer:                            c.Issuer,
		AuthorizationEndpoint:             orString(c.AuthorizationEndpoint, base+"/oauth2/authorize"),
		TokenEndpoint:                     orString(c.TokenEndpoint, base+"/oauth2/token"),
		JWKSURI:                           orString(c.JWKSURI, base+"/oauth2/jwks"),
		RegistrationEndpoint:              orString(c.RegistrationEndpoint, base+"/oauth2/register"),
		ScopesSupported:                   slices.Clone(scopes),
		ResponseTypesSupported:            orDefault(c.ResponseTypes, DefaultResponseTypes),
		GrantTypesSupported:               orDefault(c.GrantTypes, DefaultGrantTypes),
		CodeChallengeMethodsSupported:     orDefault(c.CodeChallengeMethods, DefaultCodeChallengeMethods),
		TokenEndpointAuthMethodsSupported: orDefault(c.TokenEndpointAuthMethods, DefaultTokenEndpointAuthMethods),
		ServiceDocumentation:              c.ServiceDocumentation,
	}
}

// ResourceMetadataURL is where the protected-resource document of the
// configured resource is published: the well-known path is inserted
// between the host and the resource path, per RFC 9728 section 3.1.
// It is empty when no resource is configured.
func (r *Responder) ResourceMetadataURL() string {
	if r.config.Resource == "" {
		return ""
	}
	u, err := url.Parse(r.config.Resource)
	if err != nil {
		return ""
	}
	u.Path = ResourceMetadataPath + strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	return u.String()
}

func orDefault(v, fallback []string) []string {
	if len(v) > 0 {
		return slices.Clone(v)
	}
	return slices.Clone(fallback)
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
