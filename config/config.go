package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/discovery"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/policy"
)

// EnvPrefix prefixes every environment variable, e.g. TOOLGATE_POLICY_MODE.
const EnvPrefix = "TOOLGATE"

// Configuration keys.
const (
	KeyExpectedIssuer    = "expected_issuer"
	KeyExpectedAudiences = "expected_audiences"
	KeyKeySourceURI      = "key_source_uri"
	KeyPolicyMode        = "policy_mode"
	KeyPolicyDocument    = "policy_document"
	KeyPolicyEngine      = "policy_engine"
	KeyPolicyData        = "policy_data"
	KeyLeeway            = "clock_skew_leeway_seconds"
	KeyCacheTTL          = "key_cache_ttl_seconds"
	KeyFetchTimeout      = "key_fetch_timeout_seconds"
	KeyResourceURL       = "resource_url"
	KeyRealm             = "realm"
	KeyIntroEndpoint     = "introspection.endpoint"
	KeyIntroClientID     = "introspection.client_id"
	KeyIntroClientSecret = "introspection.client_secret"
	KeyIntroAuthMethod   = "introspection.auth_method"
	KeyIntroCacheTTL     = "introspection.cache_ttl_seconds"
	KeyIntroTimeout      = "introspection.timeout_seconds"
	KeyServerAddr        = "server.addr"
	KeyServerUpstream    = "server.upstream"
	KeyServerMaxBody     = "server.max_body_bytes"
	KeyServerShutdown    = "server.shutdown_timeout"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyTracingEnabled    = "telemetry.tracing.enabled"
	KeyTracingExporter   = "telemetry.tracing.exporter"
	KeyTracingSample     = "telemetry.tracing.sample_pct"
	KeyMetricsEnabled    = "telemetry.metrics.enabled"
	KeyMetricsExporter   = "telemetry.metrics.exporter"
)

// Config is the full gate configuration.
type Config struct {
	ExpectedIssuer    string   `mapstructure:"expected_issuer"`
	ExpectedAudiences []string `mapstructure:"expected_audiences"`
	KeySourceURI      string   `mapstructure:"key_source_uri"`

	PolicyMode     string         `mapstructure:"policy_mode"`
	PolicyDocument string         `mapstructure:"policy_document"`
	PolicyEngine   string         `mapstructure:"policy_engine"`
	PolicyData     map[string]any `mapstructure:"policy_data"`

	ClockSkewLeewaySeconds int `mapstructure:"clock_skew_leeway_seconds"`
	KeyCacheTTLSeconds     int `mapstructure:"key_cache_ttl_seconds"`
	KeyFetchTimeoutSeconds int `mapstructure:"key_fetch_timeout_seconds"`

	ResourceURL string           `mapstructure:"resource_url"`
	Realm       string           `mapstructure:"realm"`
	Discovery   discovery.Config `mapstructure:"discovery"`

	Introspection IntrospectionConfig `mapstructure:"introspection"`

	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures `toolgate serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Upstream        string        `mapstructure:"upstream"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IntrospectionConfig enables validation of opaque credentials against an
// RFC 7662 endpoint. It is off while Endpoint is empty.
type IntrospectionConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	AuthMethod      string `mapstructure:"auth_method"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	Tracing struct {
		Enabled   bool    `mapstructure:"enabled"`
		Exporter  string  `mapstructure:"exporter"`
		SamplePct float64 `mapstructure:"sample_pct"`
	} `mapstructure:"tracing"`
	Metrics struct {
		Enabled  bool   `mapstructure:"enabled"`
		Exporter string `mapstructure:"exporter"`
	} `mapstructure:"metrics"`
}

// SetDefaults registers every key with its default so that environment
// variables can override keys absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyExpectedIssuer, "")
	v.SetDefault(KeyExpectedAudiences, []string{})
	v.SetDefault(KeyKeySourceURI, "")
	v.SetDefault(KeyPolicyMode, string(policy.ModePermissive))
	v.SetDefault(KeyPolicyDocument, "")
	v.SetDefault(KeyPolicyEngine, string(policy.EngineCedar))
	v.SetDefault(KeyLeeway, int(auth.DefaultLeeway/time.Second))
	v.SetDefault(KeyCacheTTL, 3600)
	v.SetDefault(KeyFetchTimeout, 5)
	v.SetDefault(KeyResourceURL, "")
	v.SetDefault(KeyRealm, "")
	v.SetDefault(KeyIntroEndpoint, "")
	v.SetDefault(KeyIntroClientID, "")
	v.SetDefault(KeyIntroClientSecret, "")
	v.SetDefault(KeyIntroAuthMethod, auth.ClientSecretBasic)
	v.SetDefault(KeyIntroCacheTTL, 300)
	v.SetDefault(KeyIntroTimeout, 5)
	v.SetDefault(KeyServerAddr, ":8080")
	v.SetDefault(KeyServerUpstream, "")
	v.SetDefault(KeyServerMaxBody, 1<<20)
	v.SetDefault(KeyServerShutdown, "10s")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyTracingEnabled, false)
	v.SetDefault(KeyTracingExporter, "none")
	v.SetDefault(KeyTracingSample, 1.0)
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyMetricsExporter, "none")
}

// BindEnv makes v read TOOLGATE_* variables, with "." and "-" in keys
// mapped to "_".
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes v, resolves secrets and validates the result. Relative
// secretref:file: paths are taken from the directory of the config file.
func Load(ctx context.Context, v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", auth.ErrConfiguration, err)
	}

	dir := ""
	if f := v.ConfigFileUsed(); f != "" {
		dir = filepath.Dir(f)
	}
	if err := cfg.Resolve(ctx, NewSecretResolver(EnvProvider{}, FileProvider{Dir: dir})); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads path and the environment into a fresh viper instance and
// calls Load.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", auth.ErrConfiguration, path, err)
	}
	return Load(ctx, v)
}

// Resolve expands every string value in place.
func (c *Config) Resolve(ctx context.Context, r *SecretResolver) error {
	fields := map[string]*string{
		KeyExpectedIssuer: &c.ExpectedIssuer,
		KeyKeySourceURI:   &c.KeySourceURI,
		KeyPolicyDocument: &c.PolicyDocument,
		KeyResourceURL:    &c.ResourceURL,
		KeyRealm:          &c.Realm,
		KeyServerUpstream: &c.Server.Upstream,

		KeyIntroEndpoint:     &c.Introspection.Endpoint,
		KeyIntroClientID:     &c.Introspection.ClientID,
		KeyIntroClientSecret: &c.Introspection.ClientSecret,
	}
	for key, p := range fields {
		out, err := r.Resolve(ctx, *p)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", auth.ErrConfiguration, key, err)
		}
		*p = out
	}
	for i, aud := range c.ExpectedAudiences {
		out, err := r.Resolve(ctx, aud)
		if err != nil {
			return fmt.Errorf("%w: %s[%d]: %v", auth.ErrConfiguration, KeyExpectedAudiences, i, err)
		}
		c.ExpectedAudiences[i] = strings.TrimSpace(out)
	}
	return nil
}

// Validate checks every key and compiles the policy document. All
// problems are reported together; each wraps auth.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", auth.ErrConfiguration, fmt.Sprintf(format, args...)))
	}

	if err := auth.ValidateIssuer(c.ExpectedIssuer); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyExpectedIssuer, err))
	}
	if len(c.ExpectedAudiences) == 0 {
		fail("%s is required", KeyExpectedAudiences)
	} else if slices.Contains(c.ExpectedAudiences, "") {
		fail("%s must not contain empty values", KeyExpectedAudiences)
	}
	if u, err := url.Parse(c.KeySourceURI); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		fail("%s %q is not an absolute http(s) URL", KeyKeySourceURI, c.KeySourceURI)
	}

	if c.ClockSkewLeewaySeconds < 0 {
		fail("%s must not be negative", KeyLeeway)
	}
	if c.KeyCacheTTLSeconds <= 0 {
		fail("%s must be positive", KeyCacheTTL)
	}
	if c.KeyFetchTimeoutSeconds <= 0 {
		fail("%s must be positive", KeyFetchTimeout)
	}

	if c.Introspection.Endpoint != "" {
		in := c.Introspection
		if u, err := url.Parse(in.Endpoint); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			fail("%s %q is not an absolute http(s) URL", KeyIntroEndpoint, in.Endpoint)
		}
		if in.ClientID == "" {
			fail("%s is required with %s", KeyIntroClientID, KeyIntroEndpoint)
		}
		if in.AuthMethod != auth.ClientSecretBasic && in.AuthMethod != auth.ClientSecretPost {
			fail("%s must be %s or %s", KeyIntroAuthMethod, auth.ClientSecretBasic, auth.ClientSecretPost)
		}
		if in.CacheTTLSeconds < 0 {
			fail("%s must not be negative", KeyIntroCacheTTL)
		}
		if in.TimeoutSeconds <= 0 {
			fail("%s must be positive", KeyIntroTimeout)
		}
	}

	if _, err := policy.New(c.Policy()); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}

	if c.ExpectedIssuer != "" {
		if err := c.DiscoveryConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("discovery: %w", err))
		}
	}

	if c.Server.Upstream != "" {
		if u, err := url.Parse(c.Server.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			fail("%s %q is not an absolute URL", KeyServerUpstream, c.Server.Upstream)
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		fail("%s must be positive", KeyServerMaxBody)
	}

	oc := c.ObserveConfig("")
	if err := oc.Validate(); err != nil {
		fail("telemetry: %v", err)
	}

	return errors.Join(errs...)
}

// Policy returns the policy document described by the configuration.
func (c *Config) Policy() policy.Document {
	var src []byte
	if c.PolicyDocument != "" {
		src = []byte(c.PolicyDocument)
	}
	return policy.Document{
		Mode:   policy.Mode(c.PolicyMode),
		Engine: policy.Engine(c.PolicyEngine),
		Source: src,
		Data:   c.PolicyData,
	}
}

// Leeway is the tolerated clock skew.
func (c *Config) Leeway() time.Duration {
	return time.Duration(c.ClockSkewLeewaySeconds) * time.Second
}

// KeyCacheTTL is how long a fetched key set is trusted.
func (c *Config) KeyCacheTTL() time.Duration {
	return time.Duration(c.KeyCacheTTLSeconds) * time.Second
}

// KeyFetchTimeout bounds one key-set fetch.
func (c *Config) KeyFetchTimeout() time.Duration {
	return time.Duration(c.KeyFetchTimeoutSeconds) * time.Second
}

// IntrospectorConfig returns the introspection settings bound to the
// expected issuer and audiences. ok is false when introspection is off.
func (c *Config) IntrospectorConfig() (ic auth.IntrospectorConfig, ok bool) {
	in := c.Introspection
	if in.Endpoint == "" {
		return auth.IntrospectorConfig{}, false
	}
	return auth.IntrospectorConfig{
		Endpoint:     in.Endpoint,
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		AuthMethod:   in.AuthMethod,
		Issuer:       c.ExpectedIssuer,
		Audiences:    c.ExpectedAudiences,
		Leeway:       c.Leeway(),
		CacheTTL:     time.Duration(in.CacheTTLSeconds) * time.Second,
		Timeout:      time.Duration(in.TimeoutSeconds) * time.Second,
	}, true
}

// DiscoveryConfig returns the discovery settings with the issuer and
// resource filled in. The JWKS URI defaults to the key source.
func (c *Config) DiscoveryConfig() discovery.Config {
	d := c.Discovery
	d.Issuer = c.ExpectedIssuer
	d.Resource = c.ResourceURL
	if d.JWKSURI == "" {
		d.JWKSURI = c.KeySourceURI
	}
	return d
}

// ObserveConfig returns the telemetry configuration for service version.
func (c *Config) ObserveConfig(version string) observe.Config {
	return observe.Config{
		ServiceName: "toolgate",
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Telemetry.Tracing.Enabled,
			Exporter:  c.Telemetry.Tracing.Exporter,
			SamplePct: c.Telemetry.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Telemetry.Metrics.Enabled,
			Exporter: c.Telemetry.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Log.Level,
			Format:  c.Log.Format,
		},
	}
}
