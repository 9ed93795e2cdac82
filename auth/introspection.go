package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
)

// Client authentication methods for the introspection endpoint.
const (
	ClientSecretBasic = "client_secret_basic"
	ClientSecretPost  = "client_secret_post"
)

// IntrospectorConfig configures an Introspector.
type IntrospectorConfig struct {
	// Endpoint is the RFC 7662 introspection URL.
	Endpoint string

	// ClientID and ClientSecret authenticate the gate to the endpoint.
	ClientID     string
	ClientSecret string

	// AuthMethod is ClientSecretBasic or ClientSecretPost.
	// Default: ClientSecretBasic
	AuthMethod string

	// Issuer is the iss every active credential must carry. A response
	// without iss is attributed to it.
	Issuer string

	// Audiences lists acceptable aud values; one match is enough.
	Audiences []string

	// Leeway is the tolerated clock skew on exp and nbf.
	Leeway time.Duration

	// CacheTTL is how long an active result is reused, never beyond its
	// exp and never more than an hour. Zero disables caching.
	CacheTTL time.Duration

	// Timeout bounds one introspection call.
	// Default: 5 seconds
	Timeout time.Duration

	// HTTPClient performs introspection calls.
	HTTPClient *http.Client

	// MaxBodyBytes caps the size of a response.
	// Default: 1 MiB
	MaxBodyBytes int64

	// MaxFailures and ResetTimeout configure the endpoint circuit.
	// Defaults: 5 failures, 30 seconds
	MaxFailures  int
	ResetTimeout time.Duration

	// Now is the time source. Default: time.Now
	Now func() time.Time

	// Instrumentation receives introspection spans and logs.
	Instrumentation *observe.Instrumentation
}

// Introspector validates opaque credentials against an OAuth2 token
// introspection endpoint (RFC 7662).
//
// Only active results are cached, keyed by a digest of the credential.
// An inactive credential is rejected with ErrInactiveCredential; a
// failed call with ErrIntrospectionUnavailable.
type Introspector struct {
	config   IntrospectorConfig
	cache    cache.Store[*Claims]
	executor *resilience.Executor
	inst     *observe.Instrumentation
}

// NewIntrospector checks config and returns an Introspector.
func NewIntrospector(config IntrospectorConfig) (*Introspector, error) {
	u, err := url.Parse(config.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: introspection endpoint %q must be an http(s) URL", ErrConfiguration, config.Endpoint)
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("%w: introspection client id is required", ErrConfiguration)
	}
	switch config.AuthMethod {
	case "":
		config.AuthMethod = ClientSecretBasic
	case ClientSecretBasic, ClientSecretPost:
	default:
		return nil, fmt.Errorf("%w: unknown introspection auth method %q", ErrConfiguration, config.AuthMethod)
	}
	if err := ValidateIssuer(config.Issuer); err != nil {
		return nil, err
	}
	if len(config.Audiences) == 0 || slices.Contains(config.Audiences, "") {
		return nil, fmt.Errorf("%w: at least one non-empty audience is required", ErrConfiguration)
	}
	if config.Leeway < 0 || config.CacheTTL < 0 {
		return nil, fmt.Errorf("%w: leeway and cache ttl must not be negative", ErrConfiguration)
	}
	if config.CacheTTL > 0 {
		config.CacheTTL = cache.IntrospectionPolicy().EffectiveTTL(config.CacheTTL)
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	config.Audiences = slices.Clone(config.Audiences)

	inst := config.Instrumentation.OrNoop()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         config.Endpoint,
		MaxFailures:  config.MaxFailures,
		ResetTimeout: config.ResetTimeout,
		Now:          config.Now,
		OnStateChange: func(name string, from, to resilience.State) {
			inst.Logger.Warn(context.Background(), "introspection.circuit_changed",
				observe.F("endpoint", name),
				observe.F("from", from.String()),
				observe.F("to", to.String()),
			)
		},
	})

	return &Introspector{
		config: config,
		cache:  cache.NewMemory[*Claims](cache.WithClock(config.Now)),
		executor: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithTimeout(config.Timeout),
		),
		inst: inst,
	}, nil
}

// Circuit reports a snapshot of the endpoint circuit.
func (in *Introspector) Circuit() resilience.CircuitBreakerMetrics {
	return in.executor.CircuitBreaker().Metrics()
}

// Validate asks the endpoint about credential and returns its claims.
// The response must be active and then passes the same issuer, audience
// and validity checks as a signed credential; exp is required.
func (in *Introspector) Validate(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	key := credentialDigest(credential)
	if c, ok := in.cache.Get(key); ok {
		if c.ExpiresAt.After(in.config.Now().Add(-in.config.Leeway)) {
			return c.Clone(), nil
		}
		in.cache.Delete(key)
	}

	var resp map[string]any
	err := in.inst.Span(ctx, "auth.introspect", func(ctx context.Context) error {
		return in.executor.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = in.post(ctx, credential)
			return err
		})
	}, attribute.String("endpoint", in.config.Endpoint))
	if err != nil {
		in.inst.Logger.Error(ctx, "introspection.failed",
			observe.F("endpoint", in.config.Endpoint),
			observe.F("code", "introspection_unavailable"),
			observe.F("circuit_open", errors.Is(err, resilience.ErrCircuitOpen)),
			observe.F("error", err),
		)
		return nil, rejectWith(ErrIntrospectionUnavailable, err, in.config.Endpoint)
	}

	if active, _ := resp["active"].(bool); !active {
		return nil, reject(ErrInactiveCredential, "endpoint reported inactive")
	}
	delete(resp, "active")
	if _, ok := resp["iss"]; !ok {
		resp["iss"] = in.config.Issuer
	}
	if _, ok := resp["aud"]; !ok {
		return nil, reject(ErrAudienceMismatch, "aud is required")
	}

	now := in.config.Now()
	claims, err := claimChecks{
		issuer:    in.config.Issuer,
		audiences: in.config.Audiences,
		leeway:    in.config.Leeway,
		now:       now,
	}.check(jwt.MapClaims(resp))
	if err != nil {
		return nil, err
	}

	ttl := min(in.config.CacheTTL, claims.ExpiresAt.Sub(now))
	if err := in.cache.Set(key, claims.Clone(), ttl); err != nil {
		return nil, rejectWith(ErrIntrospectionUnavailable, err, "cache")
	}
	return claims, nil
}

func (in *Introspector) post(ctx context.Context, credential string) (map[string]any, error) {
	form := url.Values{}
	form.Set("token", credential)
	form.Set("token_type_hint", "access_token")
	if in.config.AuthMethod == ClientSecretPost {
		form.Set("client_id", in.config.ClientID)
		form.Set("client_secret", in.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if in.config.AuthMethod == ClientSecretBasic {
		// RFC 6749 section 2.3.1 form-encodes both parts.
		req.SetBasicAuth(url.QueryEscape(in.config.ClientID), url.QueryEscape(in.config.ClientSecret))
	}

	resp, err := in.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, in.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > in.config.MaxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", in.config.MaxBodyBytes)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out == nil {
		return nil, errors.New("decode response: not an object")
	}
	return out, nil
}

func credentialDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
