package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
)

// ResolverConfig configures a KeyResolver.
type ResolverConfig struct {
	// TTL is how long a fetched key set is trusted.
	// Default: 1 hour, capped at 24 hours
	TTL time.Duration

	// FetchTimeout bounds one key-set fetch.
	// Default: 5 seconds
	FetchTimeout time.Duration

	// HTTPClient performs key-set fetches.
	// If nil, a client without its own timeout is used; FetchTimeout applies.
	HTTPClient *http.Client

	// MaxBodyBytes caps the size of a key-set document.
	// Default: 1 MiB
	MaxBodyBytes int64

	// RefreshRate is how many forced refreshes per second an issuer may
	// trigger through unknown key ids.
	// Default: one every 10 seconds
	RefreshRate float64

	// RefreshBurst is the number of forced refreshes allowed back to back.
	// Default: 1
	RefreshBurst int

	// MaxFailures opens an issuer's circuit after this many failed fetches.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long an open circuit stays open.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// Now is the time source. Default: time.Now
	Now func() time.Time

	// Instrumentation receives key-fetch spans, metrics and logs.
	Instrumentation *observe.Instrumentation
}

const defaultMaxBodyBytes = 1 << 20

type keySource struct {
	issuer   string
	uri      string
	executor *resilience.Executor

	// refresh gates forced refreshes triggered by unknown key ids.
	refresh *resilience.Executor
}

// KeyResolver fetches and caches signing-key sets per issuer.
//
// Sets are cached for the configured TTL and expire lazily on read.
// Concurrent misses for one issuer share a single fetch. A failed fetch
// never falls back to an expired set.
type KeyResolver struct {
	config ResolverConfig
	cache  cache.Store[*SigningKeySet]
	inst   *observe.Instrumentation
	group  singleflight.Group

	mu      sync.RWMutex
	sources map[string]*keySource
}

// NewKeyResolver creates a resolver with no registered issuers.
func NewKeyResolver(config ResolverConfig) *KeyResolver {
	config.TTL = cache.KeySetPolicy().EffectiveTTL(config.TTL)
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 5 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.RefreshRate <= 0 {
		config.RefreshRate = 0.1
	}
	if config.RefreshBurst <= 0 {
		config.RefreshBurst = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &KeyResolver{
		config:  config,
		cache:   cache.NewMemory[*SigningKeySet](cache.WithClock(config.Now)),
		inst:    config.Instrumentation.OrNoop(),
		sources: make(map[string]*keySource),
	}
}

// Register associates an issuer with the URI of its key set.
// Both must be absolute http(s) URLs; the issuer may not carry a query
// or fragment.
func (r *KeyResolver) Register(issuer, keySourceURI string) error {
	if err := ValidateIssuer(issuer); err != nil {
		return err
	}
	u, err := url.Parse(keySourceURI)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: key source uri %q must be an http(s) URL", ErrConfiguration, keySourceURI)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         issuer,
		MaxFailures:  r.config.MaxFailures,
		ResetTimeout: r.config.ResetTimeout,
		Now:          r.config.Now,
		OnStateChange: func(name string, from, to resilience.State) {
			r.inst.Logger.Warn(context.Background(), "keys.circuit_changed",
				observe.F("issuer", name),
				observe.F("from", from.String()),
				observe.F("to", to.String()),
			)
		},
	})

	src := &keySource{
		issuer: issuer,
		uri:    keySourceURI,
		executor: resilience.NewExecutor(
			resilience.WithCircuitBreaker(breaker),
			resilience.WithTimeout(r.config.FetchTimeout),
		),
		refresh: resilience.NewExecutor(
			resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
				Rate:  r.config.RefreshRate,
				Burst: r.config.RefreshBurst,
				Now:   r.config.Now,
			})),
		),
	}

	r.mu.Lock()
	r.sources[issuer] = src
	r.mu.Unlock()
	r.cache.Delete(issuer)
	return nil
}

// ValidateIssuer checks that issuer is an absolute http(s) URL with a host
// and no query, fragment or user info.
func ValidateIssuer(issuer string) error {
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("%w: issuer %q: %v", ErrConfiguration, issuer, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: issuer %q must use http or https", ErrConfiguration, issuer)
	}
	if u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return fmt.Errorf("%w: issuer %q is not a valid origin", ErrConfiguration, issuer)
	}
	return nil
}

func (r *KeyResolver) source(issuer string) (*keySource, error) {
	r.mu.RLock()
	src, ok := r.sources[issuer]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: issuer %q is not registered", ErrConfiguration, issuer)
	}
	return src, nil
}

// Resolve returns the key set for issuer, fetching it when the cached
// set is missing or expired.
func (r *KeyResolver) Resolve(ctx context.Context, issuer string) (*SigningKeySet, error) {
	set, _, err := r.resolve(ctx, issuer)
	return set, err
}

// resolve also reports whether this call's result came from a fetch.
func (r *KeyResolver) resolve(ctx context.Context, issuer string) (*SigningKeySet, bool, error) {
	src, err := r.source(issuer)
	if err != nil {
		return nil, false, err
	}
	if set, ok := r.cache.Get(issuer); ok {
		return set, false, nil
	}

	// Joiners share the leader's fetch; the fetch itself outlives a
	// cancelled leader and is bounded by the fetch timeout instead.
	ch := r.group.DoChan(issuer, func() (any, error) {
		if set, ok := r.cache.Get(issuer); ok {
			return set, nil
		}
		return r.fetch(context.WithoutCancel(ctx), src)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*SigningKeySet), true, nil
	case <-ctx.Done():
		return nil, false, rejectWith(ErrKeySourceUnavailable, ctx.Err(), "fetch abandoned")
	}
}

// Key returns the key identified by kid. A kid missing from a cached set
// triggers one rate-limited refresh before ErrUnknownKey is returned.
func (r *KeyResolver) Key(ctx context.Context, issuer, kid string) (SigningKey, error) {
	set, fetched, err := r.resolve(ctx, issuer)
	if err != nil {
		return SigningKey{}, err
	}
	if k, ok := set.Lookup(kid); ok {
		return k, nil
	}
	if fetched {
		return SigningKey{}, reject(ErrUnknownKey, "kid %q", kid)
	}

	src, err := r.source(issuer)
	if err != nil {
		return SigningKey{}, err
	}
	err = src.refresh.Execute(ctx, func(ctx context.Context) error {
		r.Invalidate(issuer)
		var err error
		set, _, err = r.resolve(ctx, issuer)
		return err
	})
	if errors.Is(err, resilience.ErrRateLimitExceeded) {
		return SigningKey{}, reject(ErrUnknownKey, "kid %q, refresh rate limited", kid)
	}
	if err != nil {
		return SigningKey{}, err
	}
	if k, ok := set.Lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, reject(ErrUnknownKey, "kid %q", kid)
}

// Invalidate drops the cached set for issuer.
func (r *KeyResolver) Invalidate(issuer string) {
	r.cache.Delete(issuer)
}

// Circuit reports a snapshot of the issuer's fetch circuit.
func (r *KeyResolver) Circuit(issuer string) (resilience.CircuitBreakerMetrics, error) {
	src, err := r.source(issuer)
	if err != nil {
		return resilience.CircuitBreakerMetrics{}, err
	}
	return src.executor.CircuitBreaker().Metrics(), nil
}

func (r *KeyResolver) fetch(ctx context.Context, src *keySource) (*SigningKeySet, error) {
	start := r.config.Now()
	var set *SigningKeySet

	err := r.inst.Span(ctx, "auth.key_fetch", func(ctx context.Context) error {
		return src.executor.Execute(ctx, func(ctx context.Context) error {
			body, err := r.get(ctx, src.uri)
			if err != nil {
				return err
			}
			set, err = ParseKeySet(src.issuer, body, r.config.Now())
			return err
		})
	}, attribute.String("issuer", src.issuer))

	elapsed := r.config.Now().Sub(start)
	r.inst.Metrics.RecordKeyFetch(ctx, src.issuer, elapsed, err)

	if err != nil {
		r.inst.Logger.Error(ctx, "keys.fetch_failed",
			observe.F("issuer", src.issuer),
			observe.F("uri", src.uri),
			observe.F("code", "key_source_unavailable"),
			observe.F("circuit_open", errors.Is(err, resilience.ErrCircuitOpen)),
			observe.F("error", err),
		)
		return nil, rejectWith(ErrKeySourceUnavailable, err, src.issuer)
	}

	if err := r.cache.Set(src.issuer, set, r.config.TTL); err != nil {
		return nil, rejectWith(ErrKeySourceUnavailable, err, src.issuer)
	}
	r.inst.Logger.Info(ctx, "keys.refreshed",
		observe.F("issuer", src.issuer),
		observe.F("keys", set.Len()),
		observe.F("duration", elapsed),
	)
	return set, nil
}

func (r *KeyResolver) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/jwk-set+json")

	resp, err := r.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key set: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}
	if int64(len(body)) > r.config.MaxBodyBytes {
		return nil, fmt.Errorf("key set exceeds %d bytes", r.config.MaxBodyBytes)
	}
	return body, nil
}
