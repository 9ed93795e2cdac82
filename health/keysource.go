package health

import (
	"context"
	"time"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/resilience"
)

// KeySource is the part of auth.KeyResolver a KeySourceChecker needs.
type KeySource interface {
	Resolve(ctx context.Context, issuer string) (*auth.SigningKeySet, error)
	Circuit(issuer string) (resilience.CircuitBreakerMetrics, error)
}

// KeySourceChecker reports whether an issuer's signing keys are available.
// It is healthy when the key set is cached or fetchable and degraded while
// the fetch circuit is half-open. An open circuit or a failed fetch is
// unhealthy.
type KeySourceChecker struct {
	keys   KeySource
	issuer string
}

// NewKeySourceChecker returns a checker for issuer.
func NewKeySourceChecker(keys KeySource, issuer string) *KeySourceChecker {
	return &KeySourceChecker{keys: keys, issuer: issuer}
}

func (c *KeySourceChecker) Name() string {
	return "keys:" + c.issuer
}

func (c *KeySourceChecker) Check(ctx context.Context) Result {
	circuit, err := c.keys.Circuit(c.issuer)
	if err != nil {
		return Unhealthy("issuer not registered", err)
	}
	state := circuit.State
	if state == resilience.StateOpen {
		return Unhealthy("key source circuit open", auth.ErrKeySourceUnavailable).
			WithDetails(circuitDetails(circuit))
	}

	set, err := c.keys.Resolve(ctx, c.issuer)
	if err != nil {
		return Unhealthy("key source unavailable", err).
			WithDetails(circuitDetails(circuit))
	}

	details := circuitDetails(circuit)
	details["keys"] = set.Len()
	details["key_ids"] = set.KeyIDs()
	details["fetched_at"] = set.FetchedAt.UTC().Format(time.RFC3339)
	if state == resilience.StateHalfOpen {
		return Degraded("key source recovering").WithDetails(details)
	}
	return Healthy("signing keys available").WithDetails(details)
}

func circuitDetails(m resilience.CircuitBreakerMetrics) map[string]any {
	details := map[string]any{"circuit": m.State.String()}
	if m.Failures > 0 {
		details["failures"] = m.Failures
	}
	if m.State != resilience.StateClosed && !m.OpenedAt.IsZero() {
		details["opened_at"] = m.OpenedAt.UTC().Format(time.RFC3339)
	}
	return details
}
