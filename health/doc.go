// Package health reports whether the gate can serve traffic.
//
// A Checker reports one component. The Aggregator runs its checkers
// concurrently under a deadline and folds the results into a Report. The
// gate registers a KeySourceChecker per issuer: the gate cannot
// authenticate anyone without signing keys, so readiness follows the key
// source. When introspection is configured, a CircuitChecker reports the
// introspection endpoint from its circuit state.
//
// HTTP handlers:
//
//	/healthz  liveness, always 200
//	/readyz   readiness, 503 when any check is unhealthy
//	/health   the full Report as JSON; ?check=<name> for one checker
package health
