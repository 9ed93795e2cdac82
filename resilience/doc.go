// Package resilience guards calls to remote dependencies.
//
// The gate uses it around signing-key fetches: a Timeout bounds each fetch,
// a CircuitBreaker stops hammering a key source that keeps failing, and a
// RateLimiter caps how often an unknown key ID may force a refresh.
// An Executor composes the three in a fixed order.
//
// Every primitive accepts a Now function so tests can drive time
// explicitly. All types are safe for concurrent use.
package resilience
