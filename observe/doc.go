// Package observe provides the telemetry used by the authorization gate:
// OpenTelemetry tracing and metrics, and a zerolog-backed structured logger
// that redacts credential-bearing fields.
//
// Consumers build an Observer once at startup and derive an
// Instrumentation from it; components that receive no Instrumentation use
// Noop, which discards everything.
package observe
