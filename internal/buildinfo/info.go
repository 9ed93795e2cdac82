// Package buildinfo holds version information set at link time.
package buildinfo

var (
	Version    = "v0.1.0"
	CommitHash = "unknown"
)
