// Package auth authenticates bearer credentials.
//
// A KeyResolver fetches and caches each issuer's signing keys. A Validator
// parses a credential, checks its algorithm, verifies its signature against
// a resolved key and checks issuer, audience and validity window, in that
// order, before returning Claims. Every rejection wraps exactly one of the
// package's sentinel errors; Code and Describe map it to a stable code and
// a description that is safe to show to a caller.
//
// BearerFromRequest extracts the credential from an HTTP request as
// described in RFC 6750, accepting the Authorization header only.
package auth
