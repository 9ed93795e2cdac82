// Package cache provides the in-memory TTL store used for signing-key sets
// and introspection results, and the canonical fingerprinting used for
// policy inputs.
//
// Entries expire lazily: the expiry timestamp is checked on read and no
// background goroutine is started. Values are stored as-is, so callers
// should only cache immutable values.
package cache
