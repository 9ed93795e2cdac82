package cache

import (
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Store is a typed TTL cache.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get never errors; it returns the zero value and false on miss or expiry.
type Store[V any] interface {
	// Get returns a live entry.
	Get(key string) (V, bool)

	// Set stores value until now+ttl. A non-positive ttl stores nothing.
	Set(key string, value V, ttl time.Duration) error

	// Delete removes an entry. Idempotent.
	Delete(key string)
}

// validateKey rejects blank, multi-line and oversized keys.
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
