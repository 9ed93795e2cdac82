package cache

import "time"

// Policy bounds the TTLs handed to a Store.
type Policy struct {
	// DefaultTTL is used when no TTL is configured.
	DefaultTTL time.Duration

	// MaxTTL caps configured TTLs. Zero means no cap.
	MaxTTL time.Duration
}

// KeySetPolicy is the policy for signing-key sets: one hour by default,
// never more than a day.
func KeySetPolicy() Policy {
	return Policy{
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
	}
}

// EffectiveTTL returns the TTL to use for a configured value.
func (p Policy) EffectiveTTL(configured time.Duration) time.Duration {
	ttl := configured
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// IntrospectionPolicy is the policy for positive introspection results:
// five minutes by default, never more than an hour.
func IntrospectionPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}
