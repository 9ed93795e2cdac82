package auth

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Claims is the verified content of a credential.
//
// Claims are only produced by Validator.Validate, after the signature,
// issuer, audience and validity window have been checked, or by
// Introspector.Validate for an active credential passing the same checks.
type Claims struct {
	Subject   string
	Issuer    string
	Audiences []string

	// Scopes is sorted and free of duplicates.
	Scopes []string

	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time

	// ClientID comes from azp, falling back to client_id.
	ClientID string

	// Extra holds every claim not mapped to a field above.
	Extra map[string]any
}

var registeredClaims = []string{"sub", "iss", "aud", "exp", "nbf", "iat", "azp", "client_id", "scope", "scp"}

// Clone returns a deep-enough copy for handing to untrusted code.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	out := *c
	out.Audiences = slices.Clone(c.Audiences)
	out.Scopes = slices.Clone(c.Scopes)
	out.Extra = maps.Clone(c.Extra)
	return &out
}

// ParseScopes normalizes a scope claim: a space separated string or a
// list of strings. The result is sorted and deduplicated.
func ParseScopes(v any) []string {
	var scopes []string
	switch s := v.(type) {
	case string:
		scopes = strings.Fields(s)
	case []string:
		scopes = slices.Clone(s)
	case []any:
		for _, item := range s {
			if str, ok := item.(string); ok {
				scopes = append(scopes, strings.Fields(str)...)
			}
		}
	}
	slices.Sort(scopes)
	return slices.Compact(scopes)
}

// audiences accepts the string or array forms of aud.
func audiences(v any) ([]string, bool) {
	switch a := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{a}, true
	case []any:
		out := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func stringClaim(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func extraClaims(m map[string]any) map[string]any {
	extra := make(map[string]any, len(m))
	for k, v := range m {
		if !slices.Contains(registeredClaims, k) {
			extra[k] = v
		}
	}
	return extra
}
