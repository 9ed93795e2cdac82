package auth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey is one verification key from an issuer's key set.
type SigningKey struct {
	KeyID     string
	Algorithm string // optional; empty means any algorithm compatible with the key type
	Use       string // "sig", "enc" or empty
	Key       any    // *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or []byte
}

// KeyType returns the JWK kty of the key material.
func (k SigningKey) KeyType() string {
	switch k.Key.(type) {
	case *rsa.PublicKey:
		return "RSA"
	case *ecdsa.PublicKey:
		return "EC"
	case ed25519.PublicKey:
		return "OKP"
	case []byte:
		return "oct"
	default:
		return ""
	}
}

// SigningKeySet is an immutable snapshot of an issuer's keys.
type SigningKeySet struct {
	Issuer    string
	FetchedAt time.Time

	keys  map[string]SigningKey
	order []SigningKey
}

// NewSigningKeySet builds a set from keys in document order. A later key
// with a duplicate kid does not replace an earlier one.
func NewSigningKeySet(issuer string, fetchedAt time.Time, keys []SigningKey) *SigningKeySet {
	s := &SigningKeySet{
		Issuer:    issuer,
		FetchedAt: fetchedAt,
		keys:      make(map[string]SigningKey, len(keys)),
		order:     make([]SigningKey, 0, len(keys)),
	}
	for _, k := range keys {
		if k.KeyID != "" {
			if _, dup := s.keys[k.KeyID]; dup {
				continue
			}
			s.keys[k.KeyID] = k
		}
		s.order = append(s.order, k)
	}
	return s
}

// Lookup returns the key for kid. An empty kid selects the first key
// usable for signatures.
func (s *SigningKeySet) Lookup(kid string) (SigningKey, bool) {
	if kid == "" {
		for _, k := range s.order {
			if k.Use == "" || k.Use == "sig" {
				return k, true
			}
		}
		return SigningKey{}, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of keys in the set.
func (s *SigningKeySet) Len() int {
	return len(s.order)
}

// KeyIDs returns the key ids in document order, skipping keys without one.
func (s *SigningKeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s.order))
	for _, k := range s.order {
		if k.KeyID != "" {
			ids = append(ids, k.KeyID)
		}
	}
	return ids
}

var errNoUsableKeys = errors.New("key set contains no usable keys")

// ParseKeySet decodes a JWKS document. Individual keys that cannot be
// parsed, or that are meant for encryption only, are skipped; a document
// with no usable key is an error.
func ParseKeySet(issuer string, body []byte, fetchedAt time.Time) (*SigningKeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make([]SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			continue
		}
		if jwk.Use == "enc" {
			continue
		}
		material := publicMaterial(jwk)
		if material == nil {
			continue
		}
		keys = append(keys, SigningKey{
			KeyID:     jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Use:       jwk.Use,
			Key:       material,
		})
	}

	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return NewSigningKeySet(issuer, fetchedAt, keys), nil
}

// publicMaterial strips private halves that a misconfigured key source
// may publish.
func publicMaterial(jwk jose.JSONWebKey) any {
	switch k := jwk.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public()
	case []byte:
		if len(k) == 0 {
			return nil
		}
		return k
	default:
		return nil
	}
}
