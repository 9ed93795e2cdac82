package auth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeySet(t *testing.T) {
	rsaKey := newRSAKey(t, "rsa-1")
	ecKey := newECKey(t, "ec-1")
	edKey := newEd25519Key(t, "ed-1")
	hmacKey := newHMACKey("hs-1")

	body := jwksDocument(t, rsaKey, ecKey, edKey, hmacKey)
	set, err := ParseKeySet(testIssuer, body, testEpoch)
	require.NoError(t, err)

	assert.Equal(t, testIssuer, set.Issuer)
	assert.True(t, set.FetchedAt.Equal(testEpoch))
	assert.Equal(t, []string{"rsa-1", "ec-1", "ed-1", "hs-1"}, set.KeyIDs())

	tests := []struct {
		kid     string
		wantKty string
		want    any
	}{
		{"rsa-1", "RSA", &rsa.PublicKey{}},
		{"ec-1", "EC", &ecdsa.PublicKey{}},
		{"ed-1", "OKP", ed25519.PublicKey{}},
		{"hs-1", "oct", []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.kid, func(t *testing.T) {
			k, ok := set.Lookup(tt.kid)
			require.True(t, ok)
			assert.Equal(t, tt.wantKty, k.KeyType())
			assert.IsType(t, tt.want, k.Key)
		})
	}
}

func TestParseKeySet_SkipsUnusableKeys(t *testing.T) {
	good := newRSAKey(t, "good")
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(jwksDocument(t, good), &doc))
	encKey, err := json.Marshal(jose.JSONWebKey{Key: newRSAKey(t, "enc").public, KeyID: "enc", Use: "enc"})
	require.NoError(t, err)
	doc.Keys = append([]json.RawMessage{
		json.RawMessage(`{"kty":"RSA","kid":"broken","n":"!!","e":"AQAB"}`),
		json.RawMessage(`{"kty":"unknown","kid":"alien"}`),
		encKey,
	}, doc.Keys...)
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	set, err := ParseKeySet(testIssuer, body, testEpoch)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len(), "ids %v", set.KeyIDs())
	_, ok := set.Lookup("good")
	assert.True(t, ok)
}

func TestParseKeySet_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"empty set", `{"keys":[]}`},
		{"only broken keys", `{"keys":[{"kty":"RSA","kid":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeySet(testIssuer, []byte(tt.body), testEpoch)
			assert.Error(t, err)
		})
	}
}

func TestParseKeySet_StripsPrivateMaterial(t *testing.T) {
	k := newRSAKey(t, "leaky")
	body, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: k.signer, KeyID: "leaky", Use: "sig"}}})
	require.NoError(t, err)

	set, err := ParseKeySet(testIssuer, body, testEpoch)
	require.NoError(t, err)
	got, _ := set.Lookup("leaky")
	assert.IsType(t, &rsa.PublicKey{}, got.Key)
}

func TestSigningKeySet_Lookup(t *testing.T) {
	a := SigningKey{KeyID: "a", Use: "enc", Key: []byte("a")}
	b := SigningKey{KeyID: "b", Use: "sig", Key: []byte("b")}
	dup := SigningKey{KeyID: "b", Use: "sig", Key: []byte("dup")}
	set := NewSigningKeySet(testIssuer, testEpoch, []SigningKey{a, b, dup})

	assert.Equal(t, 2, set.Len())
	got, ok := set.Lookup("")
	require.True(t, ok, "empty kid should select the first signature key")
	assert.Equal(t, "b", got.KeyID)

	got, _ = set.Lookup("b")
	assert.Equal(t, []byte("b"), got.Key, "duplicate kid replaced the first key")

	_, ok = set.Lookup("missing")
	assert.False(t, ok)

	empty := NewSigningKeySet(testIssuer, testEpoch, []SigningKey{a})
	_, ok = empty.Lookup("")
	assert.False(t, ok, "empty kid should skip encryption keys")
}
