package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "https://mcp.example.com"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testKey struct {
	kid    string
	method jwt.SigningMethod
	signer any
	public any
}

func newRSAKey(t testing.TB, kid string) testKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return testKey{kid: kid, method: jwt.SigningMethodRS256, signer: priv, public: &priv.PublicKey}
}

func newECKey(t testing.TB, kid string) testKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return testKey{kid: kid, method: jwt.SigningMethodES256, signer: priv, public: &priv.PublicKey}
}

func newEd25519Key(t testing.TB, kid string) testKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testKey{kid: kid, method: jwt.SigningMethodEdDSA, signer: priv, public: pub}
}

func newHMACKey(kid string) testKey {
	secret := []byte("0123456789abcdef0123456789abcdef")
	return testKey{kid: kid, method: jwt.SigningMethodHS256, signer: secret, public: secret}
}

func (k testKey) signingKey() SigningKey {
	return SigningKey{KeyID: k.kid, Use: "sig", Key: k.public}
}

func (k testKey) sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(k.method, claims)
	if k.kid != "" {
		tok.Header["kid"] = k.kid
	}
	s, err := tok.SignedString(k.signer)
	require.NoError(t, err)
	return s
}

func jwksDocument(t testing.TB, keys ...testKey) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for _, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.public,
			KeyID:     k.kid,
			Algorithm: k.method.Alg(),
			Use:       "sig",
		})
	}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	return b
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "alice",
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "mcp:tools:read mcp:tools:write",
	}
}

// keyServer serves a swappable JWKS document and counts fetches.
type keyServer struct {
	*httptest.Server

	hits   atomic.Int32
	mu     sync.Mutex
	body   []byte
	status int
	delay  time.Duration
}

func newKeyServer(t testing.TB, body []byte) *keyServer {
	t.Helper()
	ks := &keyServer{body: body, status: http.StatusOK}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		ks.mu.Lock()
		body, status, delay := ks.body, ks.status, ks.delay
		ks.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *keyServer) set(body []byte, status int) {
	ks.mu.Lock()
	ks.body, ks.status = body, status
	ks.mu.Unlock()
}

func (ks *keyServer) setDelay(d time.Duration) {
	ks.mu.Lock()
	ks.delay = d
	ks.mu.Unlock()
}

func (ks *keyServer) fetches() int {
	return int(ks.hits.Load())
}

// staticKeys is a KeySource over a fixed map.
type staticKeys map[string]SigningKey

func (s staticKeys) Key(_ context.Context, issuer, kid string) (SigningKey, error) {
	if issuer != testIssuer {
		return SigningKey{}, fmt.Errorf("%w: unexpected issuer %q", ErrConfiguration, issuer)
	}
	k, ok := s[kid]
	if !ok {
		return SigningKey{}, reject(ErrUnknownKey, "kid %q", kid)
	}
	return k, nil
}
