package gate

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/policy"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "https://mcp.example.com"
	testKid      = "k1"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type signer struct {
	kid  string
	priv *ecdsa.PrivateKey
}

func newSigner(t *testing.T, kid string) signer {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return signer{kid: kid, priv: priv}
}

func (s signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.kid
	out, err := tok.SignedString(s.priv)
	require.NoError(t, err)
	return out
}

func (s signer) key() auth.SigningKey {
	return auth.SigningKey{KeyID: s.kid, Algorithm: "ES256", Use: "sig", Key: &s.priv.PublicKey}
}

// keySet is a fixed auth.KeySource.
type keySet map[string]auth.SigningKey

func (k keySet) Key(_ context.Context, _ string, kid string) (auth.SigningKey, error) {
	key, ok := k[kid]
	if !ok {
		return auth.SigningKey{}, &auth.ValidationError{Kind: auth.ErrUnknownKey, Detail: kid}
	}
	return key, nil
}

func claimsFor(sub string, scopes string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   testNow.Add(time.Hour).Unix(),
		"iat":   testNow.Add(-time.Minute).Unix(),
		"scope": scopes,
	}
}

func newValidator(t *testing.T, keys ...signer) *auth.Validator {
	t.Helper()
	set := keySet{}
	for _, k := range keys {
		set[k.kid] = k.key()
	}
	v, err := auth.NewValidator(auth.ValidatorConfig{
		Issuer:    testIssuer,
		Audiences: []string{testAudience},
		Leeway:    auth.DefaultLeeway,
		Keys:      set,
		Now:       fixedNow,
	})
	require.NoError(t, err)
	return v
}

func newGate(t *testing.T, v CredentialValidator, ev policy.Evaluator) *Gate {
	t.Helper()
	g, err := New(Config{Validator: v, Evaluator: ev, Now: fixedNow})
	require.NoError(t, err)
	return g
}

// stubEvaluator counts calls and returns a fixed answer or panics.
type stubEvaluator struct {
	calls   atomic.Int32
	verdict policy.Verdict
	err     error
	panic   any
	mode    policy.Mode
}

func (s *stubEvaluator) Evaluate(context.Context, *policy.Input) (policy.Verdict, error) {
	s.calls.Add(1)
	if s.panic != nil {
		panic(s.panic)
	}
	return s.verdict, s.err
}

func (s *stubEvaluator) Mode() policy.Mode {
	if s.mode == "" {
		return policy.ModeCustom
	}
	return s.mode
}

// stubValidator counts calls and returns fixed claims or panics.
type stubValidator struct {
	calls  atomic.Int32
	claims *auth.Claims
	err    error
	panic  any
}

func (s *stubValidator) Validate(context.Context, string) (*auth.Claims, error) {
	s.calls.Add(1)
	if s.panic != nil {
		panic(s.panic)
	}
	return s.claims, s.err
}
