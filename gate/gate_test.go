package gate

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/policy"
)

func TestNew_Config(t *testing.T) {
	_, err := New(Config{Evaluator: policy.Permissive{}})
	assert.ErrorIs(t, err, auth.ErrConfiguration)

	_, err = New(Config{Validator: &stubValidator{}})
	assert.ErrorIs(t, err, auth.ErrConfiguration)

	g, err := New(Config{Validator: &stubValidator{}, Evaluator: policy.Disabled{}})
	require.NoError(t, err)
	assert.Equal(t, policy.ModeDisabled, g.Mode())
}

func TestAuthorize_PermissiveAllowsValidCredential(t *testing.T) {
	k := newSigner(t, testKid)
	g := newGate(t, newValidator(t, k), policy.Permissive{})

	d := g.Authorize(context.Background(), Request{
		Credential: k.sign(t, claimsFor("alice", "read")),
		Operation:  policy.Operation{Name: "tools/list"},
	})

	assert.True(t, d.Allowed())
	assert.Equal(t, StageAuthorization, d.Stage)
	assert.Empty(t, d.Code)
	require.NotNil(t, d.Claims)
	assert.Equal(t, "alice", d.Claims.Subject)
	assert.Equal(t, []string{"read"}, d.Claims.Scopes)
	assert.Equal(t, 200, d.HTTPStatus())
}

func TestAuthorize_UnverifiableKeyNeverAllowed(t *testing.T) {
	known := newSigner(t, testKid)
	g := newGate(t, newValidator(t, known), policy.Permissive{})

	tests := []struct {
		name     string
		signer   signer
		wantCode string
	}{
		{name: "kid not in set", signer: newSigner(t, "k2"), wantCode: "unknown_key"},
		{name: "kid in set, different key", signer: newSigner(t, testKid), wantCode: "invalid_signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Authorize(context.Background(), Request{
				Credential: tt.signer.sign(t, claimsFor("alice", "read")),
				Operation:  policy.Operation{Name: "tools/list"},
			})
			assert.False(t, d.Allowed())
			assert.Equal(t, StageAuthentication, d.Stage)
			assert.Equal(t, tt.wantCode, d.Code)
			assert.Nil(t, d.Claims)
			assert.Equal(t, 401, d.HTTPStatus())
		})
	}
}

func TestAuthorize_ExpiredDeniedInEveryMode(t *testing.T) {
	k := newSigner(t, testKid)
	claims := claimsFor("alice", "admin mcp:tools:read")
	claims["exp"] = testNow.Add(-auth.DefaultLeeway - time.Second).Unix()
	credential := k.sign(t, claims)

	docs := map[string]policy.Document{
		"permissive": {Mode: policy.ModePermissive},
		"role-based": {Mode: policy.ModeRoleBased},
		"cedar":      {Mode: policy.ModeCustom, Source: []byte(`permit (principal, action, resource);`)},
		"expr":       {Mode: policy.ModeCustom, Engine: policy.EngineExpr, Source: []byte(`allow: 'true'`)},
		"disabled":   {Mode: policy.ModeDisabled},
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			ev, err := policy.New(doc)
			require.NoError(t, err)
			g := newGate(t, newValidator(t, k), ev)

			d := g.Authorize(context.Background(), Request{
				Credential: credential,
				Operation:  policy.Operation{Name: "tools/list"},
			})
			assert.False(t, d.Allowed())
			assert.Equal(t, StageAuthentication, d.Stage)
			assert.Equal(t, "expired", d.Code)
			assert.Equal(t, "Token has expired", d.Reason)
		})
	}
}

func TestAuthorize_WithinLeewayAllowed(t *testing.T) {
	k := newSigner(t, testKid)
	claims := claimsFor("alice", "")
	claims["exp"] = testNow.Add(-auth.DefaultLeeway + time.Second).Unix()

	g := newGate(t, newValidator(t, k), policy.Permissive{})
	d := g.Authorize(context.Background(), Request{Credential: k.sign(t, claims)})
	assert.True(t, d.Allowed())
}

func TestAuthorize_EvaluatorFailureDenies(t *testing.T) {
	tests := []struct {
		name string
		ev   *stubEvaluator
	}{
		{name: "error", ev: &stubEvaluator{err: errors.New("boom")}},
		{name: "evaluation error", ev: &stubEvaluator{err: policy.ErrPolicyEvaluation}},
		{name: "panic", ev: &stubEvaluator{panic: "kaboom"}},
		{name: "panic with allow verdict", ev: &stubEvaluator{verdict: policy.Allow("x"), panic: errors.New("kaboom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubValidator{claims: &auth.Claims{Subject: "alice"}}
			g := newGate(t, v, tt.ev)

			d := g.Authorize(context.Background(), Request{Credential: "opaque"})
			assert.False(t, d.Allowed())
			assert.Equal(t, StageAuthorization, d.Stage)
			assert.Equal(t, "policy evaluation failed", d.Reason)
			assert.Equal(t, CodePolicyEvaluation, d.Code)
			assert.Equal(t, 403, d.HTTPStatus())
			assert.EqualValues(t, 1, tt.ev.calls.Load())
		})
	}
}

func TestAuthorize_RoleBasedInsufficientScope(t *testing.T) {
	k := newSigner(t, testKid)
	ev, err := policy.New(policy.Document{
		Mode:   policy.ModeRoleBased,
		Source: []byte("rules:\n  - operation: write_item\n    scopes: [write]\n"),
	})
	require.NoError(t, err)
	g := newGate(t, newValidator(t, k), ev)

	d := g.Authorize(context.Background(), Request{
		Credential: k.sign(t, claimsFor("alice", "read")),
		Operation:  policy.Operation{Name: "write_item"},
	})

	assert.False(t, d.Allowed())
	assert.Equal(t, StageAuthorization, d.Stage)
	assert.Equal(t, "insufficient scope: write_item requires write", d.Reason)
	assert.Equal(t, []string{"write"}, d.RequiredScopes)
	assert.Equal(t, CodePolicyDenied, d.Code)
	require.NotNil(t, d.Claims)
	assert.Equal(t, "alice", d.Claims.Subject)
}

func TestAuthorize_MissingCredential(t *testing.T) {
	for _, credential := range []string{"", "   "} {
		v := &stubValidator{claims: &auth.Claims{Subject: "alice"}}
		ev := &stubEvaluator{verdict: policy.Allow("ok")}
		g := newGate(t, v, ev)

		d := g.Authorize(context.Background(), Request{Credential: credential})

		assert.False(t, d.Allowed())
		assert.Equal(t, StageAuthentication, d.Stage)
		assert.Equal(t, "missing credential", d.Reason)
		assert.Equal(t, "missing_credential", d.Code)
		assert.Zero(t, v.calls.Load())
		assert.Zero(t, ev.calls.Load())
	}
}

func TestAuthorize_CredentialError(t *testing.T) {
	v := &stubValidator{claims: &auth.Claims{Subject: "alice"}}
	ev := &stubEvaluator{verdict: policy.Allow("ok")}
	g := newGate(t, v, ev)

	_, credErr := auth.BearerFromHeader(map[string][]string{"Authorization": {"Bearer a", "Bearer b"}})
	require.Error(t, credErr)

	d := g.Authorize(context.Background(), Request{Credential: "ignored", CredentialError: credErr})
	assert.False(t, d.Allowed())
	assert.Equal(t, "malformed_credential", d.Code)
	assert.Zero(t, v.calls.Load())
	assert.Zero(t, ev.calls.Load())
}

func TestAuthorize_DisabledAllowsAfterAuthentication(t *testing.T) {
	k := newSigner(t, testKid)
	ev := &stubEvaluator{verdict: policy.Deny("never"), mode: policy.ModeDisabled}
	g := newGate(t, newValidator(t, k), ev)

	d := g.Authorize(context.Background(), Request{
		Credential: k.sign(t, claimsFor("alice", "")),
		Operation:  policy.Operation{Name: "tools/call", Target: "drop_table"},
	})
	assert.True(t, d.Allowed())
	assert.Equal(t, StageAuthentication, d.Stage)
	assert.Zero(t, ev.calls.Load())

	d = g.Authorize(context.Background(), Request{Credential: "not-a-token"})
	assert.False(t, d.Allowed())
	assert.Equal(t, "malformed_credential", d.Code)
}

func TestAuthorize_AudienceMismatch(t *testing.T) {
	k := newSigner(t, testKid)
	g := newGate(t, newValidator(t, k), policy.Permissive{})

	claims := claimsFor("alice", "")
	claims["aud"] = []string{"https://other.example.com", "https://third.example.com"}
	d := g.Authorize(context.Background(), Request{Credential: k.sign(t, claims)})

	assert.False(t, d.Allowed())
	assert.Equal(t, StageAuthentication, d.Stage)
	assert.Equal(t, "audience_mismatch", d.Code)
	assert.Equal(t, "Invalid token audience", d.Reason)

	claims["aud"] = []string{"https://other.example.com", testAudience}
	d = g.Authorize(context.Background(), Request{Credential: k.sign(t, claims)})
	assert.True(t, d.Allowed())
}

func TestAuthorize_ValidatorFailures(t *testing.T) {
	tests := []struct {
		name     string
		v        *stubValidator
		wantCode string
	}{
		{name: "panic", v: &stubValidator{panic: "kaboom"}, wantCode: auth.CodeInternal},
		{name: "nil claims", v: &stubValidator{}, wantCode: auth.CodeInternal},
		{name: "key source down", v: &stubValidator{err: auth.ErrKeySourceUnavailable}, wantCode: "key_source_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &stubEvaluator{verdict: policy.Allow("ok")}
			g := newGate(t, tt.v, ev)

			d := g.Authorize(context.Background(), Request{Credential: "opaque"})
			assert.False(t, d.Allowed())
			assert.Equal(t, StageAuthentication, d.Stage)
			assert.Equal(t, tt.wantCode, d.Code)
			assert.Equal(t, "Token validation failed", d.Reason)
			assert.Zero(t, ev.calls.Load())
		})
	}
}

func TestAuthorize_Cancelled(t *testing.T) {
	v := &stubValidator{claims: &auth.Claims{Subject: "alice"}}
	ev := &stubEvaluator{verdict: policy.Allow("ok")}
	g := newGate(t, v, ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := g.Authorize(ctx, Request{Credential: "opaque"})
	assert.False(t, d.Allowed())
	assert.Equal(t, CodeCancelled, d.Code)
	assert.Zero(t, ev.calls.Load())
}

func TestAuthorize_Idempotent(t *testing.T) {
	k := newSigner(t, testKid)
	ev, err := policy.New(policy.Document{Mode: policy.ModeRoleBased})
	require.NoError(t, err)
	g := newGate(t, newValidator(t, k), ev)

	req := Request{
		Credential: k.sign(t, claimsFor("alice", "mcp:tools:write")),
		Method:     "POST",
		Path:       "/mcp",
		Operation:  policy.Operation{Name: "tools/call", Target: "drop_table"},
	}
	first := g.Authorize(context.Background(), req)
	second := g.Authorize(context.Background(), req)
	assert.Equal(t, first, second)
	assert.False(t, first.Allowed())
	assert.Equal(t, []string{"admin"}, first.RequiredScopes)
}

func TestAuthorize_DecisionLog(t *testing.T) {
	k := newSigner(t, testKid)
	var buf bytes.Buffer
	ins := observe.Noop()
	ins.Logger = observe.NewLoggerWithWriter("debug", &buf)

	g, err := New(Config{Validator: newValidator(t, k), Evaluator: policy.Permissive{}, Instrumentation: ins, Now: fixedNow})
	require.NoError(t, err)

	credential := k.sign(t, claimsFor("alice", "read"))
	g.Authorize(context.Background(), Request{
		Credential: credential,
		Headers:    map[string]string{"Authorization": "Bearer " + credential},
		Operation:  policy.Operation{Name: "tools/list"},
	})
	g.Authorize(context.Background(), Request{Credential: "a.b.c"})

	out := buf.String()
	assert.Contains(t, out, `"authz.decision"`)
	assert.Contains(t, out, `"subject":"alice"`)
	assert.Contains(t, out, `"verdict":"allow"`)
	assert.Contains(t, out, `"code":"malformed_credential"`)
	assert.Contains(t, out, `"input":"`)
	assert.NotContains(t, out, credential)
}

func TestAuthorize_FingerprintFailureLogged(t *testing.T) {
	k := newSigner(t, testKid)
	var buf bytes.Buffer
	ins := observe.Noop()
	ins.Logger = observe.NewLoggerWithWriter("debug", &buf)

	g, err := New(Config{Validator: newValidator(t, k), Evaluator: policy.Permissive{}, Instrumentation: ins, Now: fixedNow})
	require.NoError(t, err)

	d := g.Authorize(context.Background(), Request{
		Credential: k.sign(t, claimsFor("alice", "read")),
		Operation:  policy.Operation{Name: "tools/call", Arguments: map[string]any{"n": math.Inf(1)}},
	})

	assert.True(t, d.Allowed())
	out := buf.String()
	assert.Contains(t, out, `"authz.fingerprint_failed"`)
	assert.Contains(t, out, `"authz.decision"`)
	assert.NotContains(t, out, `"input":"`)
}

func TestRequest_StringOmitsCredential(t *testing.T) {
	req := Request{Credential: "secret-token", Method: "POST", Path: "/mcp", Operation: policy.Operation{Name: "tools/list"}}
	assert.NotContains(t, req.String(), "secret-token")
	assert.Contains(t, req.String(), "tools/list")
}
