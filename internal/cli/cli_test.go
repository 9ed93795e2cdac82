package cli

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/goccy/go-yaml"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolgate/auth"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "https://mcp.example.com"
	testKid      = "k1"
)

// execute runs rootCmd with args from a clean state. Commands share
// global state, so these tests must not run in parallel.
func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type keyServer struct {
	priv *ecdsa.PrivateKey
	url  string
}

func newKeyServer(t *testing.T) keyServer {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &priv.PublicKey,
		KeyID:     testKid,
		Algorithm: "ES256",
		Use:       "sig",
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return keyServer{priv: priv, url: srv.URL}
}

func (k keyServer) token(t *testing.T, sub, scope string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub":   sub,
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": scope,
	})
	tok.Header["kid"] = testKid
	out, err := tok.SignedString(k.priv)
	require.NoError(t, err)
	return out
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func gateConfig(keysURL, extra string) string {
	return "expected_issuer: " + testIssuer + "\n" +
		"expected_audiences: [" + testAudience + "]\n" +
		"key_source_uri: " + keysURL + "\n" +
		"resource_url: " + testAudience + "/mcp\n" +
		extra
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, gateConfig("https://idp.example.com/jwks", "policy_mode: role-based\n"))
		_, stderr, err := execute(t, "", "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, stderr, "Configuration is valid.")
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeConfig(t, "expected_issuer: "+testIssuer+"\nkey_source_uri: https://idp.example.com/jwks\n")
		_, stderr, err := execute(t, "", "config", "validate", "--config", path)
		require.ErrorIs(t, err, auth.ErrConfiguration)
		assert.Contains(t, stderr, "Configuration is invalid.")
	})

	t.Run("env override", func(t *testing.T) {
		path := writeConfig(t, gateConfig("https://idp.example.com/jwks", ""))
		t.Setenv("TOOLGATE_POLICY_MODE", "nonsense")
		_, _, err := execute(t, "", "config", "validate", "--config", path)
		assert.Error(t, err, "the environment should override the file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute(t, "", "config", "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func decodeDecision(t *testing.T, stdout string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	return out
}

func TestDecide(t *testing.T) {
	keys := newKeyServer(t)
	path := writeConfig(t, gateConfig(keys.url, `policy_mode: custom
policy_engine: expr
policy_document: |
  allow: operation.name == "tools/call" && operation.target == "search" && operation.arguments.query != ""
  deny_reason: '"only search is allowed"'
`))

	t.Run("allow", func(t *testing.T) {
		stdout, _, err := execute(t, "", "decide", "--config", path,
			"--token", keys.token(t, "alice", "tools:call"),
			"--operation", "tools/call", "--target", "search",
			"--arguments", `{"query":"status"}`)
		require.NoError(t, err)
		out := decodeDecision(t, stdout)
		assert.Equal(t, "allow", out["verdict"])
		assert.Equal(t, float64(200), out["status"])
		assert.Equal(t, "alice", out["subject"])
	})

	t.Run("token from stdin", func(t *testing.T) {
		stdout, _, err := execute(t, keys.token(t, "bob", "")+"\n", "decide", "--config", path,
			"--token", "-", "--operation", "tools/call", "--target", "search",
			"--arguments", `{"query":"x"}`)
		require.NoError(t, err)
		assert.Equal(t, "bob", decodeDecision(t, stdout)["subject"])
	})

	t.Run("policy denial", func(t *testing.T) {
		stdout, _, err := execute(t, "", "decide", "--config", path,
			"--token", keys.token(t, "alice", ""),
			"--operation", "tools/call", "--target", "delete_everything",
			"--arguments", `{"query":"x"}`)
		require.ErrorIs(t, err, errDenied)
		out := decodeDecision(t, stdout)
		assert.Equal(t, float64(403), out["status"])
		assert.Equal(t, "authorization", out["stage"])
		assert.Equal(t, "only search is allowed", out["reason"])
		assert.Contains(t, out["challenge"], `error="insufficient_scope"`)
	})

	t.Run("missing credential", func(t *testing.T) {
		stdout, _, err := execute(t, "", "decide", "--config", path, "--operation", "tools/list")
		require.ErrorIs(t, err, errDenied)
		out := decodeDecision(t, stdout)
		assert.Equal(t, float64(401), out["status"])
		assert.Equal(t, auth.Code(auth.ErrMissingCredential), out["code"])
		assert.Contains(t, out["challenge"], "resource_metadata=")
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, _, err := execute(t, "", "decide", "--config", path, "--arguments", "[1,2]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--arguments")
	})
}

// newProvider serves an OpenID configuration; extra members replace or
// add to the defaults.
func newProvider(t *testing.T, extra map[string]any) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		doc := map[string]any{
			"issuer":                                srv.URL,
			"jwks_uri":                              srv.URL + "/keys",
			"authorization_endpoint":                srv.URL + "/authorize",
			"token_endpoint":                        srv.URL + "/token",
			"scopes_supported":                      []string{"openid", "tools:read"},
			"code_challenge_methods_supported":      []string{"S256"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		}
		for k, v := range extra {
			doc[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	provider := newProvider(t, nil)

	t.Run("yaml", func(t *testing.T) {
		stdout, stderr, err := execute(t, "", "discover", provider.URL)
		require.NoError(t, err)
		var out discoveredConfig
		require.NoError(t, yaml.Unmarshal([]byte(stdout), &out), stdout)
		assert.Equal(t, provider.URL, out.ExpectedIssuer)
		assert.Equal(t, provider.URL+"/keys", out.KeySourceURI)
		assert.Equal(t, provider.URL+"/token", out.Discovery.TokenEndpoint)
		assert.Equal(t, []string{"S256"}, out.Discovery.CodeChallengeMethods)
		assert.Nil(t, out.Introspection)
		assert.NotContains(t, stdout, "introspection")
		assert.NotContains(t, stderr, "algorithms the gate rejects")
	})

	t.Run("json", func(t *testing.T) {
		stdout, _, err := execute(t, "", "discover", provider.URL, "-o", "json")
		require.NoError(t, err)
		var out discoveredConfig
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, provider.URL+"/keys", out.KeySourceURI)
		assert.Len(t, out.Discovery.ServerScopes, 2)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		_, _, err := execute(t, "", "discover", provider.URL+"/other")
		assert.Error(t, err)
	})

	t.Run("no issuer", func(t *testing.T) {
		_, _, err := execute(t, "", "discover")
		assert.Error(t, err)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := execute(t, "", "discover", provider.URL, "-o", "xml")
		assert.Error(t, err)
	})
}

func TestDiscover_IntrospectionEndpoint(t *testing.T) {
	provider := newProvider(t, map[string]any{"introspection_endpoint": "https://idp.example.com/introspect"})

	stdout, _, err := execute(t, "", "discover", provider.URL)
	require.NoError(t, err)
	var out discoveredConfig
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &out), stdout)
	require.NotNil(t, out.Introspection)
	assert.Equal(t, "https://idp.example.com/introspect", out.Introspection.Endpoint)
}

func TestDiscover_WarnsAboutRejectedAlgorithms(t *testing.T) {
	provider := newProvider(t, map[string]any{
		"id_token_signing_alg_values_supported": []string{"RS256", "none", "HS1"},
	})

	stdout, stderr, err := execute(t, "", "discover", provider.URL, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "key_source_uri")

	var entry struct {
		Level      string   `json:"level"`
		Message    string   `json:"message"`
		Algorithms []string `json:"algorithms"`
		Accepted   []string `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr)), &entry), stderr)
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, []string{"none", "HS1"}, entry.Algorithms)
	assert.Contains(t, entry.Accepted, "RS256")
	assert.NotContains(t, entry.Accepted, "none")
}

func TestRejectedAlgorithms(t *testing.T) {
	assert.Empty(t, rejectedAlgorithms(nil))
	assert.Empty(t, rejectedAlgorithms([]string{"RS256", "ES256", "EdDSA"}))
	assert.Equal(t, []string{"none"}, rejectedAlgorithms([]string{"none", "PS512"}))
}

func TestServe_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "expected_issuer: not-a-url\n")
	_, _, err := execute(t, "", "serve", "--config", path)
	assert.ErrorIs(t, err, auth.ErrConfiguration)
}
