package policy

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/cache"
)

// Identity is the authenticated caller as seen by policies.
type Identity struct {
	Subject   string         `json:"sub"`
	Issuer    string         `json:"iss"`
	Audiences []string       `json:"aud"`
	Scopes    []string       `json:"scopes"`
	ClientID  string         `json:"client_id,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// HasScope reports whether the identity holds scope.
func (id Identity) HasScope(scope string) bool {
	return slices.Contains(id.Scopes, scope)
}

// HasAnyScope reports whether the identity holds at least one of scopes.
// It is false for an empty list.
func (id Identity) HasAnyScope(scopes ...string) bool {
	return slices.ContainsFunc(scopes, id.HasScope)
}

// Request describes the inbound call without its credential.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

// Operation is the protocol operation being authorized.
type Operation struct {
	Name      string         `json:"name"`
	Target    string         `json:"target,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Input is everything an Evaluator may look at. Build it with NewInput
// and do not modify it afterwards.
type Input struct {
	Identity  Identity  `json:"identity"`
	Request   Request   `json:"request"`
	Operation Operation `json:"operation"`
}

// Headers that carry credentials never reach a policy.
var strippedHeaders = []string{"authorization", "cookie", "proxy-authorization"}

// NewInput builds an Input from verified claims and a request descriptor.
// Header names are lower-cased, credential headers are dropped and every
// map and slice is copied, so two calls with equal arguments produce equal
// inputs with equal fingerprints.
func NewInput(claims *auth.Claims, req Request, op Operation) *Input {
	in := &Input{
		Request: Request{
			Method:  req.Method,
			Path:    req.Path,
			Headers: make(map[string]string, len(req.Headers)),
		},
		Operation: Operation{
			Name:   op.Name,
			Target: op.Target,
		},
	}

	if claims != nil {
		in.Identity = Identity{
			Subject:   claims.Subject,
			Issuer:    claims.Issuer,
			Audiences: slices.Clone(claims.Audiences),
			Scopes:    slices.Clone(claims.Scopes),
			ClientID:  claims.ClientID,
		}
		if len(claims.Extra) > 0 {
			in.Identity.Claims = copyMap(claims.Extra)
		}
	}
	if in.Identity.Audiences == nil {
		in.Identity.Audiences = []string{}
	}
	if in.Identity.Scopes == nil {
		in.Identity.Scopes = []string{}
	}

	for k, v := range req.Headers {
		name := strings.ToLower(k)
		if slices.Contains(strippedHeaders, name) {
			continue
		}
		in.Request.Headers[name] = v
	}

	if len(op.Arguments) > 0 {
		in.Operation.Arguments = copyMap(op.Arguments)
	}
	return in
}

// Fingerprint is a short stable hash of the input, for decision logs.
func (in *Input) Fingerprint() (string, error) {
	return cache.Fingerprint(in)
}

// Env returns the input as plain JSON values keyed by identity, request
// and operation.
func (in *Input) Env() (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var env map[string]any
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return env, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
