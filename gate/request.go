package gate

import (
	"fmt"

	"github.com/jonwraymond/toolgate/policy"
)

// Request is the normalized descriptor of one inbound call.
type Request struct {
	// Credential is the raw bearer credential. Empty means none was sent.
	Credential string

	// CredentialError records a failed extraction, such as a malformed
	// Authorization header. When set, Credential is ignored and the call
	// is denied at authentication.
	CredentialError error

	Method    string
	Path      string
	Headers   map[string]string
	Operation policy.Operation
}

// String describes the request without its credential.
func (r Request) String() string {
	return fmt.Sprintf("%s %s op=%s target=%s", r.Method, r.Path, r.Operation.Name, r.Operation.Target)
}

func (r Request) policyRequest() policy.Request {
	return policy.Request{Method: r.Method, Path: r.Path, Headers: r.Headers}
}
