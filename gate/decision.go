package gate

import (
	"net/http"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
)

// Verdict is the outcome of a Decision.
type Verdict string

const (
	Allowed Verdict = "allow"
	Denied  Verdict = "deny"
)

// Stage is where a Decision was reached.
type Stage string

const (
	StageAuthentication Stage = "authentication"
	StageAuthorization  Stage = "authorization"
)

// Codes for authorization-stage outcomes. Authentication codes come from
// auth.Code.
const (
	CodePolicyDenied     = "policy_denied"
	CodePolicyEvaluation = "policy_evaluation_error"
	CodeCancelled        = "cancelled"
)

// Decision is the result of Authorize.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
	Stage   Stage   `json:"stage"`

	// Code is the taxonomy code. It is for logs and metrics and never
	// crosses the boundary.
	Code string `json:"-"`

	// RequiredScopes are the scopes a denying policy asked for.
	RequiredScopes []string `json:"required_scopes,omitempty"`

	// Claims are set once authentication succeeded.
	Claims *auth.Claims `json:"-"`
}

func allow(stage Stage, reason string, claims *auth.Claims) Decision {
	return Decision{Verdict: Allowed, Reason: reason, Stage: stage, Claims: claims}
}

func deny(stage Stage, reason, code string) Decision {
	return Decision{Verdict: Denied, Reason: reason, Stage: stage, Code: code}
}

// Allowed reports whether the call may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == Allowed
}

// HTTPStatus maps the decision to a response status: 200 when allowed,
// 401 for authentication failures and 403 for authorization failures.
func (d Decision) HTTPStatus() int {
	switch {
	case d.Allowed():
		return http.StatusOK
	case d.Stage == StageAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// ErrorCode returns the RFC 6750 error code: invalid_token for rejected
// credentials, insufficient_scope for authorization denials and "" when
// allowed or when no credential was presented.
func (d Decision) ErrorCode() string {
	switch {
	case d.Allowed():
		return ""
	case d.Stage == StageAuthentication:
		if d.Code == auth.Code(auth.ErrMissingCredential) {
			return ""
		}
		return "invalid_token"
	default:
		return "insufficient_scope"
	}
}

// Challenge builds a WWW-Authenticate value for a denial, or "" when
// allowed. realm and resourceMetadata are omitted when empty.
func (d Decision) Challenge(realm, resourceMetadata string) string {
	if d.Allowed() {
		return ""
	}

	var params []string
	add := func(name, value string) {
		params = append(params, name+`="`+quote(value)+`"`)
	}

	if realm != "" {
		add("realm", realm)
	}
	if code := d.ErrorCode(); code != "" {
		add("error", code)
		if d.Reason != "" {
			add("error_description", d.Reason)
		}
	}
	if len(d.RequiredScopes) > 0 {
		add("scope", strings.Join(d.RequiredScopes, " "))
	}
	if resourceMetadata != "" {
		add("resource_metadata", resourceMetadata)
	}

	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return quoteReplacer.Replace(s)
}
