package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/policy"
)

// Authorizer decides on one request. *Gate implements it.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) Decision
}

// OperationFunc derives the operation being authorized from an HTTP
// request. An error answers an authenticated request with 400; a request
// without a usable credential is denied with 401 instead.
type OperationFunc func(r *http.Request) (policy.Operation, error)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Realm is reported in challenges when set.
	Realm string

	// ResourceMetadata is the URL of the protected-resource metadata
	// document, reported in challenges when set.
	ResourceMetadata string

	// Operation derives the operation. Default: JSONRPCOperation with
	// DefaultMaxBodyBytes.
	Operation OperationFunc
}

// ErrorResponse is the JSON body of a 400, 401 or 403 answer.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Middleware authorizes each request using a before calling next. Denied
// requests are answered with 401 or 403, a WWW-Authenticate challenge and
// an ErrorResponse body. Allowed requests reach next with the verified
// claims in their context (see auth.ClaimsFromContext).
func Middleware(a Authorizer, config MiddlewareConfig) func(http.Handler) http.Handler {
	operation := config.Operation
	if operation == nil {
		operation = JSONRPCOperation(DefaultMaxBodyBytes)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, credErr := auth.BearerFromRequest(r)
			if errors.Is(credErr, auth.ErrMissingCredential) {
				credErr = nil
			}

			op, err := operation(r)
			if err != nil {
				if credential != "" && credErr == nil {
					writeError(w, http.StatusBadRequest, ErrorResponse{
						Error:            "invalid_request",
						ErrorDescription: describeOperationError(err),
					})
					return
				}
				// Without a usable credential the call is denied at
				// authentication, which answers with the challenge.
				op = policy.Operation{Name: r.Method}
			}

			d := a.Authorize(r.Context(), Request{
				Credential:      credential,
				CredentialError: credErr,
				Method:          r.Method,
				Path:            r.URL.Path,
				Headers:         flattenHeaders(r.Header),
				Operation:       op,
			})
			if !d.Allowed() {
				w.Header().Set("WWW-Authenticate", d.Challenge(config.Realm, config.ResourceMetadata))
				body := ErrorResponse{Error: d.ErrorCode(), ErrorDescription: d.Reason}
				if body.Error == "" {
					body.Error = "unauthorized"
				}
				writeError(w, d.HTTPStatus(), body)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), d.Claims)))
		})
	}
}

// describeOperationError returns a client-facing description that never
// carries decoder detail.
func describeOperationError(err error) string {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return errBodyTooLarge.Error()
	case errors.Is(err, errBatch):
		return errBatch.Error()
	case errors.Is(err, errAmbiguous):
		return errAmbiguous.Error()
	default:
		return "malformed request body"
	}
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
