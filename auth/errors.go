package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential validation.
var (
	// Startup errors
	ErrConfiguration = errors.New("auth: configuration error")

	// Authentication errors
	ErrMissingCredential    = errors.New("auth: missing credential")
	ErrMalformedCredential  = errors.New("auth: malformed credential")
	ErrUnsupportedAlgorithm = errors.New("auth: unsupported algorithm")
	ErrInvalidSignature     = errors.New("auth: invalid signature")
	ErrIssuerMismatch       = errors.New("auth: issuer mismatch")
	ErrAudienceMismatch     = errors.New("auth: audience mismatch")
	ErrExpired              = errors.New("auth: credential expired")
	ErrNotYetValid          = errors.New("auth: credential not yet valid")
	ErrUnknownKey           = errors.New("auth: unknown signing key")
	ErrKeySourceUnavailable = errors.New("auth: key source unavailable")

	// Introspection errors
	ErrInactiveCredential       = errors.New("auth: credential not active")
	ErrIntrospectionUnavailable = errors.New("auth: introspection unavailable")
)

// ValidationError is a credential rejection with its taxonomy sentinel.
// Detail and Cause are for logs; Describe gives the public text.
type ValidationError struct {
	Kind   error
	Detail string
	Cause  error
}

func (e *ValidationError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func reject(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func rejectWith(kind, cause error, detail string) error {
	return &ValidationError{Kind: kind, Detail: detail, Cause: cause}
}

type errorInfo struct {
	code        string
	description string
}

// Ordered so the key-source outcome wins over an UnknownKey it may wrap.
var taxonomy = []struct {
	err  error
	info errorInfo
}{
	{ErrConfiguration, errorInfo{"configuration_error", "Token validation failed"}},
	{ErrKeySourceUnavailable, errorInfo{"key_source_unavailable", "Token validation failed"}},
	{ErrIntrospectionUnavailable, errorInfo{"introspection_unavailable", "Token validation failed"}},
	{ErrMissingCredential, errorInfo{"missing_credential", "missing credential"}},
	{ErrMalformedCredential, errorInfo{"malformed_credential", "Malformed token"}},
	{ErrUnsupportedAlgorithm, errorInfo{"unsupported_algorithm", "Unsupported token algorithm"}},
	{ErrInvalidSignature, errorInfo{"invalid_signature", "Invalid token signature"}},
	{ErrIssuerMismatch, errorInfo{"issuer_mismatch", "Invalid token issuer"}},
	{ErrAudienceMismatch, errorInfo{"audience_mismatch", "Invalid token audience"}},
	{ErrExpired, errorInfo{"expired", "Token has expired"}},
	{ErrNotYetValid, errorInfo{"not_yet_valid", "Token not yet valid"}},
	{ErrUnknownKey, errorInfo{"unknown_key", "Unknown key ID"}},
	{ErrInactiveCredential, errorInfo{"inactive_credential", "Token is not active"}},
}

func lookup(err error) (errorInfo, bool) {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.info, true
		}
	}
	return errorInfo{}, false
}

// CodeInternal is the code of errors outside the taxonomy.
const CodeInternal = "internal_error"

// Code returns the taxonomy code for err, CodeInternal for anything
// outside the taxonomy and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if info, ok := lookup(err); ok {
		return info.code
	}
	return CodeInternal
}

// Describe returns the description that may be shown to a caller.
// It never includes error detail.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if info, ok := lookup(err); ok {
		return info.description
	}
	return "Token validation failed"
}
