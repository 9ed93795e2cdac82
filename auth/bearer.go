package auth

import (
	"net/http"
	"strings"
)

const bearerScheme = "bearer"

// BearerFromRequest extracts the bearer credential from the Authorization
// header. Only the header method is accepted: an access_token query
// parameter makes the request malformed, as do two bearer headers or a
// value outside the b64token character set. A request with no bearer
// header yields ErrMissingCredential.
func BearerFromRequest(r *http.Request) (string, error) {
	if r.URL != nil && r.URL.Query().Has("access_token") {
		return "", reject(ErrMalformedCredential, "credential in query string")
	}
	return BearerFromHeader(r.Header)
}

// BearerFromHeader is BearerFromRequest for a bare header map.
func BearerFromHeader(h http.Header) (string, error) {
	var token string
	found := false
	for _, value := range h.Values("Authorization") {
		scheme, rest, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(scheme, bearerScheme) {
			continue
		}
		if found {
			return "", reject(ErrMalformedCredential, "multiple bearer credentials")
		}
		found = true
		token = strings.TrimSpace(rest)
	}

	if !found {
		return "", ErrMissingCredential
	}
	if !IsB64Token(token) {
		return "", reject(ErrMalformedCredential, "invalid bearer format")
	}
	return token, nil
}

// IsB64Token reports whether s matches the b64token production of
// RFC 6750: 1*( ALPHA / DIGIT / "-" / "." / "_" / "~" / "+" / "/" ) *"=".
func IsB64Token(s string) bool {
	body := strings.TrimRight(s, "=")
	if body == "" {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~', c == '+', c == '/':
		default:
			return false
		}
	}
	return true
}
