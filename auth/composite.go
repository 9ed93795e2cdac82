package auth

import (
	"context"
	"fmt"
	"strings"
)

// CredentialValidator turns a bearer credential into verified Claims.
// *Validator and *Introspector implement it.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (*Claims, error)
}

// Composite routes each credential to exactly one validator by its shape.
// Three dot-separated segments go to the signed-credential validator;
// anything else goes to the opaque validator when one is configured.
//
// A credential is never retried against the other validator, so a
// rejected signed credential cannot be replayed through introspection.
type Composite struct {
	signed CredentialValidator
	opaque CredentialValidator
}

// NewComposite returns a Composite. opaque may be nil.
func NewComposite(signed, opaque CredentialValidator) (*Composite, error) {
	if signed == nil {
		return nil, fmt.Errorf("%w: composite needs a signed-credential validator", ErrConfiguration)
	}
	return &Composite{signed: signed, opaque: opaque}, nil
}

// Validate dispatches credential by shape.
func (c *Composite) Validate(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	if c.opaque != nil && strings.Count(credential, ".") != 2 {
		return c.opaque.Validate(ctx, credential)
	}
	return c.signed.Validate(ctx, credential)
}
