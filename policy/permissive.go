package policy

import "context"

// Permissive allows any caller that has a subject.
type Permissive struct{}

func (Permissive) Evaluate(_ context.Context, in *Input) (Verdict, error) {
	if in == nil || in.Identity.Subject == "" {
		return Deny("missing subject"), nil
	}
	return Allow("authenticated"), nil
}

func (Permissive) Mode() Mode { return ModePermissive }

// Disabled allows everything. The gate does not call it; it exists so a
// disabled configuration still yields an Evaluator.
type Disabled struct{}

func (Disabled) Evaluate(context.Context, *Input) (Verdict, error) {
	return Allow("policy disabled"), nil
}

func (Disabled) Mode() Mode { return ModeDisabled }
