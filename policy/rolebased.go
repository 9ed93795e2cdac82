package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// RoleBased evaluates a rule table. Every rule matching the operation must
// be satisfied, checked in table order; an operation no rule matches is
// denied.
type RoleBased struct {
	rules []Rule
}

// NewRoleBased validates rs and returns its evaluator.
func NewRoleBased(rs RuleSet) (*RoleBased, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &RoleBased{rules: slices.Clone(rs.Rules)}, nil
}

func (e *RoleBased) Evaluate(_ context.Context, in *Input) (Verdict, error) {
	if in == nil {
		return Verdict{}, evaluationError(errNilInput)
	}

	matched := false
	for _, r := range e.rules {
		if !r.matches(in) {
			continue
		}
		matched = true
		if missing := r.missing(in); missing != nil {
			reason := fmt.Sprintf("insufficient scope: %s requires %s",
				in.Operation.Name, strings.Join(missing, " or "))
			return Deny(reason, missing...), nil
		}
	}

	if !matched {
		return Deny("no rule for operation " + in.Operation.Name), nil
	}
	return Allow("scopes satisfied"), nil
}

func (e *RoleBased) Mode() Mode { return ModeRoleBased }

// Rules returns a copy of the rule table.
func (e *RoleBased) Rules() []Rule {
	return slices.Clone(e.rules)
}
