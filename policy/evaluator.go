package policy

import "context"

// Verdict is an evaluator's answer.
type Verdict struct {
	Allow  bool
	Reason string

	// RequiredScopes lists scopes that would have satisfied a denied rule.
	// It feeds the scope parameter of a bearer challenge.
	RequiredScopes []string
}

// Allow returns an allowing verdict.
func Allow(reason string) Verdict {
	return Verdict{Allow: true, Reason: reason}
}

// Deny returns a denying verdict.
func Deny(reason string, requiredScopes ...string) Verdict {
	return Verdict{Reason: reason, RequiredScopes: requiredScopes}
}

// Evaluator decides on one Input.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Purity: no network or disk access during Evaluate.
// - Errors: a non-nil error means no verdict; callers deny.
type Evaluator interface {
	Evaluate(ctx context.Context, in *Input) (Verdict, error)

	// Mode reports which mode the evaluator implements.
	Mode() Mode
}

// Document is a policy source compiled by New.
type Document struct {
	Mode Mode

	// Engine selects the language of a custom document.
	Engine Engine

	// Source is the document text. Required for custom mode, optional for
	// role-based mode, where it replaces the built-in rule table.
	Source []byte

	// Data is reference data visible to expression documents as "data".
	Data map[string]any
}

// New compiles doc into an Evaluator.
func New(doc Document) (Evaluator, error) {
	mode, err := ParseMode(string(doc.Mode))
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModePermissive, ModeDisabled:
		if len(doc.Source) > 0 {
			return nil, invalidf("mode %s does not take a policy document", mode)
		}
		if mode == ModeDisabled {
			return Disabled{}, nil
		}
		return Permissive{}, nil

	case ModeRoleBased:
		if len(doc.Source) == 0 {
			return NewRoleBased(BuiltinRules())
		}
		rules, err := ParseRules(doc.Source)
		if err != nil {
			return nil, err
		}
		return NewRoleBased(rules)

	default:
		if len(doc.Source) == 0 {
			return nil, invalidf("custom mode requires a policy document")
		}
		engine, err := ParseEngine(string(doc.Engine))
		if err != nil {
			return nil, err
		}
		if engine == EngineExpr {
			return NewExpression(doc.Source, doc.Data)
		}
		return NewCedar(doc.Source)
	}
}
