package policy

import (
	"bytes"
	"context"
	"fmt"
	"maps"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-yaml"
)

// ExpressionDocument is the YAML form of an expression policy.
//
//	allow: '"admin" in identity.scopes || operation.name == "tools/list"'
//	deny_reason: '"requires admin for " + operation.name'
//	data:
//	  admins: [alice]
type ExpressionDocument struct {
	Allow      string         `yaml:"allow"`
	DenyReason string         `yaml:"deny_reason,omitempty"`
	Data       map[string]any `yaml:"data,omitempty"`
}

// Expression evaluates an expr-lang boolean over the input.
// The environment holds identity, request, operation and data.
type Expression struct {
	allow      *vm.Program
	denyReason *vm.Program
	data       map[string]any
}

func expressionEnv() map[string]any {
	return map[string]any{
		"identity":  map[string]any{},
		"request":   map[string]any{},
		"operation": map[string]any{},
		"data":      map[string]any{},
	}
}

// NewExpression compiles an expression document. Entries in data
// override entries of the same name in the document's own data block.
func NewExpression(src []byte, data map[string]any) (*Expression, error) {
	var doc ExpressionDocument
	if err := yaml.NewDecoder(bytes.NewReader(src), yaml.DisallowUnknownField()).Decode(&doc); err != nil {
		return nil, invalidf("decode expression document: %v", err)
	}
	if doc.Allow == "" {
		return nil, invalidf("expression document needs an allow expression")
	}

	allow, err := expr.Compile(doc.Allow, expr.Env(expressionEnv()), expr.AsBool())
	if err != nil {
		return nil, invalidf("compile allow: %v", err)
	}

	e := &Expression{allow: allow, data: map[string]any{}}
	if doc.DenyReason != "" {
		e.denyReason, err = expr.Compile(doc.DenyReason, expr.Env(expressionEnv()))
		if err != nil {
			return nil, invalidf("compile deny_reason: %v", err)
		}
	}
	maps.Copy(e.data, doc.Data)
	maps.Copy(e.data, data)
	return e, nil
}

func (e *Expression) Evaluate(_ context.Context, in *Input) (Verdict, error) {
	if in == nil {
		return Verdict{}, evaluationError(errNilInput)
	}
	env, err := in.Env()
	if err != nil {
		return Verdict{}, evaluationError(err)
	}
	env["data"] = e.data

	out, err := expr.Run(e.allow, env)
	if err != nil {
		return Verdict{}, evaluationError(err)
	}
	allowed, ok := out.(bool)
	if !ok {
		return Verdict{}, evaluationError(fmt.Errorf("allow returned %T, want bool", out))
	}
	if allowed {
		return Allow("expression allowed"), nil
	}

	reason := "denied by expression"
	if e.denyReason != nil {
		if out, err := expr.Run(e.denyReason, env); err == nil {
			if s, ok := out.(string); ok && s != "" {
				reason = s
			}
		}
	}
	return Deny(reason), nil
}

func (e *Expression) Mode() Mode { return ModeCustom }
