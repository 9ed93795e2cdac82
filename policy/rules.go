package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed builtin_rules.yaml
var builtinRules []byte

// RuleSet is a role-based rule table.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Rule requires scopes for the operations it matches.
//
// Operation and Targets are globs where "*" matches any run of
// characters. An empty Targets list matches every target.
type Rule struct {
	Operation string         `yaml:"operation" json:"operation"`
	Targets   []string       `yaml:"targets,omitempty" json:"targets,omitempty"`
	Argument  *ArgumentMatch `yaml:"argument,omitempty" json:"argument,omitempty"`

	// Scopes must all be held.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// AnyScopes, when set, must have at least one member held.
	AnyScopes []string `yaml:"any_scopes,omitempty" json:"any_scopes,omitempty"`

	// Owner satisfies the rule when the target belongs to the caller: the
	// first segment after "://" equals the subject.
	Owner bool `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// ArgumentMatch narrows a rule to calls whose string argument Name
// contains one of ContainsAny, ignoring case.
type ArgumentMatch struct {
	Name        string   `yaml:"name" json:"name"`
	ContainsAny []string `yaml:"contains_any" json:"contains_any"`
}

// BuiltinRules returns the embedded MCP rule table.
func BuiltinRules() RuleSet {
	rs, err := ParseRules(builtinRules)
	if err != nil {
		panic(fmt.Sprintf("policy: builtin rules: %v", err))
	}
	return rs
}

// ParseRules decodes and checks a YAML rule table.
func ParseRules(src []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.NewDecoder(bytes.NewReader(src), yaml.DisallowUnknownField()).Decode(&rs); err != nil {
		return RuleSet{}, invalidf("decode rules: %v", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks every rule.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return invalidf("rule table is empty")
	}
	for i, r := range rs.Rules {
		if strings.TrimSpace(r.Operation) == "" {
			return invalidf("rule %d: operation is required", i)
		}
		for _, t := range r.Targets {
			if t == "" {
				return invalidf("rule %d: empty target pattern", i)
			}
		}
		if a := r.Argument; a != nil {
			if a.Name == "" || len(a.ContainsAny) == 0 {
				return invalidf("rule %d: argument needs name and contains_any", i)
			}
		}
		if r.Owner && len(r.Scopes) == 0 && len(r.AnyScopes) == 0 {
			return invalidf("rule %d: owner rule needs scopes for non-owners", i)
		}
	}
	return nil
}

func (r Rule) matches(in *Input) bool {
	if !globMatch(r.Operation, in.Operation.Name) {
		return false
	}
	if len(r.Targets) > 0 {
		hit := false
		for _, t := range r.Targets {
			if globMatch(t, in.Operation.Target) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if a := r.Argument; a != nil {
		v, ok := in.Operation.Arguments[a.Name].(string)
		if !ok {
			return false
		}
		v = strings.ToLower(v)
		for _, needle := range a.ContainsAny {
			if strings.Contains(v, strings.ToLower(needle)) {
				return true
			}
		}
		return false
	}
	return true
}

// missing returns the scopes to report when the rule is not satisfied,
// or nil when it is.
func (r Rule) missing(in *Input) []string {
	id := in.Identity
	if r.Owner && id.Subject != "" && targetOwner(in.Operation.Target) == id.Subject {
		return nil
	}

	for _, s := range r.Scopes {
		if !id.HasScope(s) {
			return []string{s}
		}
	}
	if len(r.AnyScopes) > 0 && !id.HasAnyScope(r.AnyScopes...) {
		return r.AnyScopes
	}
	return nil
}

func targetOwner(target string) string {
	_, rest, ok := strings.Cut(target, "://")
	if !ok {
		return ""
	}
	owner, _, _ := strings.Cut(rest, "/")
	return owner
}

// globMatch reports whether s matches pattern, where "*" matches any
// run of characters, including none.
func globMatch(pattern, s string) bool {
	for {
		star := strings.IndexByte(pattern, '*')
		if star < 0 {
			return pattern == s
		}
		if !strings.HasPrefix(s, pattern[:star]) {
			return false
		}
		s = s[star:]
		pattern = pattern[star+1:]
		if pattern == "" {
			return true
		}

		next := strings.IndexByte(pattern, '*')
		if next < 0 {
			return strings.HasSuffix(s, pattern)
		}
		lit := pattern[:next]
		idx := strings.Index(s, lit)
		if idx < 0 {
			return false
		}
		s = s[idx+len(lit):]
		pattern = pattern[next:]
	}
}
