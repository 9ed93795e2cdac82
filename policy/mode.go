package policy

import "strings"

// Mode selects the evaluator built by New.
type Mode string

const (
	ModePermissive Mode = "permissive"
	ModeRoleBased  Mode = "role-based"
	ModeCustom     Mode = "custom"
	ModeDisabled   Mode = "disabled"
)

var modeAliases = map[string]Mode{
	"":           ModePermissive,
	"permissive": ModePermissive,
	"default":    ModePermissive,
	"role-based": ModeRoleBased,
	"rbac":       ModeRoleBased,
	"custom":     ModeCustom,
	"disabled":   ModeDisabled,
	"none":       ModeDisabled,
}

// ParseMode accepts a mode name or one of its aliases, case-insensitively.
// The empty string selects ModePermissive.
func ParseMode(s string) (Mode, error) {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return "", invalidf("unknown policy mode %q", s)
}

// Engine selects the language of a custom document.
type Engine string

const (
	EngineCedar Engine = "cedar"
	EngineExpr  Engine = "expr"
)

// ParseEngine accepts an engine name. The empty string selects EngineCedar.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EngineCedar, nil
	case EngineCedar, EngineExpr:
		return e, nil
	default:
		return "", invalidf("unknown policy engine %q", s)
	}
}
