package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cedar-policy/cedar-go"
)

// Cedar entity types used to build requests.
const (
	cedarPrincipalType = "User"
	cedarActionType    = "Action"
	cedarResourceType  = "Target"
)

// Cedar evaluates a Cedar policy set.
//
// The request is built as:
//
//	principal: User::"<sub>" { scopes, client_id, iss, aud }
//	action:    Action::"<operation name>"
//	resource:  Target::"<target>" { name }
//	context:   { operation, method, path, headers, arguments }
type Cedar struct {
	policies *cedar.PolicySet
}

// NewCedar parses a Cedar policy document.
func NewCedar(src []byte) (*Cedar, error) {
	ps, err := cedar.NewPolicySetFromBytes("policy.cedar", src)
	if err != nil {
		return nil, invalidf("parse cedar policies: %v", err)
	}
	count := 0
	for range ps.All() {
		count++
	}
	if count == 0 {
		return nil, invalidf("cedar document contains no policies")
	}
	return &Cedar{policies: ps}, nil
}

func (e *Cedar) Evaluate(_ context.Context, in *Input) (Verdict, error) {
	if in == nil {
		return Verdict{}, evaluationError(errNilInput)
	}

	principal := cedar.NewEntityUID(cedarPrincipalType, cedar.String(in.Identity.Subject))
	resource := cedar.NewEntityUID(cedarResourceType, cedar.String(in.Operation.Target))

	entities := cedar.EntityMap{
		principal: cedar.Entity{
			UID:     principal,
			Parents: cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"scopes":    stringSet(in.Identity.Scopes),
				"client_id": cedar.String(in.Identity.ClientID),
				"iss":       cedar.String(in.Identity.Issuer),
				"aud":       stringSet(in.Identity.Audiences),
			}),
		},
		resource: cedar.Entity{
			UID:     resource,
			Parents: cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"name": cedar.String(in.Operation.Target),
			}),
		},
	}

	headers := cedar.RecordMap{}
	for k, v := range in.Request.Headers {
		headers[cedar.String(k)] = cedar.String(v)
	}

	req := cedar.Request{
		Principal: principal,
		Action:    cedar.NewEntityUID(cedarActionType, cedar.String(in.Operation.Name)),
		Resource:  resource,
		Context: cedar.NewRecord(cedar.RecordMap{
			"operation": cedar.String(in.Operation.Name),
			"method":    cedar.String(in.Request.Method),
			"path":      cedar.String(in.Request.Path),
			"headers":   cedar.NewRecord(headers),
			"arguments": cedarRecord(in.Operation.Arguments),
		}),
	}

	decision, diag := cedar.Authorize(e.policies, entities, req)

	if len(diag.Errors) > 0 {
		msgs := make([]string, 0, len(diag.Errors))
		for _, de := range diag.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", de.PolicyID, de.Message))
		}
		return Verdict{}, evaluationError(errors.New(strings.Join(msgs, "; ")))
	}

	ids := make([]string, 0, len(diag.Reasons))
	for _, r := range diag.Reasons {
		ids = append(ids, string(r.PolicyID))
	}
	sort.Strings(ids)

	if decision == cedar.Allow {
		return Allow("permitted by " + strings.Join(ids, ", ")), nil
	}
	if len(ids) > 0 {
		return Deny("forbidden by " + strings.Join(ids, ", ")), nil
	}
	return Deny("no permit policy matched"), nil
}

func (e *Cedar) Mode() Mode { return ModeCustom }

func stringSet(items []string) cedar.Set {
	vals := make([]cedar.Value, 0, len(items))
	for _, s := range items {
		vals = append(vals, cedar.String(s))
	}
	return cedar.NewSet(vals...)
}

func cedarRecord(m map[string]any) cedar.Record {
	rec := cedar.RecordMap{}
	for k, v := range m {
		if cv, ok := cedarValue(v); ok {
			rec[cedar.String(k)] = cv
		}
	}
	return cedar.NewRecord(rec)
}

// cedarValue converts JSON-shaped values. Null and non-integral numbers
// have no lossless Cedar form: nulls are dropped and fractions become
// strings.
func cedarValue(v any) (cedar.Value, bool) {
	switch t := v.(type) {
	case string:
		return cedar.String(t), true
	case bool:
		return cedar.Boolean(t), true
	case int:
		return cedar.Long(int64(t)), true
	case int64:
		return cedar.Long(t), true
	case float64:
		if t == math.Trunc(t) && t >= math.MinInt64 && t <= math.MaxInt64 {
			return cedar.Long(int64(t)), true
		}
		return cedar.String(fmt.Sprint(t)), true
	case []any:
		vals := make([]cedar.Value, 0, len(t))
		for _, item := range t {
			if cv, ok := cedarValue(item); ok {
				vals = append(vals, cv)
			}
		}
		return cedar.NewSet(vals...), true
	case []string:
		return stringSet(t), true
	case map[string]any:
		return cedarRecord(t), true
	default:
		return nil, false
	}
}
