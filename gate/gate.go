package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/policy"
)

// CredentialValidator authenticates a bearer credential. *auth.Validator,
// *auth.Introspector and *auth.Composite implement it.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (*auth.Claims, error)
}

// Config configures a Gate.
type Config struct {
	Validator CredentialValidator
	Evaluator policy.Evaluator

	// Instrumentation receives spans, metrics and decision logs.
	Instrumentation *observe.Instrumentation

	// Now is the time source for durations. Default: time.Now
	Now func() time.Time
}

// Gate runs authentication then authorization for each request.
// It is safe for concurrent use.
type Gate struct {
	validator CredentialValidator
	evaluator policy.Evaluator
	ins       *observe.Instrumentation
	now       func() time.Time
}

var errValidatorResult = errors.New("validator returned no claims")

// New checks config and returns a Gate.
func New(config Config) (*Gate, error) {
	if config.Validator == nil {
		return nil, fmt.Errorf("%w: gate needs a validator", auth.ErrConfiguration)
	}
	if config.Evaluator == nil {
		return nil, fmt.Errorf("%w: gate needs an evaluator", auth.ErrConfiguration)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Gate{
		validator: config.Validator,
		evaluator: config.Evaluator,
		ins:       config.Instrumentation.OrNoop(),
		now:       config.Now,
	}, nil
}

// Mode reports the policy mode in force.
func (g *Gate) Mode() policy.Mode {
	return g.evaluator.Mode()
}

// Authorize decides on req. It never returns an error: every failure,
// including a panic in the validator or evaluator, is a denial.
func (g *Gate) Authorize(ctx context.Context, req Request) Decision {
	start := g.now()

	var (
		d     Decision
		input string
		cause error
	)
	_ = g.ins.Span(ctx, "gate.authorize", func(ctx context.Context) error {
		d, input, cause = g.decide(ctx, req)
		return cause
	}, attribute.String("operation", req.Operation.Name))

	g.record(ctx, req, d, cause, input, g.now().Sub(start))
	return d
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, string, error) {
	claims, err := g.authenticate(ctx, req)
	if err != nil {
		return deny(StageAuthentication, auth.Describe(err), auth.Code(err)), "", err
	}

	if g.evaluator.Mode() == policy.ModeDisabled {
		return allow(StageAuthentication, "policy disabled", claims), "", nil
	}

	if err := ctx.Err(); err != nil {
		d := deny(StageAuthorization, "request cancelled", CodeCancelled)
		d.Claims = claims
		return d, "", err
	}

	in := policy.NewInput(claims, req.policyRequest(), req.Operation)
	fingerprint, err := in.Fingerprint()
	if err != nil {
		g.ins.Logger.Warn(ctx, "authz.fingerprint_failed",
			observe.F("operation", req.Operation.Name),
			observe.F("error", err.Error()))
	}

	verdict, err := g.evaluate(ctx, in)
	if err != nil {
		d := deny(StageAuthorization, "policy evaluation failed", CodePolicyEvaluation)
		d.Claims = claims
		return d, fingerprint, err
	}
	if !verdict.Allow {
		reason := verdict.Reason
		if reason == "" {
			reason = "denied by policy"
		}
		d := deny(StageAuthorization, reason, CodePolicyDenied)
		d.RequiredScopes = verdict.RequiredScopes
		d.Claims = claims
		return d, fingerprint, nil
	}
	return allow(StageAuthorization, verdict.Reason, claims), fingerprint, nil
}

func (g *Gate) authenticate(ctx context.Context, req Request) (claims *auth.Claims, err error) {
	if req.CredentialError != nil {
		return nil, req.CredentialError
	}
	if strings.TrimSpace(req.Credential) == "" {
		return nil, auth.ErrMissingCredential
	}

	defer func() {
		if r := recover(); r != nil {
			claims, err = nil, fmt.Errorf("validator panic: %v", r)
		}
	}()
	err = g.ins.Span(ctx, "gate.authenticate", func(ctx context.Context) error {
		c, err := g.validator.Validate(ctx, req.Credential)
		if err == nil && c == nil {
			err = errValidatorResult
		}
		claims = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (g *Gate) evaluate(ctx context.Context, in *policy.Input) (v policy.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = policy.Verdict{}, fmt.Errorf("%w: evaluator panic: %v", policy.ErrPolicyEvaluation, r)
		}
	}()
	err = g.ins.Span(ctx, "gate.evaluate", func(ctx context.Context) error {
		var err error
		v, err = g.evaluator.Evaluate(ctx, in)
		return err
	}, attribute.String("mode", string(g.evaluator.Mode())))
	return v, err
}

func (g *Gate) record(ctx context.Context, req Request, d Decision, cause error, input string, elapsed time.Duration) {
	g.ins.Metrics.RecordDecision(ctx, observe.DecisionRecord{
		Verdict:  string(d.Verdict),
		Stage:    string(d.Stage),
		Code:     d.Code,
		Duration: elapsed,
	})

	fields := []observe.Field{
		observe.F("verdict", d.Verdict),
		observe.F("stage", d.Stage),
		observe.F("operation", req.Operation.Name),
		observe.F("duration_ms", float64(elapsed)/float64(time.Millisecond)),
	}
	if d.Code != "" {
		fields = append(fields, observe.F("code", d.Code))
	}
	if d.Reason != "" {
		fields = append(fields, observe.F("reason", d.Reason))
	}
	if req.Operation.Target != "" {
		fields = append(fields, observe.F("target", req.Operation.Target))
	}
	if d.Claims != nil {
		fields = append(fields, observe.F("subject", d.Claims.Subject))
	}
	if input != "" {
		fields = append(fields, observe.F("input", input))
	}
	if cause != nil {
		fields = append(fields, observe.F("error", cause.Error()))
	}

	log := g.ins.Logger
	switch d.Code {
	case "":
		log.Info(ctx, "authz.decision", fields...)
	case auth.Code(auth.ErrKeySourceUnavailable), auth.Code(auth.ErrIntrospectionUnavailable), auth.CodeInternal:
		log.Error(ctx, "authz.decision", fields...)
	case auth.Code(auth.ErrInvalidSignature), CodePolicyEvaluation:
		log.Warn(ctx, "authz.decision", fields...)
	default:
		log.Info(ctx, "authz.decision", fields...)
	}
}
