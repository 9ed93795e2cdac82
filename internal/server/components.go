package server

import (
	"fmt"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/discovery"
	"github.com/jonwraymond/toolgate/gate"
	"github.com/jonwraymond/toolgate/health"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/policy"
)

// Components are the gate's collaborators built from one configuration.
type Components struct {
	Config    *config.Config
	Keys      *auth.KeyResolver
	Validator *auth.Composite
	Evaluator policy.Evaluator
	Gate      *gate.Gate
	Discovery *discovery.Responder
	Health    *health.Aggregator

	// Introspector is nil unless introspection is configured.
	Introspector *auth.Introspector
}

// NewComponents wires the key resolver, validators, policy evaluator, gate,
// discovery responder and health checks for cfg.
func NewComponents(cfg *config.Config, ins *observe.Instrumentation) (*Components, error) {
	keys := auth.NewKeyResolver(auth.ResolverConfig{
		TTL:             cfg.KeyCacheTTL(),
		FetchTimeout:    cfg.KeyFetchTimeout(),
		Instrumentation: ins,
	})
	if err := keys.Register(cfg.ExpectedIssuer, cfg.KeySourceURI); err != nil {
		return nil, fmt.Errorf("registering key source: %w", err)
	}

	signed, err := auth.NewValidator(auth.ValidatorConfig{
		Issuer:    cfg.ExpectedIssuer,
		Audiences: cfg.ExpectedAudiences,
		Leeway:    cfg.Leeway(),
		Keys:      keys,
	})
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}

	var (
		introspector *auth.Introspector
		opaque       auth.CredentialValidator
	)
	if ic, ok := cfg.IntrospectorConfig(); ok {
		ic.Instrumentation = ins
		introspector, err = auth.NewIntrospector(ic)
		if err != nil {
			return nil, fmt.Errorf("building introspector: %w", err)
		}
		opaque = introspector
	}
	validator, err := auth.NewComposite(signed, opaque)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}

	evaluator, err := policy.New(cfg.Policy())
	if err != nil {
		return nil, fmt.Errorf("compiling policy: %w", err)
	}

	g, err := gate.New(gate.Config{
		Validator:       validator,
		Evaluator:       evaluator,
		Instrumentation: ins,
	})
	if err != nil {
		return nil, fmt.Errorf("building gate: %w", err)
	}

	responder, err := discovery.New(cfg.DiscoveryConfig())
	if err != nil {
		return nil, fmt.Errorf("building discovery responder: %w", err)
	}

	agg := health.NewAggregator(health.AggregatorConfig{})
	agg.Register(health.NewKeySourceChecker(keys, cfg.ExpectedIssuer))
	if introspector != nil {
		agg.Register(health.NewCircuitChecker("introspection", introspector.Circuit))
	}

	return &Components{
		Config:    cfg,
		Keys:      keys,
		Validator: validator,
		Evaluator: evaluator,
		Gate:      g,
		Discovery: responder,
		Health:    agg,

		Introspector: introspector,
	}, nil
}
