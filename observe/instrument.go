package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Instrumentation bundles the telemetry handed to gate components.
type Instrumentation struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// FromObserver builds an Instrumentation from an Observer.
func FromObserver(obs Observer) (*Instrumentation, error) {
	if obs == nil {
		return Noop(), nil
	}
	m, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("observe: create metrics: %w", err)
	}
	return &Instrumentation{
		Tracer:  NewTracer(obs.Tracer()),
		Metrics: m,
		Logger:  obs.Logger(),
	}, nil
}

// Noop returns an Instrumentation that records nothing.
func Noop() *Instrumentation {
	m, _ := NewMetrics(nil)
	return &Instrumentation{
		Tracer:  NewTracer(tracenoop.NewTracerProvider().Tracer("noop")),
		Metrics: m,
		Logger:  NopLogger(),
	}
}

// OrNoop returns i, or Noop when i is nil.
func (i *Instrumentation) OrNoop() *Instrumentation {
	if i == nil {
		return Noop()
	}
	return i
}

// Span runs fn inside a span named name and records its error on the span.
// A panic inside fn is re-raised after the span is ended.
func (i *Instrumentation) Span(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := i.Tracer.Start(ctx, name, attrs...)
	defer func() {
		if r := recover(); r != nil {
			i.Tracer.End(span, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		i.Tracer.End(span, err)
	}()
	return fn(ctx)
}
