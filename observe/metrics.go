package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DecisionRecord describes one finished authorization for metrics.
type DecisionRecord struct {
	Verdict  string // allow|deny
	Stage    string // authentication|authorization
	Code     string // taxonomy code, empty on allow
	Duration time.Duration
}

// Metrics records gate and key-source metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordDecision counts a decision and its latency.
	RecordDecision(ctx context.Context, rec DecisionRecord)

	// RecordKeyFetch counts an outbound signing-key fetch.
	RecordKeyFetch(ctx context.Context, issuer string, duration time.Duration, err error)
}

type metricsImpl struct {
	decisions    metric.Int64Counter
	decisionHist metric.Float64Histogram
	keyFetches   metric.Int64Counter
	keyFetchHist metric.Float64Histogram
}

// NewMetrics creates the gate instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("noop")
	}

	decisions, err := meter.Int64Counter(
		"gate.decisions.total",
		metric.WithDescription("Authorization decisions by verdict, stage and code"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	decisionHist, err := meter.Float64Histogram(
		"gate.decision.duration_ms",
		metric.WithDescription("Authorization latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	keyFetches, err := meter.Int64Counter(
		"auth.key_fetch.total",
		metric.WithDescription("Signing-key fetches by issuer and outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	keyFetchHist, err := meter.Float64Histogram(
		"auth.key_fetch.duration_ms",
		metric.WithDescription("Signing-key fetch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		decisions:    decisions,
		decisionHist: decisionHist,
		keyFetches:   keyFetches,
		keyFetchHist: keyFetchHist,
	}, nil
}

func (m *metricsImpl) RecordDecision(ctx context.Context, rec DecisionRecord) {
	attrs := []attribute.KeyValue{
		attribute.String("verdict", rec.Verdict),
		attribute.String("stage", rec.Stage),
	}
	if rec.Code != "" {
		attrs = append(attrs, attribute.String("code", rec.Code))
	}
	opt := metric.WithAttributes(attrs...)

	m.decisions.Add(ctx, 1, opt)
	m.decisionHist.Record(ctx, durationMs(rec.Duration), opt)
}

func (m *metricsImpl) RecordKeyFetch(ctx context.Context, issuer string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opt := metric.WithAttributes(
		attribute.String("issuer", issuer),
		attribute.String("outcome", outcome),
	)

	m.keyFetches.Add(ctx, 1, opt)
	m.keyFetchHist.Record(ctx, durationMs(duration), opt)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
