package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/project-aether/aetheros/internal/llm"

// metrics instruments provider calls. Instrument creation failures leave
// instruments nil; recording skips nil instruments.
type metrics struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	tokens   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() *metrics {
	m := &metrics{tracer: otel.Tracer(instrumentationName)}
	meter := otel.Meter(instrumentationName)
	m.calls, _ = meter.Int64Counter(
		"aetheros.llm.calls_total",
		metric.WithDescription("Provider completion attempts by provider and outcome"),
		metric.WithUnit("{call}"),
	)
	m.tokens, _ = meter.Int64Counter(
		"aetheros.llm.tokens_total",
		metric.WithDescription("Tokens consumed by provider"),
		metric.WithUnit("{token}"),
	)
	m.duration, _ = meter.Float64Histogram(
		"aetheros.llm.call_duration_seconds",
		metric.WithDescription("Completion round-trip duration by provider"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	return m
}

func (m *metrics) recordCall(ctx context.Context, provider Provider, tokens TokenUsage, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider.Name()),
		attribute.String("model", provider.Model()),
		attribute.String("outcome", outcome),
	)
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if tokens.Total > 0 && m.tokens != nil {
		m.tokens.Add(ctx, int64(tokens.Total), attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
