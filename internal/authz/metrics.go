package authz

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/project-aether/aetheros/internal/authz"

// metrics instruments authorization decisions. Instrument creation failures
// leave instruments nil; recording skips nil instruments.
type metrics struct {
	tracer    trace.Tracer
	decisions metric.Int64Counter
}

func newMetrics() *metrics {
	m := &metrics{tracer: otel.Tracer(instrumentationName)}
	meter := otel.Meter(instrumentationName)
	m.decisions, _ = meter.Int64Counter(
		"aetheros.authz.decisions_total",
		metric.WithDescription("Authorization decisions by action and outcome"),
		metric.WithUnit("{decision}"),
	)
	return m
}

func (m *metrics) recordDecision(ctx context.Context, span trace.Span, action string, d Decision) {
	outcome := "deny"
	if d.Allow {
		outcome = "allow"
	}
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
	span.SetAttributes(
		attribute.Bool("allow", d.Allow),
		attribute.StringSlice("reasons", d.Reasons),
	)
}
