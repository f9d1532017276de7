package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/project-aether/aetheros/internal/orchestrator"

// metrics instruments phase-boundary events. Instrument creation failures
// leave instruments nil; recording skips nil instruments.
type metrics struct {
	transitions metric.Int64Counter
}

func newMetrics() *metrics {
	m := &metrics{}
	meter := otel.Meter(instrumentationName)
	m.transitions, _ = meter.Int64Counter(
		"aetheros.cycle.phase_events_total",
		metric.WithDescription("Phase boundary events by phase and kind"),
		metric.WithUnit("{event}"),
	)
	return m
}

func (m *metrics) recordEvent(ctx context.Context, ev Event) {
	if m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(ev.Phase)),
		attribute.String("kind", string(ev.Kind)),
	))
}
