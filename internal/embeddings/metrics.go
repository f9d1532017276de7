package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/project-aether/aetheros/internal/embeddings"

// Metrics holds embedding-related metrics. Instrument creation failures
// leave the individual instruments nil; recording skips nil instruments.
type Metrics struct {
	meter    metric.Meter
	duration metric.Float64Histogram
	batch    metric.Int64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the embedding service.
func NewMetrics() *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName)}
	m.duration, _ = m.meter.Float64Histogram(
		"aetheros.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation in seconds, labeled by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.batch, _ = m.meter.Int64Histogram(
		"aetheros.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding batch request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	m.errors, _ = m.meter.Int64Counter(
		"aetheros.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	return m
}

// RecordGeneration records one embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if batchSize > 0 && m.batch != nil {
		m.batch.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
