package broker

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/project-aether/aetheros/internal/access"
)

const instrumentationName = "github.com/project-aether/aetheros/internal/broker"

// metrics instruments broker queries. Instrument creation failures leave
// instruments nil; recording skips nil instruments.
type metrics struct {
	tracer  trace.Tracer
	queries metric.Int64Counter
	records metric.Int64Histogram
}

func newMetrics() *metrics {
	m := &metrics{tracer: otel.Tracer(instrumentationName)}
	meter := otel.Meter(instrumentationName)
	m.queries, _ = meter.Int64Counter(
		"aetheros.broker.queries_total",
		metric.WithDescription("Total broker queries by category and outcome"),
		metric.WithUnit("{query}"),
	)
	m.records, _ = meter.Int64Histogram(
		"aetheros.broker.result_records",
		metric.WithDescription("Records returned per granted query"),
		metric.WithUnit("{record}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	return m
}

func (m *metrics) recordQuery(ctx context.Context, span trace.Span, category access.Category, count int, err error) {
	outcome := "granted"
	switch {
	case errors.Is(err, ErrUnauthorized):
		outcome = "denied"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	if m.queries != nil {
		m.queries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(category)),
			attribute.String("outcome", outcome),
		))
	}
	if err == nil && m.records != nil {
		m.records.Record(ctx, int64(count), metric.WithAttributes(
			attribute.String("category", string(category)),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome))
}
