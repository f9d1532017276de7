package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type cycleCtxKey struct{}
type phaseCtxKey struct{}
type agentCtxKey struct{}

// WithCycle annotates the context with the current ATO cycle ID.
func WithCycle(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, cycleID)
}

// WithPhase annotates the context with the current phase name.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// WithAgent annotates the context with the acting agent ID.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agentID)
}

// CycleFromContext returns the cycle ID, or "" if unset.
func CycleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(cycleCtxKey{}).(string)
	return v
}

// PhaseFromContext returns the phase name, or "" if unset.
func PhaseFromContext(ctx context.Context) string {
	v, _ := ctx.Value(phaseCtxKey{}).(string)
	return v
}

// AgentFromContext returns the agent ID, or "" if unset.
func AgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(agentCtxKey{}).(string)
	return v
}

// ContextFields extracts correlation data from the context: OpenTelemetry
// trace identifiers plus the AetherOS cycle/phase/agent annotations.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if cycleID := CycleFromContext(ctx); cycleID != "" {
		fields = append(fields, zap.String("cycle_id", cycleID))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}
	if agentID := AgentFromContext(ctx); agentID != "" {
		fields = append(fields, zap.String("agent_id", agentID))
	}

	return fields
}
