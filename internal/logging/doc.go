// Package logging provides the structured logger used by every AetherOS
// subsystem.
//
// The logger wraps Zap with context-aware methods: correlation fields
// (trace/span IDs from OpenTelemetry, plus the current cycle, phase, and
// agent) are extracted from the context.Context on every call, so call
// sites only pass the fields specific to the event being logged.
package logging
