// Package broker is the single entry point for cross-category information
// reads. Queries are routed to per-category backends, results are sanitized
// to the caller's access level, and audited accesses append to an ordered
// audit log.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

var (
	// ErrUnauthorized indicates an access-policy denial.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates the category's backend is down or missing.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrUnknownAgent indicates the agent has no registered profile.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Params carries query parameters to a backend.
type Params map[string]any

// Record is one backend result. Sanitizers project Data by access level.
type Record struct {
	ID   string
	Data map[string]any
}

// Clone returns a shallow copy with an independent Data map.
func (r Record) Clone() Record {
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	return Record{ID: r.ID, Data: data}
}

// Result is a successful broker query.
type Result struct {
	Category   access.Category
	Records    []Record
	ElementIDs []string
	Sanitized  bool
}

// Backend answers queries for one information category.
type Backend interface {
	Query(ctx context.Context, params Params) ([]Record, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, params Params) ([]Record, error)

func (f BackendFunc) Query(ctx context.Context, params Params) ([]Record, error) {
	return f(ctx, params)
}

// ProfileResolver looks up an agent's access profile.
type ProfileResolver interface {
	Profile(agentID string) (access.Profile, bool)
}

// PhaseSource reports the current ATO phase, if any.
type PhaseSource interface {
	CurrentPhase() (orchestrator.Phase, bool)
}

// Broker routes, sanitizes, and audits information queries. Safe for
// concurrent use.
type Broker struct {
	profiles   ProfileResolver
	phases     PhaseSource
	policies   access.PolicySet
	backends   map[access.Category]Backend
	sanitizers map[access.Category]Sanitizer
	audit      *auditLog
	logger     *logging.Logger
	metrics    *metrics
	clock      func() time.Time
}

// Option customizes broker construction.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithSanitizer overrides the sanitizer for one category.
func WithSanitizer(cat access.Category, s Sanitizer) Option {
	return func(b *Broker) { b.sanitizers[cat] = s }
}

// WithClock overrides the time source for audit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) { b.clock = clock }
}

// New creates a broker. A nil policy set takes the defaults.
func New(profiles ProfileResolver, phases PhaseSource, policies access.PolicySet, opts ...Option) *Broker {
	if policies == nil {
		policies = access.DefaultPolicies()
	}
	b := &Broker{
		profiles:   profiles,
		phases:     phases,
		policies:   policies,
		backends:   make(map[access.Category]Backend),
		sanitizers: defaultSanitizers(),
		audit:      newAuditLog(),
		logger:     logging.Nop(),
		metrics:    newMetrics(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterBackend wires the backend serving one category.
func (b *Broker) RegisterBackend(cat access.Category, backend Backend) {
	b.backends[cat] = backend
}

// Query runs an access-checked, sanitized, audited read. The caller's
// deadline propagates to the backend; the broker never retries.
func (b *Broker) Query(ctx context.Context, agentID string, category access.Category, params Params) (Result, error) {
	ctx, span := b.metrics.tracer.Start(ctx, "broker.query", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("category", string(category)),
	))
	defer span.End()

	res, err := b.query(ctx, agentID, category, params)
	b.metrics.recordQuery(ctx, span, category, len(res.Records), err)
	return res, err
}

func (b *Broker) query(ctx context.Context, agentID string, category access.Category, params Params) (Result, error) {
	profile, ok := b.profiles.Profile(agentID)
	if !ok {
		return Result{}, fmt.Errorf("agent %s: %w", agentID, ErrUnknownAgent)
	}

	var phase orchestrator.Phase
	if b.phases != nil {
		phase, _ = b.phases.CurrentPhase()
	}

	policy, hasPolicy := b.policies[category]

	granted, reason := access.CheckAccess(profile, category, phase, b.policies)
	if !granted {
		if hasPolicy && policy.Audit {
			b.audit.append(b.clock(), profile, category, phase, summarize(params), "denied", false)
		}
		b.logger.Warn(ctx, "information access denied",
			zap.String("agent_id", agentID),
			zap.String("category", string(category)),
			zap.String("reason", reason))
		return Result{}, fmt.Errorf("%s: %w", reason, ErrUnauthorized)
	}

	backend, ok := b.backends[category]
	if !ok {
		return Result{}, fmt.Errorf("category %s: %w", category, ErrUnavailable)
	}

	records, err := backend.Query(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("category %s: %w: %s", category, ErrUnavailable, err)
	}

	sanitized := false
	if hasPolicy && policy.Sanitize {
		if sanitizer, ok := b.sanitizers[category]; ok {
			out := make([]Record, len(records))
			for i, rec := range records {
				out[i] = sanitizer(rec, profile.AccessLevel)
			}
			records = out
			sanitized = true
		}
	}

	if hasPolicy && policy.Audit {
		b.audit.append(b.clock(), profile, category, phase, summarize(params), "granted", sanitized)
	}

	elementIDs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			elementIDs = append(elementIDs, rec.ID)
		}
	}

	b.logger.Debug(ctx, "information query served",
		zap.String("agent_id", agentID),
		zap.String("category", string(category)),
		zap.Int("records", len(records)),
		zap.Bool("sanitized", sanitized))

	return Result{
		Category:   category,
		Records:    records,
		ElementIDs: elementIDs,
		Sanitized:  sanitized,
	}, nil
}

// AuditLog returns audit entries, optionally filtered by agent and category.
// Empty filters match everything.
func (b *Broker) AuditLog(agentID string, category access.Category) []AuditEntry {
	return b.audit.entries(agentID, category)
}

func summarize(params Params) string {
	if q, ok := params["query"].(string); ok && q != "" {
		return q
	}
	return fmt.Sprintf("%d params", len(params))
}
