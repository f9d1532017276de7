// Package authz decides every privileged action. Six independent factors
// are evaluated without short-circuiting so a denial reports every failing
// factor: role authority, phase appropriateness, information access,
// delegation chain, doctrinal fit, and the external policy evaluator.
package authz

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/doctrine"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// ReasonPolicyUnavailable marks a denial caused by the tripped policy
// circuit breaker.
const ReasonPolicyUnavailable = "policy_unavailable"

// ReasonDoctrineUnavailable marks a doctrine-KB outage. It is informational:
// doctrine outage never hard-denies.
const ReasonDoctrineUnavailable = "doctrine_unavailable"

// ReasonApprovalRank marks an emergency reallocation without sufficient
// approving rank.
const ReasonApprovalRank = "approval_rank"

// emergencyMinRank is the minimum approving rank (O-5) for emergency
// reallocation during execution.
const emergencyMinRank = 5

// Request is one authorization question.
type Request struct {
	AgentID string
	Action  string

	// Description is free text describing the action, checked for
	// doctrinal fit when present.
	Description string

	// Categories are the information categories the action touches.
	Categories []access.Category

	// OnBehalfOf is the delegation chain, outermost principal first.
	OnBehalfOf []string

	// ApprovedByRank is the numeric O-grade of the approving officer,
	// required for emergency reallocation during execution.
	ApprovedByRank int
}

// Decision is the engine's answer. Reasons lists every failing factor plus
// informational notes; Allow is false iff any hard factor failed.
type Decision struct {
	Allow   bool
	Reasons []string
}

// ProfileResolver looks up an agent's access profile.
type ProfileResolver interface {
	Profile(agentID string) (access.Profile, bool)
}

// CycleSource reports the current cycle and phase.
type CycleSource interface {
	CurrentPhase() (orchestrator.Phase, bool)
	CurrentCycleID() string
}

// ComplianceChecker produces doctrinal-fit verdicts.
type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, actionDescription string) (doctrine.Compliance, error)
}

// PolicyEvaluator is the external policy endpoint.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, agent, action, cycleID string) (bool, error)
}

// Engine evaluates authorization requests. Safe for concurrent use.
type Engine struct {
	profiles   ProfileResolver
	cycles     CycleSource
	policies   access.PolicySet
	compliance ComplianceChecker
	evaluator  PolicyEvaluator
	breaker    *breaker
	logger     *logging.Logger
	metrics    *metrics
}

// Option customizes engine construction.
type Option func(*Engine)

// WithPolicies replaces the category policy table.
func WithPolicies(p access.PolicySet) Option {
	return func(e *Engine) { e.policies = p }
}

// WithCompliance wires the doctrinal-fit checker.
func WithCompliance(c ComplianceChecker) Option {
	return func(e *Engine) { e.compliance = c }
}

// WithPolicyEvaluator wires the external policy evaluator.
func WithPolicyEvaluator(p PolicyEvaluator) Option {
	return func(e *Engine) { e.evaluator = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the circuit breaker's time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.breaker = newBreaker(clock) }
}

// NewEngine creates an authorization engine.
func NewEngine(profiles ProfileResolver, cycles CycleSource, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		cycles:   cycles,
		policies: access.DefaultPolicies(),
		breaker:  newBreaker(nil),
		logger:   logging.Nop(),
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize evaluates all six factors and returns the combined decision.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	ctx, span := e.metrics.tracer.Start(ctx, "authz.authorize", trace.WithAttributes(
		attribute.String("agent_id", req.AgentID),
		attribute.String("action", req.Action),
	))
	defer span.End()

	decision := e.authorize(ctx, req)
	e.metrics.recordDecision(ctx, span, req.Action, decision)
	return decision
}

func (e *Engine) authorize(ctx context.Context, req Request) Decision {
	profile, ok := e.profiles.Profile(req.AgentID)
	if !ok {
		return Decision{Reasons: []string{fmt.Sprintf("unknown agent %q", req.AgentID)}}
	}

	var phase orchestrator.Phase
	if e.cycles != nil {
		phase, _ = e.cycles.CurrentPhase()
	}

	var hard, notes []string

	// Factor 1: role authority.
	if !profile.HasAction(req.Action) {
		hard = append(hard, fmt.Sprintf("action %q not in authorized actions", req.Action))
	}

	// Factor 2: phase appropriateness.
	if phase != "" && !profile.ActiveIn(phase) {
		hard = append(hard, fmt.Sprintf("agent not active in phase %s", phase))
	}

	// Factor 3: information access for every touched category.
	for _, cat := range req.Categories {
		if granted, reason := access.CheckAccess(profile, cat, phase, e.policies); !granted {
			hard = append(hard, reason)
		}
	}

	// Factor 4: delegation chain.
	if len(req.OnBehalfOf) > 0 {
		if !profile.DelegationAuthority {
			hard = append(hard, "profile has no delegation authority")
		}
		if len(req.OnBehalfOf) > 1 {
			hard = append(hard, fmt.Sprintf("delegation depth %d exceeds 1", len(req.OnBehalfOf)))
		}
	}

	// Factor 5: doctrinal fit. KB outage is a soft failure.
	if e.compliance != nil && req.Description != "" {
		compliance, err := e.compliance.CheckCompliance(ctx, req.Description)
		switch {
		case err != nil:
			notes = append(notes, ReasonDoctrineUnavailable)
		case compliance.Verdict == doctrine.VerdictNonCompliant:
			hard = append(hard, "doctrinal violation: "+compliance.Rationale)
		}
	}

	// Factor 6: external policy, behind the circuit breaker.
	if e.evaluator != nil {
		if !e.breaker.allow() {
			hard = append(hard, ReasonPolicyUnavailable)
		} else {
			cycleID := ""
			if e.cycles != nil {
				cycleID = e.cycles.CurrentCycleID()
			}
			allowed, err := e.evaluator.Evaluate(ctx, req.AgentID, req.Action, cycleID)
			switch {
			case err != nil:
				e.breaker.recordFailure()
				notes = append(notes, "policy_unreachable")
			case !allowed:
				e.breaker.recordSuccess()
				hard = append(hard, "denied by external policy")
			default:
				e.breaker.recordSuccess()
			}
		}
	}

	// Edge policy: emergency reallocation during execution needs an O-5
	// approval stamped on the request.
	if req.Action == "emergency_reallocation" && phase == orchestrator.PhaseExecution {
		if req.ApprovedByRank < emergencyMinRank {
			hard = append(hard, ReasonApprovalRank)
		}
	}

	decision := Decision{
		Allow:   len(hard) == 0,
		Reasons: append(hard, notes...),
	}

	if !decision.Allow {
		e.logger.Warn(ctx, "action denied",
			zap.String("agent_id", req.AgentID),
			zap.String("action", req.Action),
			zap.Strings("reasons", decision.Reasons))
	} else {
		e.logger.Debug(ctx, "action authorized",
			zap.String("agent_id", req.AgentID),
			zap.String("action", req.Action))
	}
	return decision
}

// AuthorizeFrequencyAllocation wraps Authorize for the spectrum manager's
// allocation request.
func (e *Engine) AuthorizeFrequencyAllocation(ctx context.Context, agentID string, r broker.FrequencyRange, w broker.TimeWindow, missionID string) Decision {
	return e.Authorize(ctx, Request{
		AgentID: agentID,
		Action:  "allocate_frequency",
		Description: fmt.Sprintf("allocate %.1f-%.1f MHz from %s to %s for %s",
			r.MinMHz, r.MaxMHz, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), missionID),
		Categories: []access.Category{access.CategorySpectrumAllocation},
	})
}

// AuthorizeAssetAssignment wraps Authorize for an EMS asset assignment.
func (e *Engine) AuthorizeAssetAssignment(ctx context.Context, agentID, assetID, missionID string) Decision {
	return e.Authorize(ctx, Request{
		AgentID:     agentID,
		Action:      "assign_ems_asset",
		Description: fmt.Sprintf("assign asset %s to mission %s", assetID, missionID),
		Categories:  []access.Category{access.CategoryAssetStatus},
	})
}
