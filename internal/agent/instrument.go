package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/improve"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/provision"
)

// timingMultiplier is the overrun factor beyond which a procedure gets a
// timing flag.
const timingMultiplier = 1.3

// coordinationThreshold is the round-trip count to one recipient that
// triggers a redundancy flag.
const coordinationThreshold = 3

// InfoQuerier is the broker surface the runtime consumes.
type InfoQuerier interface {
	Query(ctx context.Context, agentID string, category access.Category, params broker.Params) (broker.Result, error)
}

// WithBroker wires the information broker.
func WithBroker(q InfoQuerier) Option {
	return func(r *Runtime) { r.broker = q }
}

// ExecuteDoctrinalProcedure times a doctrinal procedure and auto-flags
// deviations: overruns beyond the timing multiplier and cancellations both
// produce timing-constraint flags. The procedure's own error passes
// through untouched.
func (r *Runtime) ExecuteDoctrinalProcedure(ctx context.Context, agentID, procedure string, expectedHours float64, fn func(ctx context.Context) error) error {
	cycleID, _ := r.activation.CurrentCycleID()
	phase, _ := r.activation.CurrentPhase()

	start := r.clock()
	err := fn(ctx)
	elapsed := r.clock().Sub(start)
	elapsedHours := elapsed.Hours()

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		r.flagger.Flag(ctx, improve.Input{
			CycleID:     cycleID,
			Phase:       phase,
			AgentID:     agentID,
			Workflow:    procedure,
			Type:        improve.TimingConstraint,
			Description: fmt.Sprintf("procedure %s cancelled after %.1fh", procedure, elapsedHours),
			Context: map[string]any{
				"reason":         "cancelled",
				"elapsed_hours":  elapsedHours,
				"expected_hours": expectedHours,
			},
			SuggestedImprovement: "review deadline budget for " + procedure,
		})
		return err
	}

	if expectedHours > 0 && elapsedHours > timingMultiplier*expectedHours {
		wasted := elapsedHours - expectedHours
		r.flagger.Flag(ctx, improve.Input{
			CycleID:  cycleID,
			Phase:    phase,
			AgentID:  agentID,
			Workflow: procedure,
			Type:     improve.TimingConstraint,
			Description: fmt.Sprintf("procedure %s took %.1fh against %.1fh expected",
				procedure, elapsedHours, expectedHours),
			Context: map[string]any{
				"elapsed_hours":  elapsedHours,
				"expected_hours": expectedHours,
			},
			TimeWastedHours:      wasted,
			Severity:             improve.TimingSeverity(wasted),
			SuggestedImprovement: "streamline or parallelize " + procedure,
		})
	}

	return err
}

// QueryInformation reads through the broker under the agent's identity.
// A denial or an empty result for a needed category auto-flags an
// information gap; the broker's error passes through.
func (r *Runtime) QueryInformation(ctx context.Context, agentID string, category access.Category, params broker.Params) (broker.Result, error) {
	if r.broker == nil {
		return broker.Result{}, broker.ErrUnavailable
	}

	res, err := r.broker.Query(ctx, agentID, category, params)

	gap := ""
	switch {
	case errors.Is(err, broker.ErrUnauthorized):
		gap = "access denied"
	case err == nil && len(res.Records) == 0:
		gap = "no records returned"
	}
	if gap != "" {
		cycleID, _ := r.activation.CurrentCycleID()
		phase, _ := r.activation.CurrentPhase()
		r.flagger.Flag(ctx, improve.Input{
			CycleID:     cycleID,
			Phase:       phase,
			AgentID:     agentID,
			Workflow:    "information_request",
			Type:        improve.InformationGap,
			Description: fmt.Sprintf("query for %s: %s", category, gap),
			Context: map[string]any{
				"category": string(category),
			},
			SuggestedImprovement: fmt.Sprintf("review %s availability for %s", category, agentID),
		})
	}

	return res, err
}

// RequestContext provisions a context window for the agent's current task.
func (r *Runtime) RequestContext(ctx context.Context, agentID, taskText string, maxTokens int) (*provision.AgentContext, error) {
	if r.provisioner == nil {
		return nil, errors.New("no context provisioner configured")
	}
	phase, _ := r.activation.CurrentPhase()
	return r.provisioner.Provision(ctx, agentID, phase, taskText, maxTokens)
}

// RefreshContext drops an agent's cached context windows so the next
// RequestContext rebuilds from live sources.
func (r *Runtime) RefreshContext(agentID string) {
	if r.provisioner == nil {
		return
	}
	r.provisioner.Refresh(agentID)
}

// Escalation is one recorded hand-off to a human operator.
type Escalation struct {
	AgentID   string
	Phase     orchestrator.Phase
	Reason    string
	Payload   map[string]any
	Timestamp time.Time
}

// EscalateToHuman records a decision the agent will not make autonomously.
func (r *Runtime) EscalateToHuman(ctx context.Context, agentID, reason string, payload map[string]any) Escalation {
	phase, _ := r.activation.CurrentPhase()
	esc := Escalation{
		AgentID:   agentID,
		Phase:     phase,
		Reason:    reason,
		Payload:   payload,
		Timestamp: r.clock(),
	}

	r.mu.Lock()
	r.escalations = append(r.escalations, esc)
	r.mu.Unlock()

	r.logger.Warn(ctx, "escalated to human",
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
	return esc
}

// Escalations returns a copy of the escalation log.
func (r *Runtime) Escalations() []Escalation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Escalation, len(r.escalations))
	copy(out, r.escalations)
	return out
}

type coordKey struct {
	from    string
	to      string
	msgType string
}

// noteCoordination counts round-trips per (sender, recipient, type) and
// flags redundancy once the threshold is hit.
func (r *Runtime) noteCoordination(ctx context.Context, from, to, msgType string) {
	r.mu.Lock()
	key := coordKey{from: from, to: to, msgType: msgType}
	r.coordCounts[key]++
	count := r.coordCounts[key]
	r.mu.Unlock()

	if count != coordinationThreshold {
		return
	}

	cycleID, _ := r.activation.CurrentCycleID()
	phase, _ := r.activation.CurrentPhase()
	r.flagger.Flag(ctx, improve.Input{
		CycleID:  cycleID,
		Phase:    phase,
		AgentID:  from,
		Workflow: msgType,
		Type:     improve.RedundantCoordination,
		Description: fmt.Sprintf("%d %s round-trips from %s to %s in one decision",
			count, msgType, from, to),
		Context: map[string]any{
			"recipient": to,
			"count":     count,
		},
		SuggestedImprovement: "batch the exchange or share context up front",
	})
}

// ResetCoordination clears round-trip counters, typically on a phase
// transition.
func (r *Runtime) ResetCoordination() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coordCounts = make(map[coordKey]int)
}
