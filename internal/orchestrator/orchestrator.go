package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/logging"
)

var (
	// ErrNoCycle indicates no ATO cycle is currently active.
	ErrNoCycle = errors.New("no active cycle")

	// ErrAlreadyActive indicates a cycle is already in progress.
	ErrAlreadyActive = errors.New("cycle already active")

	// ErrIllegalTransition indicates a phase move the transition graph forbids.
	ErrIllegalTransition = errors.New("illegal phase transition")
)

// EventKind distinguishes phase-boundary events.
type EventKind string

const (
	PhaseEntered EventKind = "phase_entered"
	PhaseExited  EventKind = "phase_exited"
)

// Event is one phase-boundary notification.
type Event struct {
	Kind    EventKind
	Phase   Phase
	CycleID string
	At      time.Time
}

// Handler receives phase-boundary events. Handlers run synchronously in
// registration order; a handler error is reported but never aborts the
// transition.
type Handler func(ctx context.Context, ev Event) error

// Orchestrator owns the current cycle and drives phase transitions by wall
// clock or explicit advance. It is safe for concurrent use; cycle state has
// a single writer.
type Orchestrator struct {
	schedule Schedule
	logger   *logging.Logger
	clock    func() time.Time
	metrics  *metrics

	mu           sync.RWMutex
	current      *Cycle
	history      []Summary
	cycleCounter int

	notifyMu sync.Mutex
	handlers []Handler
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithClock overrides the wall clock (for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over the given schedule. A nil schedule uses
// DefaultSchedule.
func New(schedule Schedule, opts ...Option) (*Orchestrator, error) {
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	o := &Orchestrator{
		schedule: schedule,
		logger:   logging.Nop(),
		clock:    time.Now,
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Subscribe registers a phase-boundary handler. Handlers are invoked in
// registration order, serially per cycle.
func (o *Orchestrator) Subscribe(h Handler) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	o.handlers = append(o.handlers, h)
}

// StartCycle begins a new ATO cycle at PHASE1_OEG. An empty cycleID
// generates the next sequential "ATO-%04d" identifier. Fails with
// ErrAlreadyActive if a cycle is in progress.
func (o *Orchestrator) StartCycle(ctx context.Context, cycleID string) (Summary, error) {
	o.mu.Lock()
	if o.current != nil && o.current.Status == CycleActive {
		o.mu.Unlock()
		return Summary{}, fmt.Errorf("cycle %s: %w", o.current.ID, ErrAlreadyActive)
	}

	o.cycleCounter++
	if cycleID == "" {
		cycleID = fmt.Sprintf("ATO-%04d", o.cycleCounter)
	}

	now := o.clock()
	cycle := newCycle(cycleID, now)
	cycle.enterPhase(PhaseOEG, now)
	o.current = cycle
	summary := cycle.summary()
	o.mu.Unlock()

	o.logger.Info(ctx, "ato cycle started",
		zap.String("cycle_id", cycleID),
		zap.Time("start", now),
		zap.Time("end", now.Add(CycleDuration)))

	o.notify(ctx, []Event{{Kind: PhaseEntered, Phase: PhaseOEG, CycleID: cycleID, At: now}})
	return summary, nil
}

// CurrentPhase returns the active cycle's phase, or false if no cycle is
// active.
func (o *Orchestrator) CurrentPhase() (Phase, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != CycleActive {
		return "", false
	}
	return o.current.CurrentPhase, true
}

// CurrentCycleID returns the active cycle's ID, or false if none.
func (o *Orchestrator) CurrentCycleID() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != CycleActive {
		return "", false
	}
	return o.current.ID, true
}

// ActiveAgents returns the agent IDs rostered for the current phase.
func (o *Orchestrator) ActiveAgents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != CycleActive {
		return nil
	}
	def := o.schedule[o.current.CurrentPhase]
	out := make([]string, len(def.ActiveAgents))
	copy(out, def.ActiveAgents)
	return out
}

// IsAgentActive reports whether the agent is rostered for the current phase.
func (o *Orchestrator) IsAgentActive(agentID string) bool {
	for _, id := range o.ActiveAgents() {
		if id == agentID {
			return true
		}
	}
	return false
}

// Definition returns the schedule entry for a phase.
func (o *Orchestrator) Definition(phase Phase) (Definition, bool) {
	def, ok := o.schedule[phase]
	return def, ok
}

// Advance moves the cycle to the next phase in the transition graph.
// Advancing past PHASE6_ASSESSMENT completes the cycle and starts a fresh
// one at PHASE1_OEG; the completed cycle becomes read-only history.
func (o *Orchestrator) Advance(ctx context.Context) (Phase, error) {
	o.mu.Lock()
	if o.current == nil || o.current.Status != CycleActive {
		o.mu.Unlock()
		return "", ErrNoCycle
	}

	now := o.clock()
	from := o.current.CurrentPhase
	fromCycle := o.current.ID
	events := []Event{{Kind: PhaseExited, Phase: from, CycleID: fromCycle, At: now}}

	var next Phase
	if from == PhaseAssessment {
		o.current.Status = CycleCompleted
		o.history = append(o.history, o.current.summary())

		o.cycleCounter++
		cycle := newCycle(fmt.Sprintf("ATO-%04d", o.cycleCounter), now)
		cycle.enterPhase(PhaseOEG, now)
		o.current = cycle
		next = PhaseOEG
		events = append(events, Event{Kind: PhaseEntered, Phase: next, CycleID: cycle.ID, At: now})
	} else {
		next = from.Next()
		o.current.enterPhase(next, now)
		events = append(events, Event{Kind: PhaseEntered, Phase: next, CycleID: fromCycle, At: now})
	}
	toCycle := o.current.ID
	o.mu.Unlock()

	o.logger.Info(ctx, "phase advanced",
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("cycle_id", toCycle))

	o.notify(ctx, events)
	return next, nil
}

// Skip jumps the cycle forward to target with an explicit override,
// recording an audit entry. Jumping over a critical phase is forbidden, as
// is any non-forward move.
func (o *Orchestrator) Skip(ctx context.Context, target Phase, reason, approvedBy string) (Phase, error) {
	if !target.Valid() {
		return "", fmt.Errorf("unknown phase %q: %w", target, ErrIllegalTransition)
	}

	o.mu.Lock()
	if o.current == nil || o.current.Status != CycleActive {
		o.mu.Unlock()
		return "", ErrNoCycle
	}

	from := o.current.CurrentPhase
	if target.Index() <= from.Index() {
		o.mu.Unlock()
		return "", fmt.Errorf("skip %s -> %s: %w", from, target, ErrIllegalTransition)
	}
	for _, phase := range AllPhases() {
		if phase.Index() > from.Index() && phase.Index() < target.Index() && o.schedule[phase].Critical {
			o.mu.Unlock()
			return "", fmt.Errorf("skip over critical phase %s: %w", phase, ErrIllegalTransition)
		}
	}

	now := o.clock()
	cycleID := o.current.ID
	o.current.skips = append(o.current.skips, SkipRecord{
		From:       from,
		To:         target,
		Reason:     reason,
		ApprovedBy: approvedBy,
		At:         now,
	})
	o.current.enterPhase(target, now)
	o.mu.Unlock()

	o.logger.Warn(ctx, "phase skipped by override",
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
		zap.String("approved_by", approvedBy),
		zap.String("cycle_id", cycleID))

	o.notify(ctx, []Event{
		{Kind: PhaseExited, Phase: from, CycleID: cycleID, At: now},
		{Kind: PhaseEntered, Phase: target, CycleID: cycleID, At: now},
	})
	return target, nil
}

// Tick reconciles the cycle against the wall clock. The target phase is
// derived solely from now minus the cycle start against the offset table,
// so a repeated call with the same now emits nothing new and clock skew
// never compounds. One exit/enter pair is emitted per boundary crossed;
// a single call may cross several. Past the cycle end the cycle completes.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) ([]Event, error) {
	o.mu.Lock()
	if o.current == nil || o.current.Status != CycleActive {
		o.mu.Unlock()
		return nil, nil
	}

	cycle := o.current
	var events []Event

	if !now.Before(cycle.EndTime) {
		events = append(events, Event{Kind: PhaseExited, Phase: cycle.CurrentPhase, CycleID: cycle.ID, At: now})
		cycle.Status = CycleCompleted
		o.history = append(o.history, cycle.summary())
		o.current = nil
		o.mu.Unlock()

		o.logger.Info(ctx, "ato cycle completed", zap.String("cycle_id", cycle.ID))
		o.notify(ctx, events)
		return events, nil
	}

	target, ok := o.schedule.PhaseAt(now.Sub(cycle.StartTime))
	if !ok || target.Index() <= cycle.CurrentPhase.Index() {
		o.mu.Unlock()
		return nil, nil
	}

	for cycle.CurrentPhase.Index() < target.Index() {
		from := cycle.CurrentPhase
		next := from.Next()
		enteredAt := cycle.StartTime.Add(o.schedule[next].Offset)
		events = append(events,
			Event{Kind: PhaseExited, Phase: from, CycleID: cycle.ID, At: enteredAt},
			Event{Kind: PhaseEntered, Phase: next, CycleID: cycle.ID, At: enteredAt},
		)
		cycle.enterPhase(next, enteredAt)
	}
	o.mu.Unlock()

	o.logger.Info(ctx, "tick advanced phase",
		zap.String("phase", string(target)),
		zap.String("cycle_id", cycle.ID),
		zap.Int("events", len(events)))

	o.notify(ctx, events)
	return events, nil
}

// RecordOutput stores a named output under the current cycle and phase.
func (o *Orchestrator) RecordOutput(name string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.Status != CycleActive {
		return ErrNoCycle
	}
	o.current.recordOutput(o.current.CurrentPhase, name, value)
	return nil
}

// CycleSummary returns a snapshot of the named cycle, or of the current
// cycle when cycleID is empty.
func (o *Orchestrator) CycleSummary(cycleID string) (Summary, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if cycleID == "" || (o.current != nil && o.current.ID == cycleID) {
		if o.current == nil {
			return Summary{}, false
		}
		return o.current.summary(), true
	}
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].CycleID == cycleID {
			return o.history[i], true
		}
	}
	return Summary{}, false
}

// History returns summaries of completed and cancelled cycles, oldest first.
func (o *Orchestrator) History() []Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Summary, len(o.history))
	copy(out, o.history)
	return out
}

// notify delivers events to subscribers serially in registration order.
// Held separately from the state lock so handlers may call back in.
func (o *Orchestrator) notify(ctx context.Context, events []Event) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	for _, ev := range events {
		o.metrics.recordEvent(ctx, ev)
		for _, h := range o.handlers {
			if err := h(ctx, ev); err != nil {
				o.logger.Error(ctx, "phase handler failed",
					zap.String("event", string(ev.Kind)),
					zap.String("phase", string(ev.Phase)),
					zap.Error(err))
			}
		}
	}
}
