package improve

import (
	"context"
	"fmt"
	"sync"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Default thresholds for rate-based auto-flags, counted per cycle and
// workflow.
const (
	DefaultConflictThreshold   = 3
	DefaultDenialThreshold     = 3
	DefaultManualStepThreshold = 5
)

// Monitor watches per-cycle event rates and raises threshold flags: spectrum
// conflicts, asset-reservation denials, and repeated manual steps. Doctrine
// contradictions flag immediately. Each (cycle, workflow, type) triple flags
// at most once.
type Monitor struct {
	logger *Logger

	conflictThreshold   int
	denialThreshold     int
	manualStepThreshold int

	mu      sync.Mutex
	counts  map[monitorKey]int
	flagged map[monitorKey]bool
}

type monitorKey struct {
	cycleID  string
	workflow string
	kind     InefficiencyType
}

// MonitorOption customizes monitor thresholds.
type MonitorOption func(*Monitor)

// WithConflictThreshold sets the per-cycle spectrum-conflict threshold.
func WithConflictThreshold(n int) MonitorOption {
	return func(m *Monitor) { m.conflictThreshold = n }
}

// WithDenialThreshold sets the per-cycle reservation-denial threshold.
func WithDenialThreshold(n int) MonitorOption {
	return func(m *Monitor) { m.denialThreshold = n }
}

// WithManualStepThreshold sets the per-cycle manual-step threshold.
func WithManualStepThreshold(n int) MonitorOption {
	return func(m *Monitor) { m.manualStepThreshold = n }
}

// NewMonitor creates a monitor that raises flags through the logger.
func NewMonitor(logger *Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		logger:              logger,
		conflictThreshold:   DefaultConflictThreshold,
		denialThreshold:     DefaultDenialThreshold,
		manualStepThreshold: DefaultManualStepThreshold,
		counts:              make(map[monitorKey]int),
		flagged:             make(map[monitorKey]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Event carries the provenance of one monitored occurrence.
type Event struct {
	CycleID  string
	Phase    orchestrator.Phase
	AgentID  string
	Workflow string
}

// NoteSpectrumConflict counts one spectrum conflict; crossing the threshold
// within a cycle raises a deconfliction-issue flag.
func (m *Monitor) NoteSpectrumConflict(ctx context.Context, ev Event) {
	m.note(ctx, ev, DeconflictionIssue, m.conflictThreshold,
		"spectrum conflict rate above threshold",
		"review allocation windows and pre-deconflict shared bands")
}

// NoteReservationDenial counts one asset-reservation denial; crossing the
// threshold within a cycle raises a resource-bottleneck flag.
func (m *Monitor) NoteReservationDenial(ctx context.Context, ev Event) {
	m.note(ctx, ev, ResourceBottleneck, m.denialThreshold,
		"asset reservations denied above threshold",
		"review asset availability and tasking priorities")
}

// NoteManualStep counts one manual step in an automatable workflow; crossing
// the threshold within a cycle raises an automation-opportunity flag.
func (m *Monitor) NoteManualStep(ctx context.Context, ev Event) {
	m.note(ctx, ev, AutomationOpportunity, m.manualStepThreshold,
		"manual step count above threshold for an automatable pattern",
		"automate the repeated step")
}

// NoteDoctrineContradiction flags immediately: two doctrine passages gave
// contradictory verdicts for the same query.
func (m *Monitor) NoteDoctrineContradiction(ctx context.Context, ev Event, query string, verdicts []string) {
	m.logger.Flag(ctx, Input{
		CycleID:     ev.CycleID,
		Phase:       ev.Phase,
		AgentID:     ev.AgentID,
		Workflow:    ev.Workflow,
		Type:        DoctrineContradiction,
		Description: fmt.Sprintf("contradictory doctrine verdicts for %q", query),
		Context: map[string]any{
			"query":    query,
			"verdicts": verdicts,
		},
		Severity:             SeverityHigh,
		SuggestedImprovement: "reconcile the conflicting doctrine passages",
	})
}

// OnCycleStart drops all counts; thresholds are per cycle.
func (m *Monitor) OnCycleStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[monitorKey]int)
	m.flagged = make(map[monitorKey]bool)
}

func (m *Monitor) note(ctx context.Context, ev Event, kind InefficiencyType, threshold int, description, improvement string) {
	key := monitorKey{cycleID: ev.CycleID, workflow: ev.Workflow, kind: kind}

	m.mu.Lock()
	m.counts[key]++
	count := m.counts[key]
	fire := count >= threshold && !m.flagged[key]
	if fire {
		m.flagged[key] = true
	}
	m.mu.Unlock()

	if !fire {
		return
	}
	m.logger.Flag(ctx, Input{
		CycleID:     ev.CycleID,
		Phase:       ev.Phase,
		AgentID:     ev.AgentID,
		Workflow:    ev.Workflow,
		Type:        kind,
		Description: fmt.Sprintf("%s (%d occurrences)", description, count),
		Context: map[string]any{
			"count":     count,
			"threshold": threshold,
		},
		SuggestedImprovement: improvement,
	})
}
