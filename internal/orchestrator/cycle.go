package orchestrator

import (
	"time"
)

// CycleStatus tracks the lifecycle of one ATO cycle.
type CycleStatus string

const (
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
	CycleCancelled CycleStatus = "cancelled"
)

// Cycle is one 72-hour ATO cycle. Exactly one cycle is current at a time;
// completed and cancelled cycles are retained as read-only history.
type Cycle struct {
	ID           string
	StartTime    time.Time
	EndTime      time.Time
	CurrentPhase Phase
	PhaseStart   time.Time
	Status       CycleStatus

	phaseHistory []PhaseRecord
	outputs      map[Phase]map[string]any
	skips        []SkipRecord
}

// PhaseRecord is one entry in a cycle's phase history.
type PhaseRecord struct {
	Phase     Phase
	EnteredAt time.Time
}

// SkipRecord audits an explicit phase-skip override.
type SkipRecord struct {
	From       Phase
	To         Phase
	Reason     string
	ApprovedBy string
	At         time.Time
}

func newCycle(id string, start time.Time) *Cycle {
	return &Cycle{
		ID:        id,
		StartTime: start,
		EndTime:   start.Add(CycleDuration),
		Status:    CycleActive,
		outputs:   make(map[Phase]map[string]any),
	}
}

func (c *Cycle) enterPhase(phase Phase, at time.Time) {
	c.CurrentPhase = phase
	c.PhaseStart = at
	c.phaseHistory = append(c.phaseHistory, PhaseRecord{Phase: phase, EnteredAt: at})
}

func (c *Cycle) recordOutput(phase Phase, name string, value any) {
	if c.outputs[phase] == nil {
		c.outputs[phase] = make(map[string]any)
	}
	c.outputs[phase][name] = value
}

// Output returns the named output recorded under the given phase.
func (c *Cycle) Output(phase Phase, name string) (any, bool) {
	v, ok := c.outputs[phase][name]
	return v, ok
}

// PhaseHistory returns the phases entered so far, in order.
func (c *Cycle) PhaseHistory() []PhaseRecord {
	out := make([]PhaseRecord, len(c.phaseHistory))
	copy(out, c.phaseHistory)
	return out
}

// Summary is a read-only snapshot of a cycle.
type Summary struct {
	CycleID      string
	StartTime    time.Time
	EndTime      time.Time
	CurrentPhase Phase
	Status       CycleStatus
	PhaseHistory []PhaseRecord
	Skips        []SkipRecord
	OutputNames  map[Phase][]string
}

func (c *Cycle) summary() Summary {
	s := Summary{
		CycleID:      c.ID,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		CurrentPhase: c.CurrentPhase,
		Status:       c.Status,
		PhaseHistory: c.PhaseHistory(),
		OutputNames:  make(map[Phase][]string, len(c.outputs)),
	}
	s.Skips = append(s.Skips, c.skips...)
	for phase, m := range c.outputs {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		s.OutputNames[phase] = names
	}
	return s
}
