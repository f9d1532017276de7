// Package orchestrator drives the 72-hour ATO cycle: a linear six-phase
// state machine that activates agents per phase and publishes transition
// events by wall clock or explicit advance.
package orchestrator

import (
	"fmt"
	"time"
)

// Phase is one of the six ATO cycle phases.
type Phase string

const (
	// PhaseOEG covers objectives, effects, and guidance development.
	PhaseOEG Phase = "PHASE1_OEG"

	// PhaseTargetDevelopment develops the target list and EMS requirements.
	PhaseTargetDevelopment Phase = "PHASE2_TARGET_DEVELOPMENT"

	// PhaseWeaponeering plans EW missions and frequency allocations.
	PhaseWeaponeering Phase = "PHASE3_WEAPONEERING"

	// PhaseATOProduction produces the ATO document and SPINS annex.
	PhaseATOProduction Phase = "PHASE4_ATO_PRODUCTION"

	// PhaseExecution is the 24-hour execution window.
	PhaseExecution Phase = "PHASE5_EXECUTION"

	// PhaseAssessment assesses effectiveness and captures lessons learned.
	PhaseAssessment Phase = "PHASE6_ASSESSMENT"
)

// AllPhases returns the six phases in cycle order.
func AllPhases() []Phase {
	return []Phase{
		PhaseOEG,
		PhaseTargetDevelopment,
		PhaseWeaponeering,
		PhaseATOProduction,
		PhaseExecution,
		PhaseAssessment,
	}
}

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseIndex[p]
	return ok
}

// Index returns the zero-based position of p in cycle order.
func (p Phase) Index() int {
	return phaseIndex[p]
}

// Next returns the phase that follows p. The cycle is circular:
// PHASE6_ASSESSMENT wraps to PHASE1_OEG.
func (p Phase) Next() Phase {
	order := AllPhases()
	return order[(phaseIndex[p]+1)%len(order)]
}

var phaseIndex = map[Phase]int{
	PhaseOEG:               0,
	PhaseTargetDevelopment: 1,
	PhaseWeaponeering:      2,
	PhaseATOProduction:     3,
	PhaseExecution:         4,
	PhaseAssessment:        5,
}

// Definition fixes the timing and roster for one phase of the schedule.
type Definition struct {
	Phase        Phase         `koanf:"phase"`
	Duration     time.Duration `koanf:"duration"`
	Offset       time.Duration `koanf:"offset"`
	ActiveAgents []string      `koanf:"active_agents"`
	KeyOutputs   []string      `koanf:"key_outputs"`
	Critical     bool          `koanf:"critical"`
}

// Schedule maps each phase to its definition. A valid schedule covers all
// six phases with contiguous offsets.
type Schedule map[Phase]Definition

// CycleDuration is the total length of one ATO cycle.
const CycleDuration = 72 * time.Hour

// DefaultSchedule returns the standard 72-hour ATO schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		PhaseOEG: {
			Phase:        PhaseOEG,
			Duration:     6 * time.Hour,
			Offset:       0,
			ActiveAgents: []string{"ems_strategy"},
			KeyOutputs:   []string{"ems_strategy", "commander_guidance"},
		},
		PhaseTargetDevelopment: {
			Phase:        PhaseTargetDevelopment,
			Duration:     8 * time.Hour,
			Offset:       6 * time.Hour,
			ActiveAgents: []string{"ems_strategy"},
			KeyOutputs:   []string{"target_list", "ems_requirements"},
		},
		PhaseWeaponeering: {
			Phase:        PhaseWeaponeering,
			Duration:     10 * time.Hour,
			Offset:       14 * time.Hour,
			ActiveAgents: []string{"ew_planner", "spectrum_manager"},
			KeyOutputs:   []string{"ew_missions", "frequency_allocations"},
			Critical:     true,
		},
		PhaseATOProduction: {
			Phase:        PhaseATOProduction,
			Duration:     6 * time.Hour,
			Offset:       24 * time.Hour,
			ActiveAgents: []string{"ato_producer", "spectrum_manager"},
			KeyOutputs:   []string{"ato_document", "spins_annex"},
			Critical:     true,
		},
		PhaseExecution: {
			Phase:        PhaseExecution,
			Duration:     24 * time.Hour,
			Offset:       30 * time.Hour,
			ActiveAgents: []string{"spectrum_manager"},
			KeyOutputs:   []string{"execution_data", "real_time_adjustments"},
		},
		PhaseAssessment: {
			Phase:        PhaseAssessment,
			Duration:     18 * time.Hour,
			Offset:       54 * time.Hour,
			ActiveAgents: []string{"assessment"},
			KeyOutputs:   []string{"effectiveness_assessment", "lessons_learned"},
		},
	}
}

// Validate checks that the schedule covers all phases with contiguous,
// positive slots summing to the cycle duration.
func (s Schedule) Validate() error {
	var cursor time.Duration
	for _, phase := range AllPhases() {
		def, ok := s[phase]
		if !ok {
			return fmt.Errorf("schedule missing phase %s", phase)
		}
		if def.Duration <= 0 {
			return fmt.Errorf("phase %s has non-positive duration", phase)
		}
		if def.Offset != cursor {
			return fmt.Errorf("phase %s offset %s, want %s", phase, def.Offset, cursor)
		}
		cursor += def.Duration
	}
	if cursor != CycleDuration {
		return fmt.Errorf("schedule totals %s, want %s", cursor, CycleDuration)
	}
	return nil
}

// PhaseAt returns the phase active at the given elapsed time since cycle
// start, or false if elapsed falls outside the cycle.
func (s Schedule) PhaseAt(elapsed time.Duration) (Phase, bool) {
	if elapsed < 0 || elapsed >= CycleDuration {
		return "", false
	}
	for _, phase := range AllPhases() {
		def := s[phase]
		if elapsed >= def.Offset && elapsed < def.Offset+def.Duration {
			return phase, true
		}
	}
	return "", false
}
