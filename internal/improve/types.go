// Package improve implements the process-improvement subsystem: agents
// follow doctrine exactly but every deviation from doctrinal expectations is
// flagged, classified, and mined for recurring patterns.
package improve

import (
	"time"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// InefficiencyType is the closed taxonomy of process deviations.
type InefficiencyType string

const (
	RedundantCoordination InefficiencyType = "redundant_coordination"
	InformationGap        InefficiencyType = "information_gap"
	TimingConstraint      InefficiencyType = "timing_constraint"
	DoctrineContradiction InefficiencyType = "doctrine_contradiction"
	AutomationOpportunity InefficiencyType = "automation_opportunity"
	DeconflictionIssue    InefficiencyType = "deconfliction_issue"
	ResourceBottleneck    InefficiencyType = "resource_bottleneck"
)

// AllInefficiencyTypes returns the taxonomy in declaration order.
func AllInefficiencyTypes() []InefficiencyType {
	return []InefficiencyType{
		RedundantCoordination,
		InformationGap,
		TimingConstraint,
		DoctrineContradiction,
		AutomationOpportunity,
		DeconflictionIssue,
		ResourceBottleneck,
	}
}

// Severity grades a single flag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TimingSeverity derives a severity from hours wasted on a timing overrun.
func TimingSeverity(timeWastedHours float64) Severity {
	if timeWastedHours >= 2 {
		return SeverityHigh
	}
	return SeverityMedium
}

// Flag is one recorded process deviation. Flags are append-only and carry a
// strictly increasing sequence number.
type Flag struct {
	ID          string
	Seq         uint64
	Timestamp   time.Time
	CycleID     string
	Phase       orchestrator.Phase
	AgentID     string
	Workflow    string
	Type        InefficiencyType
	Description string
	Context     map[string]any
	Severity    Severity

	// TimeWastedHours is zero when no time estimate was recorded.
	TimeWastedHours float64

	SuggestedImprovement string
}

// Priority grades a mined pattern.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Pattern is a recurring inefficiency mined from the flag log.
type Pattern struct {
	ID              string
	Type            InefficiencyType
	Workflow        string
	OccurrenceCount int
	AffectedPhases  []orchestrator.Phase
	AffectedCycles  []string
	TotalTimeWasted float64
	Evidence        []string // every contributing flag ID
	Examples        []Flag   // first few flags, for the report
	Recommendation  string
	Priority        Priority
}

// Stats summarizes the flag log.
type Stats struct {
	TotalFlags         int
	ByType             map[InefficiencyType]int
	ByAgent            map[string]int
	TotalTimeWasted    float64
	PatternsIdentified int
}
