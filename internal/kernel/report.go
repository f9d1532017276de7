package kernel

import (
	"context"

	"github.com/project-aether/aetheros/internal/improve"
	"github.com/project-aether/aetheros/internal/llm"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/provision"
)

// GetProcessImprovementReport mines the flag log for patterns and renders
// the report.
func (k *Kernel) GetProcessImprovementReport(ctx context.Context) string {
	k.improve.AnalyzePatterns(ctx, "", improve.DefaultMinOccurrences, improve.DefaultMinCycles)
	return k.improve.Report()
}

// AnalyzePatterns mines the flag log, optionally scoped to one cycle.
func (k *Kernel) AnalyzePatterns(ctx context.Context, cycleID string) []improve.Pattern {
	return k.improve.AnalyzePatterns(ctx, cycleID, improve.DefaultMinOccurrences, improve.DefaultMinCycles)
}

// PerformanceReport summarizes one agent's recent performance.
type PerformanceReport struct {
	AgentID         string
	CyclesExamined  []string
	FlagCount       int
	FlagsByType     map[improve.InefficiencyType]int
	TimeWastedHours float64
	ContextUsage    float64
	UsageRecords    int
	Escalations     int
}

// GetPerformanceReport aggregates flags, context utilization, and
// escalations for one agent over the most recent cycles (0 = all).
func (k *Kernel) GetPerformanceReport(agentID string, cycles int) PerformanceReport {
	report := PerformanceReport{
		AgentID:     agentID,
		FlagsByType: make(map[improve.InefficiencyType]int),
	}

	recent := make(map[string]bool)
	history := k.orch.History()
	if cycles > 0 && len(history) > cycles {
		history = history[len(history)-cycles:]
	}
	for _, summary := range history {
		recent[summary.CycleID] = true
		report.CyclesExamined = append(report.CyclesExamined, summary.CycleID)
	}
	if id, ok := k.orch.CurrentCycleID(); ok && !recent[id] {
		recent[id] = true
		report.CyclesExamined = append(report.CyclesExamined, id)
	}

	for _, flag := range k.improve.FlagsByAgent(agentID) {
		if cycles > 0 && !recent[flag.CycleID] {
			continue
		}
		report.FlagCount++
		report.FlagsByType[flag.Type]++
		report.TimeWastedHours += flag.TimeWastedHours
	}

	stats := k.tracker.Statistics()
	report.ContextUsage = stats.PerAgent[agentID]
	for _, usage := range k.tracker.Log() {
		if usage.AgentID == agentID {
			report.UsageRecords++
		}
	}

	for _, esc := range k.runtime.Escalations() {
		if esc.AgentID == agentID {
			report.Escalations++
		}
	}
	return report
}

// Status is a point-in-time snapshot of the whole system.
type Status struct {
	RegisteredAgents []string
	ActiveAgents     []string
	Cycle            *orchestrator.Summary
	Phase            orchestrator.Phase
	DoctrineDocs     int
	Flags            improve.Stats
	ContextUsage     provision.Stats
	LLMInteractions  []llm.Interaction
	Escalations      int
}

// SystemStatus aggregates subsystem state for operators.
func (k *Kernel) SystemStatus() Status {
	status := Status{
		Flags:        k.improve.Stats(),
		ContextUsage: k.tracker.Statistics(),
		ActiveAgents: k.activation.ActiveAgents(),
		Escalations:  len(k.runtime.Escalations()),
	}

	for _, p := range k.registry.snapshot() {
		status.RegisteredAgents = append(status.RegisteredAgents, p.ID)
	}

	if phase, ok := k.orch.CurrentPhase(); ok {
		status.Phase = phase
	}
	if id, ok := k.orch.CurrentCycleID(); ok {
		if summary, found := k.orch.CycleSummary(id); found {
			status.Cycle = &summary
		}
	}
	if k.kb != nil {
		status.DoctrineDocs = k.kb.Count()
	}
	if k.llm != nil {
		status.LLMInteractions = k.llm.Interactions()
	}
	return status
}
