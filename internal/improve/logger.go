package improve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Default pattern-mining thresholds.
const (
	DefaultMinOccurrences = 5
	DefaultMinCycles      = 2
	ExampleFlagLimit      = 3
)

// Input describes a flag to record. ID, sequence, timestamp, and a default
// severity are filled in by the logger.
type Input struct {
	CycleID              string
	Phase                orchestrator.Phase
	AgentID              string
	Workflow             string
	Type                 InefficiencyType
	Description          string
	Context              map[string]any
	TimeWastedHours      float64
	SuggestedImprovement string
	Severity             Severity
}

// Logger records process-improvement flags and mines them for patterns.
// Safe for concurrent use; the flag log is append-only.
type Logger struct {
	log   *logging.Logger
	clock func() time.Time

	mu             sync.RWMutex
	flags          []Flag
	patterns       []Pattern
	flagCounter    uint64
	patternCounter int
}

// Option customizes logger construction.
type Option func(*Logger)

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// WithClock overrides the wall clock (for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) { l.clock = clock }
}

// NewLogger creates a process-improvement logger.
func NewLogger(opts ...Option) *Logger {
	l := &Logger{
		log:   logging.Nop(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Flag records one inefficiency and returns the stored flag.
func (l *Logger) Flag(ctx context.Context, in Input) Flag {
	severity := in.Severity
	if severity == "" {
		severity = SeverityMedium
	}

	l.mu.Lock()
	l.flagCounter++
	flag := Flag{
		ID:                   fmt.Sprintf("FLAG-%06d", l.flagCounter),
		Seq:                  l.flagCounter,
		Timestamp:            l.clock(),
		CycleID:              in.CycleID,
		Phase:                in.Phase,
		AgentID:              in.AgentID,
		Workflow:             in.Workflow,
		Type:                 in.Type,
		Description:          in.Description,
		Context:              in.Context,
		Severity:             severity,
		TimeWastedHours:      in.TimeWastedHours,
		SuggestedImprovement: in.SuggestedImprovement,
	}
	l.flags = append(l.flags, flag)
	l.mu.Unlock()

	l.log.Warn(ctx, "process inefficiency flagged",
		zap.String("flag_id", flag.ID),
		zap.String("type", string(flag.Type)),
		zap.String("agent_id", flag.AgentID),
		zap.String("workflow", flag.Workflow),
		zap.String("severity", string(flag.Severity)))

	return flag
}

// Flags returns a copy of the full flag log, in sequence order.
func (l *Logger) Flags() []Flag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Flag, len(l.flags))
	copy(out, l.flags)
	return out
}

// FlagsByCycle returns the flags recorded against one ATO cycle.
func (l *Logger) FlagsByCycle(cycleID string) []Flag {
	return l.filter(func(f Flag) bool { return f.CycleID == cycleID })
}

// FlagsByAgent returns the flags raised by one agent.
func (l *Logger) FlagsByAgent(agentID string) []Flag {
	return l.filter(func(f Flag) bool { return f.AgentID == agentID })
}

func (l *Logger) filter(keep func(Flag) bool) []Flag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Flag
	for _, f := range l.flags {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// AnalyzePatterns groups flags by (workflow, type) and emits a pattern for
// every group that either reaches minOccurrences or recurs across minCycles
// distinct cycles. Zero thresholds take the defaults. Restricting to one
// cycle disables the cross-cycle rule.
func (l *Logger) AnalyzePatterns(ctx context.Context, cycleID string, minOccurrences, minCycles int) []Pattern {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	if minCycles <= 0 {
		minCycles = DefaultMinCycles
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	type key struct {
		workflow string
		ineff    InefficiencyType
	}
	grouped := make(map[key][]Flag)
	var order []key
	for _, f := range l.flags {
		if cycleID != "" && f.CycleID != cycleID {
			continue
		}
		k := key{workflow: f.Workflow, ineff: f.Type}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], f)
	}

	var patterns []Pattern
	for _, k := range order {
		group := grouped[k]
		cycles := distinctCycles(group)
		if len(group) < minOccurrences && (cycleID != "" || len(cycles) < minCycles) {
			continue
		}

		l.patternCounter++
		var totalTime float64
		evidence := make([]string, 0, len(group))
		for _, f := range group {
			totalTime += f.TimeWastedHours
			evidence = append(evidence, f.ID)
		}

		examples := group
		if len(examples) > ExampleFlagLimit {
			examples = examples[:ExampleFlagLimit]
		}

		patterns = append(patterns, Pattern{
			ID:              fmt.Sprintf("PATTERN-%04d", l.patternCounter),
			Type:            k.ineff,
			Workflow:        k.workflow,
			OccurrenceCount: len(group),
			AffectedPhases:  distinctPhases(group),
			AffectedCycles:  cycles,
			TotalTimeWasted: totalTime,
			Evidence:        evidence,
			Examples:        append([]Flag(nil), examples...),
			Recommendation:  recommendation(k.workflow, k.ineff, len(group)),
			Priority:        patternPriority(len(group), totalTime),
		})
	}

	l.patterns = patterns
	l.log.Info(ctx, "pattern analysis complete",
		zap.Int("patterns", len(patterns)),
		zap.String("cycle_id", cycleID))

	return patterns
}

// Stats returns summary statistics over the flag log.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		ByType:             make(map[InefficiencyType]int),
		ByAgent:            make(map[string]int),
		PatternsIdentified: len(l.patterns),
	}
	for _, f := range l.flags {
		stats.TotalFlags++
		stats.ByType[f.Type]++
		stats.ByAgent[f.AgentID]++
		stats.TotalTimeWasted += f.TimeWastedHours
	}
	return stats
}

// Report renders a human-readable process-improvement report.
func (l *Logger) Report() string {
	stats := l.Stats()

	l.mu.RLock()
	patterns := append([]Pattern(nil), l.patterns...)
	l.mu.RUnlock()

	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\nPROCESS IMPROVEMENT REPORT\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Total Flags Raised: %d\n", stats.TotalFlags)
	fmt.Fprintf(&b, "Total Time Wasted: %.1f hours\n", stats.TotalTimeWasted)
	fmt.Fprintf(&b, "Patterns Identified: %d\n\n", stats.PatternsIdentified)

	b.WriteString("Flags by Type:\n")
	for _, t := range AllInefficiencyTypes() {
		if n := stats.ByType[t]; n > 0 {
			fmt.Fprintf(&b, "  - %s: %d\n", t, n)
		}
	}

	b.WriteString("\nFlags by Agent:\n")
	agents := make([]string, 0, len(stats.ByAgent))
	for agent := range stats.ByAgent {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		fmt.Fprintf(&b, "  - %s: %d\n", agent, stats.ByAgent[agent])
	}

	if len(patterns) > 0 {
		fmt.Fprintf(&b, "\n%s\nIDENTIFIED PATTERNS\n%s\n\n", rule, rule)

		sort.SliceStable(patterns, func(i, j int) bool {
			pi, pj := priorityRank(patterns[i].Priority), priorityRank(patterns[j].Priority)
			if pi != pj {
				return pi < pj
			}
			return patterns[i].OccurrenceCount > patterns[j].OccurrenceCount
		})

		for _, p := range patterns {
			fmt.Fprintf(&b, "Pattern %s [%s PRIORITY]\n", p.ID, strings.ToUpper(string(p.Priority)))
			fmt.Fprintf(&b, "  Type: %s\n", p.Type)
			fmt.Fprintf(&b, "  Workflow: %s\n", p.Workflow)
			fmt.Fprintf(&b, "  Occurrences: %d\n", p.OccurrenceCount)
			fmt.Fprintf(&b, "  Time Wasted: %.1f hours\n", p.TotalTimeWasted)
			fmt.Fprintf(&b, "  Recommendation: %s\n\n", p.Recommendation)
		}
	}

	return b.String()
}

func distinctCycles(flags []Flag) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range flags {
		if _, ok := seen[f.CycleID]; !ok {
			seen[f.CycleID] = struct{}{}
			out = append(out, f.CycleID)
		}
	}
	return out
}

func distinctPhases(flags []Flag) []orchestrator.Phase {
	seen := make(map[orchestrator.Phase]struct{})
	var out []orchestrator.Phase
	for _, f := range flags {
		if _, ok := seen[f.Phase]; !ok {
			seen[f.Phase] = struct{}{}
			out = append(out, f.Phase)
		}
	}
	return out
}

func patternPriority(occurrences int, timeWasted float64) Priority {
	switch {
	case occurrences >= 10 || timeWasted >= 10:
		return PriorityHigh
	case occurrences >= 5 || timeWasted >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func recommendation(workflow string, t InefficiencyType, count int) string {
	switch t {
	case RedundantCoordination:
		return fmt.Sprintf("Streamline coordination in %q: consolidate %d redundant approval steps; consider a single approval authority or automated coordination.", workflow, count)
	case InformationGap:
		return fmt.Sprintf("Address information gap in %q: grant direct access to required data sources or pre-populate information at workflow start. Occurred %d times.", workflow, count)
	case TimingConstraint:
		return fmt.Sprintf("Adjust timeline for %q: observed %d instances where execution exceeded the doctrinal expectation by more than 30%%.", workflow, count)
	case DoctrineContradiction:
		return fmt.Sprintf("Resolve doctrine contradiction in %q: conflicting guidance detected %d times; requires doctrine update or clarification.", workflow, count)
	case AutomationOpportunity:
		return fmt.Sprintf("Automate %q: manual process repeated %d times with consistent inputs.", workflow, count)
	case DeconflictionIssue:
		return fmt.Sprintf("Improve spectrum deconfliction in %q: recurring conflicts (%d instances); consider pre-allocation or enhanced coordination tooling.", workflow, count)
	case ResourceBottleneck:
		return fmt.Sprintf("Address resource bottleneck in %q: insufficient assets or time detected %d times; requires reallocation or timeline adjustment.", workflow, count)
	default:
		return fmt.Sprintf("Review %q for process improvement opportunities.", workflow)
	}
}
