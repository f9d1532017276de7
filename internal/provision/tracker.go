package provision

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/project-aether/aetheros/internal/doctrine"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// DefaultUtilizationThreshold is the usage score below which an element
// counts as underutilized.
const DefaultUtilizationThreshold = 0.5

var citationPattern = regexp.MustCompile(`\b(?:DOC|THR|MSN|HIST|COLL)-\w+\b`)

// Usage is the utilization record for one provisioned window and response.
type Usage struct {
	AgentID          string
	Phase            orchestrator.Phase
	Provisioned      int
	Used             []string
	Underutilized    []string
	Scores           map[string]float64
	Rate             float64
	ValidCitations   []string
	InvalidCitations []string
	CitationAccuracy float64
	Timestamp        time.Time
}

// Stats summarizes the usage log.
type Stats struct {
	Records     int
	AverageRate float64
	PerAgent    map[string]float64
}

// Tracker scores element utilization from agent responses. Literal ID
// citations always count; when an embedder is available, uncited elements
// also get a semantic-similarity score against the response sentences.
type Tracker struct {
	embedder  doctrine.Embedder
	threshold float64
	clock     func() time.Time

	mu  sync.Mutex
	log []Usage
}

// TrackerOption customizes tracker construction.
type TrackerOption func(*Tracker)

// WithThreshold overrides the utilization threshold.
func WithThreshold(t float64) TrackerOption {
	return func(tr *Tracker) { tr.threshold = t }
}

// WithTrackerClock overrides the time source.
func WithTrackerClock(clock func() time.Time) TrackerOption {
	return func(tr *Tracker) { tr.clock = clock }
}

// NewTracker creates a tracker. A nil embedder disables semantic scoring.
func NewTracker(embedder doctrine.Embedder, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		embedder:  embedder,
		threshold: DefaultUtilizationThreshold,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordUsage scores the response against the provisioned window and
// appends the result to the usage log.
func (t *Tracker) RecordUsage(ctx context.Context, actx *AgentContext, response string) Usage {
	cited := citationPattern.FindAllString(response, -1)
	citedSet := make(map[string]bool, len(cited))
	for _, id := range cited {
		citedSet[id] = true
	}

	var sentenceVecs [][]float32
	if t.embedder != nil {
		sentenceVecs = t.embedSentences(ctx, response)
	}

	usage := Usage{
		AgentID:     actx.AgentID,
		Phase:       actx.Phase,
		Provisioned: len(actx.Elements),
		Scores:      make(map[string]float64, len(actx.Elements)),
		Timestamp:   t.clock(),
	}

	for _, el := range actx.Elements {
		score := 0.0
		if citedSet[el.ID] {
			score = 1.0
		} else if len(sentenceVecs) > 0 {
			if vec, err := t.embedder.Embed(ctx, el.Content); err == nil {
				for _, sv := range sentenceVecs {
					if sim := cosine(vec, sv); sim > score {
						score = sim
					}
				}
			}
		}
		usage.Scores[el.ID] = score
		if score >= t.threshold {
			usage.Used = append(usage.Used, el.ID)
		} else {
			usage.Underutilized = append(usage.Underutilized, el.ID)
		}
	}

	if usage.Provisioned > 0 {
		usage.Rate = float64(len(usage.Used)) / float64(usage.Provisioned)
	}

	for id := range citedSet {
		if _, ok := actx.Element(id); ok {
			usage.ValidCitations = append(usage.ValidCitations, id)
		} else {
			usage.InvalidCitations = append(usage.InvalidCitations, id)
		}
	}
	if len(citedSet) > 0 {
		usage.CitationAccuracy = float64(len(usage.ValidCitations)) / float64(len(citedSet))
	} else {
		usage.CitationAccuracy = 1.0
	}

	t.mu.Lock()
	t.log = append(t.log, usage)
	t.mu.Unlock()
	return usage
}

// Log returns a copy of the usage log.
func (t *Tracker) Log() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Usage, len(t.log))
	copy(out, t.log)
	return out
}

// Statistics aggregates the usage log into per-agent averages.
func (t *Tracker) Statistics() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{Records: len(t.log), PerAgent: make(map[string]float64)}
	if len(t.log) == 0 {
		return stats
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	total := 0.0
	for _, u := range t.log {
		total += u.Rate
		sums[u.AgentID] += u.Rate
		counts[u.AgentID]++
	}
	stats.AverageRate = total / float64(len(t.log))
	for agent, sum := range sums {
		stats.PerAgent[agent] = sum / float64(counts[agent])
	}
	return stats
}

func (t *Tracker) embedSentences(ctx context.Context, response string) [][]float32 {
	var vecs [][]float32
	for _, sentence := range splitSentences(response) {
		vec, err := t.embedder.Embed(ctx, sentence)
		if err != nil {
			continue
		}
		vecs = append(vecs, vec)
	}
	return vecs
}

func splitSentences(text string) []string {
	var out []string
	for _, chunk := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s := strings.TrimSpace(chunk); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
