package provision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

func staticSource(layer Layer, typ ElementType, candidates ...Candidate) Source {
	for i := range candidates {
		candidates[i].Type = typ
	}
	return NewSource(layer, func(context.Context, string, orchestrator.Phase, string) ([]Candidate, error) {
		return candidates, nil
	})
}

// content produces a string occupying exactly n heuristic tokens.
func content(n int) string {
	return strings.Repeat("x", n*4)
}

func TestProvisionComposesLayers(t *testing.T) {
	ctx := context.Background()
	p := New([]Source{
		staticSource(LayerDoctrinal, TypeDoctrine,
			Candidate{Content: content(10), Relevance: 0.9},
			Candidate{Content: content(10), Relevance: 0.8}),
		staticSource(LayerSituational, TypeThreat,
			Candidate{Content: content(10), Relevance: 0.7}),
		staticSource(LayerHistorical, TypeHistorical,
			Candidate{Content: content(10), Relevance: 0.6}),
		staticSource(LayerCollaborative, TypeCollaborative,
			Candidate{Content: content(10), Relevance: 0.5}),
	})

	actx, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseOEG, "plan jamming", 1000)
	require.NoError(t, err)

	require.Len(t, actx.Elements, 5)
	assert.Equal(t, 50, actx.TotalTokens)
	assert.LessOrEqual(t, actx.TotalTokens, actx.MaxTokens)
	assert.False(t, actx.Degraded)

	// IDs are unique and prefix-typed.
	seen := make(map[string]bool)
	for _, el := range actx.Elements {
		assert.False(t, seen[el.ID], "duplicate id %s", el.ID)
		seen[el.ID] = true
		assert.True(t, strings.HasPrefix(el.ID, el.Type.Prefix()+"-"), "id %s for type %s", el.ID, el.Type)
	}
	assert.Equal(t, []string{"DOC-1", "DOC-2"}, idsOf(actx.LayerElements(LayerDoctrinal)))
	assert.Equal(t, []string{"THR-1"}, idsOf(actx.LayerElements(LayerSituational)))
	assert.Equal(t, []string{"HIST-1"}, idsOf(actx.LayerElements(LayerHistorical)))
	assert.Equal(t, []string{"COLL-1"}, idsOf(actx.LayerElements(LayerCollaborative)))
}

func idsOf(elems []Element) []string {
	ids := make([]string, len(elems))
	for i, el := range elems {
		ids[i] = el.ID
	}
	return ids
}

func TestProvisionGreedySelection(t *testing.T) {
	ctx := context.Background()
	p := New([]Source{
		staticSource(LayerDoctrinal, TypeDoctrine,
			Candidate{Content: content(20), Relevance: 0.5},
			Candidate{Content: content(20), Relevance: 0.9},
			Candidate{Content: content(20), Relevance: 0.8}),
	})

	// Doctrinal sub-budget is 40 tokens: only the two most relevant fit.
	actx, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseOEG, "task", 100)
	require.NoError(t, err)

	elems := actx.LayerElements(LayerDoctrinal)
	require.Len(t, elems, 2)
	assert.Equal(t, 0.9, elems[0].Relevance)
	assert.Equal(t, 0.8, elems[1].Relevance)
}

func TestProvisionDoctrinalFloor(t *testing.T) {
	ctx := context.Background()
	p := New([]Source{
		staticSource(LayerDoctrinal, TypeDoctrine,
			Candidate{Content: content(5), Relevance: 0.9}),
	})

	actx, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseOEG, "task", 1000)
	require.NoError(t, err)
	assert.True(t, actx.Degraded)
	assert.Len(t, actx.Elements, 1)
}

func TestProvisionPrunesLeastEssentialFirst(t *testing.T) {
	ctx := context.Background()
	overfull := Template{Shares: map[Layer]float64{
		LayerDoctrinal:   0.6,
		LayerSituational: 0.6,
	}}
	p := New([]Source{
		staticSource(LayerDoctrinal, TypeDoctrine,
			Candidate{Content: content(20), Relevance: 0.9},
			Candidate{Content: content(20), Relevance: 0.8},
			Candidate{Content: content(20), Relevance: 0.7}),
		staticSource(LayerSituational, TypeThreat,
			Candidate{Content: content(20), Relevance: 0.6},
			Candidate{Content: content(20), Relevance: 0.5},
			Candidate{Content: content(20), Relevance: 0.4}),
	}, WithTemplates(overfull, nil))

	actx, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseOEG, "task", 100)
	require.NoError(t, err)

	// Both layers fill to 60 tokens; the overflow comes out of the
	// situational layer, lowest relevance first.
	assert.Equal(t, 100, actx.TotalTokens)
	assert.Len(t, actx.LayerElements(LayerDoctrinal), 3)
	situational := actx.LayerElements(LayerSituational)
	require.Len(t, situational, 2)
	for _, el := range situational {
		assert.Greater(t, el.Relevance, 0.4)
	}
	assert.False(t, actx.Degraded)
}

func TestProvisionRejectsEmptyBudget(t *testing.T) {
	p := New(nil)
	_, err := p.Provision(context.Background(), "a", orchestrator.PhaseOEG, "task", 0)
	require.ErrorIs(t, err, ErrNoBudget)
}

func TestProvisionCacheAndRefresh(t *testing.T) {
	ctx := context.Background()
	fetches := 0
	src := NewSource(LayerDoctrinal, func(context.Context, string, orchestrator.Phase, string) ([]Candidate, error) {
		fetches++
		return []Candidate{
			{Type: TypeDoctrine, Content: content(5), Relevance: 0.9},
			{Type: TypeDoctrine, Content: content(5), Relevance: 0.8},
		}, nil
	})
	p := New([]Source{src})

	first, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseWeaponeering, "plan", 1000)
	require.NoError(t, err)
	second, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseWeaponeering, "plan", 1000)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, fetches)

	// Task change misses the cache.
	_, err = p.Provision(ctx, "ew_planner", orchestrator.PhaseWeaponeering, "replan", 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)

	// Explicit refresh rebuilds for the agent.
	p.Refresh("ew_planner")
	_, err = p.Provision(ctx, "ew_planner", orchestrator.PhaseWeaponeering, "plan", 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, fetches)

	// New intelligence invalidates everything.
	p.OnIntelligenceEvent()
	_, err = p.Provision(ctx, "ew_planner", orchestrator.PhaseWeaponeering, "plan", 1000)
	require.NoError(t, err)
	assert.Equal(t, 4, fetches)
}

func TestProvisionToleratesSourceFailure(t *testing.T) {
	ctx := context.Background()
	p := New([]Source{
		NewSource(LayerSituational, func(context.Context, string, orchestrator.Phase, string) ([]Candidate, error) {
			return nil, errors.New("backend down")
		}),
		staticSource(LayerDoctrinal, TypeDoctrine,
			Candidate{Content: content(5), Relevance: 0.9},
			Candidate{Content: content(5), Relevance: 0.8}),
	})

	actx, err := p.Provision(ctx, "ew_planner", orchestrator.PhaseOEG, "task", 1000)
	require.NoError(t, err)
	assert.Empty(t, actx.LayerElements(LayerSituational))
	assert.Len(t, actx.LayerElements(LayerDoctrinal), 2)
}

type fakeQuerier struct {
	result broker.Result
	err    error
}

func (f *fakeQuerier) Query(context.Context, string, access.Category, broker.Params) (broker.Result, error) {
	return f.result, f.err
}

func TestBrokerSourceRendersRecords(t *testing.T) {
	q := &fakeQuerier{result: broker.Result{Records: []broker.Record{
		{ID: "kb-1", Data: map[string]any{"content": "jamming corridor doctrine", "score": 0.92}},
		{ID: "thr-1", Data: map[string]any{"threat_type": "SAM"}},
	}}}
	src := NewBrokerSource(q, LayerDoctrinal, TypeDoctrine, access.CategoryDoctrine)

	candidates, err := src.Fetch(context.Background(), "ew_planner", orchestrator.PhaseOEG, "jamming corridor")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "jamming corridor doctrine", candidates[0].Content)
	assert.Equal(t, 0.92, candidates[0].Relevance)

	// No content field: the record serializes, relevance falls back to
	// term overlap.
	assert.Contains(t, candidates[1].Content, "SAM")
	assert.Equal(t, 0.0, candidates[1].Relevance)
}

func tenElementContext() *AgentContext {
	actx := &AgentContext{AgentID: "ew_planner", Phase: orchestrator.PhaseWeaponeering}
	for i := 1; i <= 5; i++ {
		actx.Elements = append(actx.Elements, Element{
			ID: "DOC-" + string(rune('0'+i)), Layer: LayerDoctrinal, Type: TypeDoctrine,
			Content: "doctrine passage",
		})
	}
	for i := 1; i <= 5; i++ {
		actx.Elements = append(actx.Elements, Element{
			ID: "THR-" + string(rune('0'+i)), Layer: LayerSituational, Type: TypeThreat,
			Content: "threat record",
		})
	}
	return actx
}

func TestUtilizationRateFromCitations(t *testing.T) {
	tracker := NewTracker(nil)
	actx := tenElementContext()

	usage := tracker.RecordUsage(context.Background(), actx,
		"Per DOC-1, the corridor holds. THR-2 drives the standoff range.")

	assert.Equal(t, 0.2, usage.Rate)
	assert.ElementsMatch(t, []string{"DOC-1", "THR-2"}, usage.Used)
	assert.Len(t, usage.Underutilized, 8)
	assert.ElementsMatch(t, []string{"DOC-1", "THR-2"}, usage.ValidCitations)
	assert.Empty(t, usage.InvalidCitations)
	assert.Equal(t, 1.0, usage.CitationAccuracy)
}

func TestCitationValidationFlagsUnknownIDs(t *testing.T) {
	tracker := NewTracker(nil)
	actx := tenElementContext()

	usage := tracker.RecordUsage(context.Background(), actx,
		"DOC-1 applies; MSN-99 is the governing plan.")

	assert.ElementsMatch(t, []string{"DOC-1"}, usage.ValidCitations)
	assert.ElementsMatch(t, []string{"MSN-99"}, usage.InvalidCitations)
	assert.Equal(t, 0.5, usage.CitationAccuracy)
}

type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "jamming") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func TestSemanticUtilizationWithoutCitations(t *testing.T) {
	tracker := NewTracker(axisEmbedder{})
	actx := &AgentContext{AgentID: "ew_planner", Elements: []Element{
		{ID: "DOC-1", Layer: LayerDoctrinal, Type: TypeDoctrine, Content: "jamming corridor geometry"},
		{ID: "HIST-1", Layer: LayerHistorical, Type: TypeHistorical, Content: "logistics resupply timeline"},
	}}

	usage := tracker.RecordUsage(context.Background(), actx,
		"Establish the jamming corridor west of the target area.")

	assert.Equal(t, 0.5, usage.Rate)
	assert.ElementsMatch(t, []string{"DOC-1"}, usage.Used)
	assert.ElementsMatch(t, []string{"HIST-1"}, usage.Underutilized)
}

func TestTrackerStatistics(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(nil, WithTrackerClock(func() time.Time { return fixed }))
	actx := tenElementContext()

	tracker.RecordUsage(context.Background(), actx, "DOC-1 THR-2")       // 0.2
	tracker.RecordUsage(context.Background(), actx, "DOC-1 DOC-2 THR-1") // 0.3

	stats := tracker.Statistics()
	assert.Equal(t, 2, stats.Records)
	assert.InDelta(t, 0.25, stats.AverageRate, 1e-9)
	assert.InDelta(t, 0.25, stats.PerAgent["ew_planner"], 1e-9)

	log := tracker.Log()
	require.Len(t, log, 2)
	assert.Equal(t, fixed, log[0].Timestamp)
}

func TestHeuristicEstimator(t *testing.T) {
	e := HeuristicEstimator{}
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abcd"))
	assert.Equal(t, 2, e.Count("abcde"))
}

func TestTemplateValidate(t *testing.T) {
	require.NoError(t, DefaultTemplate().Validate())
	for _, tmpl := range DefaultTemplates() {
		require.NoError(t, tmpl.Validate())
	}

	bad := Template{Shares: map[Layer]float64{LayerDoctrinal: 0.7}}
	require.Error(t, bad.Validate())
}
