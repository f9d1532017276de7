package provision

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Candidate is one element a source offers for selection.
type Candidate struct {
	Type      ElementType
	Content   string
	Relevance float64
	Source    string
}

// Source supplies candidates for one layer.
type Source interface {
	Layer() Layer
	Fetch(ctx context.Context, agentID string, phase orchestrator.Phase, task string) ([]Candidate, error)
}

// FetchFunc is the fetch half of a Source.
type FetchFunc func(ctx context.Context, agentID string, phase orchestrator.Phase, task string) ([]Candidate, error)

type funcSource struct {
	layer Layer
	fetch FetchFunc
}

// NewSource adapts a function into a Source for the given layer.
func NewSource(layer Layer, fetch FetchFunc) Source {
	return &funcSource{layer: layer, fetch: fetch}
}

func (s *funcSource) Layer() Layer { return s.layer }

func (s *funcSource) Fetch(ctx context.Context, agentID string, phase orchestrator.Phase, task string) ([]Candidate, error) {
	return s.fetch(ctx, agentID, phase, task)
}

// Querier is the broker surface sources need.
type Querier interface {
	Query(ctx context.Context, agentID string, category access.Category, params broker.Params) (broker.Result, error)
}

// BrokerSource populates a layer from one broker category, querying under
// the requesting agent's identity so access policy applies unchanged.
type BrokerSource struct {
	querier  Querier
	layer    Layer
	typ      ElementType
	category access.Category
}

// NewBrokerSource creates a broker-backed source.
func NewBrokerSource(q Querier, layer Layer, typ ElementType, category access.Category) *BrokerSource {
	return &BrokerSource{querier: q, layer: layer, typ: typ, category: category}
}

func (s *BrokerSource) Layer() Layer { return s.layer }

func (s *BrokerSource) Fetch(ctx context.Context, agentID string, _ orchestrator.Phase, task string) ([]Candidate, error) {
	res, err := s.querier.Query(ctx, agentID, s.category, broker.Params{"query": task})
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(res.Records))
	for _, rec := range res.Records {
		content := renderRecord(rec)
		relevance, ok := recordScore(rec)
		if !ok {
			relevance = termOverlap(task, content)
		}
		out = append(out, Candidate{
			Type:      s.typ,
			Content:   content,
			Relevance: relevance,
			Source:    string(s.category),
		})
	}
	return out, nil
}

// renderRecord flattens a broker record to text. A "content" field wins;
// anything else serializes to JSON.
func renderRecord(rec broker.Record) string {
	if s, ok := rec.Data["content"].(string); ok && s != "" {
		return s
	}
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return ""
	}
	return string(raw)
}

func recordScore(rec broker.Record) (float64, bool) {
	switch v := rec.Data["score"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

// termOverlap scores content against the task by shared-term fraction.
// An empty task yields a neutral 0.5 so everything stays selectable.
func termOverlap(task, content string) float64 {
	terms := strings.Fields(strings.ToLower(task))
	if len(terms) == 0 {
		return 0.5
	}
	haystack := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
