package provision

import (
	"fmt"
	"math"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Layer names one slice of a context window. Layers are composed in the
// order below and pruned in the reverse order.
type Layer string

const (
	LayerDoctrinal     Layer = "doctrinal"
	LayerSituational   Layer = "situational"
	LayerHistorical    Layer = "historical"
	LayerCollaborative Layer = "collaborative"
)

// AllLayers returns the layers in composition order.
func AllLayers() []Layer {
	return []Layer{LayerDoctrinal, LayerSituational, LayerHistorical, LayerCollaborative}
}

// pruneOrder returns the layers in eviction order, least essential first.
func pruneOrder() []Layer {
	return []Layer{LayerCollaborative, LayerHistorical, LayerSituational, LayerDoctrinal}
}

// Template partitions a token budget across layers for one phase.
type Template struct {
	Shares map[Layer]float64 `koanf:"shares"`
}

// Share returns the layer's fraction of the budget.
func (t Template) Share(l Layer) float64 {
	return t.Shares[l]
}

// Validate checks that shares are non-negative and sum to one.
func (t Template) Validate() error {
	sum := 0.0
	for layer, share := range t.Shares {
		if share < 0 {
			return fmt.Errorf("layer %s has negative share %v", layer, share)
		}
		sum += share
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("layer shares sum to %v, want 1.0", sum)
	}
	return nil
}

// DefaultTemplate is the standard 40/30/20/10 split.
func DefaultTemplate() Template {
	return Template{Shares: map[Layer]float64{
		LayerDoctrinal:     0.40,
		LayerSituational:   0.30,
		LayerHistorical:    0.20,
		LayerCollaborative: 0.10,
	}}
}

// DefaultTemplates returns the per-phase overrides. Weaponeering trades
// doctrinal budget for situational awareness.
func DefaultTemplates() map[orchestrator.Phase]Template {
	return map[orchestrator.Phase]Template{
		orchestrator.PhaseWeaponeering: {Shares: map[Layer]float64{
			LayerDoctrinal:     0.30,
			LayerSituational:   0.40,
			LayerHistorical:    0.20,
			LayerCollaborative: 0.10,
		}},
	}
}
