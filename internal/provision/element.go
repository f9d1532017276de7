package provision

import (
	"time"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// ElementType classifies a context element and fixes its ID prefix.
type ElementType string

const (
	TypeDoctrine      ElementType = "doctrine"
	TypeThreat        ElementType = "threat"
	TypeMission       ElementType = "mission"
	TypeHistorical    ElementType = "historical"
	TypeCollaborative ElementType = "collaborative"
)

// Prefix returns the typed ID prefix for elements of this type.
func (t ElementType) Prefix() string {
	switch t {
	case TypeDoctrine:
		return "DOC"
	case TypeThreat:
		return "THR"
	case TypeMission:
		return "MSN"
	case TypeHistorical:
		return "HIST"
	case TypeCollaborative:
		return "COLL"
	default:
		return "ELEM"
	}
}

// Element is one provisioned item in an agent's context window.
type Element struct {
	ID        string
	Layer     Layer
	Type      ElementType
	Content   string
	Relevance float64
	Tokens    int
	Source    string
}

// AgentContext is a built context window. Elements appear in composition
// order; IDs are unique across the provisioner's lifetime.
type AgentContext struct {
	AgentID     string
	Phase       orchestrator.Phase
	Task        string
	MaxTokens   int
	TotalTokens int
	Elements    []Element
	Degraded    bool
	CreatedAt   time.Time
}

// LayerElements returns the elements provisioned into one layer.
func (c *AgentContext) LayerElements(l Layer) []Element {
	var out []Element
	for _, el := range c.Elements {
		if el.Layer == l {
			out = append(out, el)
		}
	}
	return out
}

// ElementIDs returns every provisioned element ID, in order.
func (c *AgentContext) ElementIDs() []string {
	ids := make([]string, len(c.Elements))
	for i, el := range c.Elements {
		ids[i] = el.ID
	}
	return ids
}

// Element looks up an element by ID.
func (c *AgentContext) Element(id string) (Element, bool) {
	for _, el := range c.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}
