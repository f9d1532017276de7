// Package provision builds bounded, phase-templated context windows for
// agents. A window is composed layer by layer (doctrinal, situational,
// historical, collaborative) under a token budget, every element carries a
// globally unique typed ID, and a utilization tracker scores how much of the
// provisioned material each response actually used.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// DefaultDoctrinalFloor is the minimum doctrinal element count below which
// a window is marked degraded.
const DefaultDoctrinalFloor = 2

// ErrNoBudget indicates a non-positive token budget.
var ErrNoBudget = errors.New("token budget must be positive")

type cacheKey struct {
	agent string
	phase orchestrator.Phase
	task  string
}

// Provisioner builds and caches agent context windows. Safe for concurrent
// use.
type Provisioner struct {
	sources   []Source
	estimator Estimator
	templates map[orchestrator.Phase]Template
	fallback  Template
	floor     int
	logger    *logging.Logger
	clock     func() time.Time

	mu       sync.Mutex
	counters map[string]int
	cache    map[cacheKey]*AgentContext
}

// Option customizes provisioner construction.
type Option func(*Provisioner)

// WithEstimator replaces the token estimator.
func WithEstimator(e Estimator) Option {
	return func(p *Provisioner) { p.estimator = e }
}

// WithTemplates replaces the per-phase templates.
func WithTemplates(fallback Template, perPhase map[orchestrator.Phase]Template) Option {
	return func(p *Provisioner) {
		p.fallback = fallback
		p.templates = perPhase
	}
}

// WithDoctrinalFloor overrides the degraded-window threshold.
func WithDoctrinalFloor(n int) Option {
	return func(p *Provisioner) { p.floor = n }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Provisioner) { p.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Provisioner) { p.clock = clock }
}

// New creates a provisioner over the given layer sources.
func New(sources []Source, opts ...Option) *Provisioner {
	p := &Provisioner{
		sources:   sources,
		estimator: HeuristicEstimator{},
		templates: DefaultTemplates(),
		fallback:  DefaultTemplate(),
		floor:     DefaultDoctrinalFloor,
		logger:    logging.Nop(),
		clock:     time.Now,
		counters:  make(map[string]int),
		cache:     make(map[cacheKey]*AgentContext),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision builds (or returns the cached) context window for the agent's
// current task. Source failures degrade to an empty layer rather than
// failing the whole window.
func (p *Provisioner) Provision(ctx context.Context, agentID string, phase orchestrator.Phase, task string, maxTokens int) (*AgentContext, error) {
	if maxTokens <= 0 {
		return nil, ErrNoBudget
	}

	key := cacheKey{agent: agentID, phase: phase, task: task}
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	template, ok := p.templates[phase]
	if !ok {
		template = p.fallback
	}

	actx := &AgentContext{
		AgentID:   agentID,
		Phase:     phase,
		Task:      task,
		MaxTokens: maxTokens,
		CreatedAt: p.clock(),
	}

	for _, layer := range AllLayers() {
		budget := int(template.Share(layer) * float64(maxTokens))
		if budget <= 0 {
			continue
		}
		candidates := p.gather(ctx, layer, agentID, phase, task)
		p.fill(actx, layer, candidates, budget)
	}

	if actx.TotalTokens > maxTokens {
		p.prune(actx)
	}

	if len(actx.LayerElements(LayerDoctrinal)) < p.floor {
		actx.Degraded = true
	}

	p.logger.Debug(ctx, "context provisioned",
		zap.String("agent_id", agentID),
		zap.Int("elements", len(actx.Elements)),
		zap.Int("total_tokens", actx.TotalTokens),
		zap.Int("max_tokens", maxTokens),
		zap.Bool("degraded", actx.Degraded))

	p.mu.Lock()
	p.cache[key] = actx
	p.mu.Unlock()
	return actx, nil
}

func (p *Provisioner) gather(ctx context.Context, layer Layer, agentID string, phase orchestrator.Phase, task string) []Candidate {
	var out []Candidate
	for _, src := range p.sources {
		if src.Layer() != layer {
			continue
		}
		candidates, err := src.Fetch(ctx, agentID, phase, task)
		if err != nil {
			p.logger.Warn(ctx, "layer source failed",
				zap.String("layer", string(layer)),
				zap.String("agent_id", agentID),
				zap.Error(err))
			continue
		}
		out = append(out, candidates...)
	}
	return out
}

// fill selects candidates greedily by descending relevance under the
// layer's sub-budget.
func (p *Provisioner) fill(actx *AgentContext, layer Layer, candidates []Candidate, budget int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Relevance > candidates[j].Relevance
	})

	used := 0
	for _, c := range candidates {
		tokens := p.estimator.Count(c.Content)
		if used+tokens > budget {
			continue
		}
		used += tokens
		actx.Elements = append(actx.Elements, Element{
			ID:        p.nextID(c.Type),
			Layer:     layer,
			Type:      c.Type,
			Content:   c.Content,
			Relevance: c.Relevance,
			Tokens:    tokens,
			Source:    c.Source,
		})
		actx.TotalTokens += tokens
	}
}

// prune evicts lowest-relevance elements, least essential layer first,
// until the window fits its budget. The doctrinal layer keeps its floor.
func (p *Provisioner) prune(actx *AgentContext) {
	for _, layer := range pruneOrder() {
		for actx.TotalTokens > actx.MaxTokens {
			elems := actx.LayerElements(layer)
			if layer == LayerDoctrinal && len(elems) <= p.floor {
				break
			}
			if len(elems) == 0 {
				break
			}
			victim := elems[0]
			for _, el := range elems[1:] {
				if el.Relevance < victim.Relevance {
					victim = el
				}
			}
			p.remove(actx, victim.ID)
		}
	}
	if actx.TotalTokens > actx.MaxTokens {
		actx.Degraded = true
	}
}

func (p *Provisioner) remove(actx *AgentContext, id string) {
	for i, el := range actx.Elements {
		if el.ID == id {
			actx.TotalTokens -= el.Tokens
			actx.Elements = append(actx.Elements[:i], actx.Elements[i+1:]...)
			return
		}
	}
}

func (p *Provisioner) nextID(typ ElementType) string {
	prefix := typ.Prefix()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[prefix]++
	return fmt.Sprintf("%s-%d", prefix, p.counters[prefix])
}

// Refresh drops the agent's cached windows, forcing the next Provision to
// rebuild.
func (p *Provisioner) Refresh(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.cache {
		if key.agent == agentID {
			delete(p.cache, key)
		}
	}
}

// OnPhaseTransition invalidates every cached window.
func (p *Provisioner) OnPhaseTransition() {
	p.invalidateAll()
}

// OnIntelligenceEvent invalidates every cached window; situational layers
// are stale the moment new intelligence lands.
func (p *Provisioner) OnIntelligenceEvent() {
	p.invalidateAll()
}

func (p *Provisioner) invalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[cacheKey]*AgentContext)
}
