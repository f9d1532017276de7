// Package agent hosts the registered agents: per-agent FIFO task queues,
// point-to-point messaging with phase-based activation gating, doctrinal
// procedure instrumentation, and human escalation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/improve"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/provision"
)

var (
	// ErrAlreadyRegistered indicates a duplicate agent ID.
	ErrAlreadyRegistered = errors.New("agent already registered")

	// ErrQueueFull indicates the agent's task queue is at capacity.
	ErrQueueFull = errors.New("task queue full")
)

// defaultQueueDepth bounds each agent's pending task queue.
const defaultQueueDepth = 16

// ActivationSource reports cycle state and agent activation.
type ActivationSource interface {
	CurrentPhase() (orchestrator.Phase, bool)
	CurrentCycleID() (string, bool)
	IsAgentActive(agentID string) bool
	ActiveAgents() []string
}

// Flagger records process-improvement flags.
type Flagger interface {
	Flag(ctx context.Context, in improve.Input) improve.Flag
}

// ContextProvider builds context windows for agents.
type ContextProvider interface {
	Provision(ctx context.Context, agentID string, phase orchestrator.Phase, task string, maxTokens int) (*provision.AgentContext, error)
	Refresh(agentID string)
}

// Runtime hosts registered agents and their shared services. Safe for
// concurrent use.
type Runtime struct {
	activation  ActivationSource
	flagger     Flagger
	provisioner ContextProvider
	broker      InfoQuerier
	logger      *logging.Logger
	clock       func() time.Time
	queueDepth  int

	mu          sync.RWMutex
	agents      map[string]*Agent
	pairLocks   map[pairKey]*sync.Mutex
	coordCounts map[coordKey]int
	escalations []Escalation
	closed      bool
}

// Option customizes runtime construction.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) { r.clock = clock }
}

// WithProvisioner wires the context provisioner.
func WithProvisioner(p ContextProvider) Option {
	return func(r *Runtime) { r.provisioner = p }
}

// WithQueueDepth overrides the per-agent task queue capacity.
func WithQueueDepth(n int) Option {
	return func(r *Runtime) { r.queueDepth = n }
}

// NewRuntime creates an agent runtime.
func NewRuntime(activation ActivationSource, flagger Flagger, opts ...Option) *Runtime {
	r := &Runtime{
		activation:  activation,
		flagger:     flagger,
		logger:      logging.Nop(),
		clock:       time.Now,
		queueDepth:  defaultQueueDepth,
		agents:      make(map[string]*Agent),
		pairLocks:   make(map[pairKey]*sync.Mutex),
		coordCounts: make(map[coordKey]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent and starts its task worker. The handler receives
// the agent's inbound messages.
func (r *Runtime) Register(profile access.Profile, handler Handler) (*Agent, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[profile.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, profile.ID)
	}

	a := &Agent{
		profile: profile,
		handler: handler,
		rt:      r,
		tasks:   make(chan task, r.queueDepth),
		quit:    make(chan struct{}),
	}
	r.agents[profile.ID] = a
	go a.work()

	r.logger.Info(context.Background(), "agent registered",
		zap.String("agent_id", profile.ID),
		zap.String("role", profile.Role))
	return a, nil
}

// Agent returns a registered agent.
func (r *Runtime) Agent(id string) (*Agent, bool) {
	return r.agent(id)
}

func (r *Runtime) agent(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// AgentIDs returns the registered agent IDs.
func (r *Runtime) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every agent's task worker.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, a := range r.agents {
		close(a.quit)
	}
}

// Agent is one registered agent. Tasks execute sequentially in submission
// order; at most one task runs at a time.
type Agent struct {
	profile access.Profile
	handler Handler
	rt      *Runtime
	tasks   chan task
	quit    chan struct{}
}

type task struct {
	ctx  context.Context
	name string
	run  func(ctx context.Context)
}

// ID returns the agent's ID.
func (a *Agent) ID() string { return a.profile.ID }

// Profile returns the agent's access profile.
func (a *Agent) Profile() access.Profile { return a.profile }

// Submit queues a task for sequential execution. Fails with ErrQueueFull
// rather than blocking the caller.
func (a *Agent) Submit(ctx context.Context, name string, run func(ctx context.Context)) error {
	select {
	case a.tasks <- task{ctx: ctx, name: name, run: run}:
		return nil
	default:
		return fmt.Errorf("agent %s: %w", a.profile.ID, ErrQueueFull)
	}
}

func (a *Agent) work() {
	for {
		select {
		case <-a.quit:
			return
		case t := <-a.tasks:
			if t.ctx.Err() != nil {
				continue
			}
			t.run(t.ctx)
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg Message) (Reply, error) {
	if a.handler == nil {
		return Reply{}, fmt.Errorf("agent %s has no message handler", a.profile.ID)
	}
	return a.handler(ctx, msg)
}

// RequestContext builds the agent's context window for a task.
func (a *Agent) RequestContext(ctx context.Context, taskText string, maxTokens int) (*provision.AgentContext, error) {
	return a.rt.RequestContext(ctx, a.profile.ID, taskText, maxTokens)
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
