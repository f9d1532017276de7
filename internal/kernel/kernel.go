// Package kernel is the composition root: it owns the agent registry and
// wires the orchestrator, authorization engine, information broker, context
// provisioner, process-improvement logger, and agent runtime into one public
// API.
package kernel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/agent"
	"github.com/project-aether/aetheros/internal/authz"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/doctrine"
	"github.com/project-aether/aetheros/internal/improve"
	"github.com/project-aether/aetheros/internal/llm"
	"github.com/project-aether/aetheros/internal/logging"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/provision"
)

// Options configures kernel construction. Zero values take defaults; the
// optional integrations (doctrine KB, policy evaluator, LLM adapter,
// embedder) stay disabled when nil.
type Options struct {
	Logger   *logging.Logger
	Schedule orchestrator.Schedule
	Policies access.PolicySet

	KB              *doctrine.KB
	PolicyEvaluator authz.PolicyEvaluator
	LLM             *llm.Adapter
	Embedder        doctrine.Embedder

	Clock func() time.Time
}

// Kernel is the orchestration layer's public surface. Safe for concurrent
// use.
type Kernel struct {
	logger      *logging.Logger
	registry    *registry
	orch        *orchestrator.Orchestrator
	activation  *activationView
	broker      *broker.Broker
	engine      *authz.Engine
	improve     *improve.Logger
	monitor     *improve.Monitor
	provisioner *provision.Provisioner
	tracker     *provision.Tracker
	runtime     *agent.Runtime
	kb          *doctrine.KB
	llm         *llm.Adapter
}

// cycleIDView adapts the orchestrator for the authorization engine, which
// treats "no cycle" as an empty ID.
type cycleIDView struct {
	orch *orchestrator.Orchestrator
}

func (v cycleIDView) CurrentPhase() (orchestrator.Phase, bool) {
	return v.orch.CurrentPhase()
}

func (v cycleIDView) CurrentCycleID() string {
	id, _ := v.orch.CurrentCycleID()
	return id
}

// New builds a fully wired kernel.
func New(opts Options) (*Kernel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	policies := opts.Policies
	if policies == nil {
		policies = access.DefaultPolicies()
	}

	orch, err := orchestrator.New(opts.Schedule,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithClock(clock))
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		logger:     logger,
		registry:   newRegistry(),
		orch:       orch,
		activation: newActivationView(orch),
		kb:         opts.KB,
		llm:        opts.LLM,
	}

	k.broker = broker.New(k.registry, orch, policies,
		broker.WithLogger(logger.Named("broker")),
		broker.WithClock(clock))
	if opts.KB != nil {
		k.broker.RegisterBackend(access.CategoryDoctrine, &broker.DoctrineBackend{KB: opts.KB})
	}

	engineOpts := []authz.Option{
		authz.WithPolicies(policies),
		authz.WithLogger(logger.Named("authz")),
		authz.WithClock(clock),
	}
	if opts.KB != nil {
		engineOpts = append(engineOpts, authz.WithCompliance(opts.KB))
	}
	if opts.PolicyEvaluator != nil {
		engineOpts = append(engineOpts, authz.WithPolicyEvaluator(opts.PolicyEvaluator))
	}
	k.engine = authz.NewEngine(k.registry, cycleIDView{orch: orch}, engineOpts...)

	k.improve = improve.NewLogger(
		improve.WithLogger(logger.Named("improve")),
		improve.WithClock(clock))
	k.monitor = improve.NewMonitor(k.improve)

	sources := defaultSources(k.broker)
	if opts.KB != nil {
		sources = append(sources, bestPracticeSource(opts.KB))
	}
	k.provisioner = provision.New(sources,
		provision.WithLogger(logger.Named("provision")),
		provision.WithClock(clock))
	k.tracker = provision.NewTracker(opts.Embedder)

	k.runtime = agent.NewRuntime(k.activation, k.improve,
		agent.WithLogger(logger.Named("agent")),
		agent.WithClock(clock),
		agent.WithBroker(k.broker),
		agent.WithProvisioner(k.provisioner))

	orch.Subscribe(k.onPhaseEvent)
	return k, nil
}

// defaultSources maps broker categories onto the four context layers.
func defaultSources(b *broker.Broker) []provision.Source {
	return []provision.Source{
		provision.NewBrokerSource(b, provision.LayerDoctrinal, provision.TypeDoctrine, access.CategoryDoctrine),
		provision.NewBrokerSource(b, provision.LayerSituational, provision.TypeThreat, access.CategoryThreatData),
		provision.NewBrokerSource(b, provision.LayerSituational, provision.TypeMission, access.CategoryMissionPlan),
		provision.NewBrokerSource(b, provision.LayerHistorical, provision.TypeHistorical, access.CategoryProcessMetrics),
		provision.NewBrokerSource(b, provision.LayerCollaborative, provision.TypeCollaborative, access.CategoryOrganizational),
	}
}

// bestPracticeSource folds per-role best-practice passages into the
// doctrinal layer.
func bestPracticeSource(kb *doctrine.KB) provision.Source {
	return provision.NewSource(provision.LayerDoctrinal,
		func(ctx context.Context, agentID string, _ orchestrator.Phase, _ string) ([]provision.Candidate, error) {
			hits, err := kb.BestPractices(ctx, agentID, 3)
			if err != nil {
				return nil, err
			}
			out := make([]provision.Candidate, 0, len(hits))
			for _, h := range hits {
				out = append(out, provision.Candidate{
					Type:      provision.TypeDoctrine,
					Content:   h.Content,
					Relevance: float64(h.Score),
					Source:    h.ID,
				})
			}
			return out, nil
		})
}

func (k *Kernel) onPhaseEvent(ctx context.Context, ev orchestrator.Event) error {
	if ev.Kind != orchestrator.PhaseEntered {
		return nil
	}
	if ev.Phase == orchestrator.PhaseOEG {
		k.monitor.OnCycleStart()
	}
	k.activation.clear()
	k.provisioner.OnPhaseTransition()
	k.runtime.ResetCoordination()
	k.logger.Info(ctx, "phase activation updated",
		zap.String("phase", string(ev.Phase)),
		zap.String("cycle_id", ev.CycleID),
		zap.Strings("active_agents", k.activation.ActiveAgents()))
	return nil
}

// Close stops the agent runtime.
func (k *Kernel) Close() {
	k.runtime.Close()
}

// RegisterAgent adds an agent to the registry and runtime. The handler
// receives the agent's inbound messages; nil is allowed for agents that
// never receive.
func (k *Kernel) RegisterAgent(profile access.Profile, handler agent.Handler) (*agent.Agent, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := k.registry.add(profile); err != nil {
		return nil, err
	}
	return k.runtime.Register(profile, handler)
}

// ActivateAgent pins an agent active regardless of the schedule until the
// next phase boundary.
func (k *Kernel) ActivateAgent(id string) {
	k.activation.force(id, true)
}

// DeactivateAgent pins an agent inactive until the next phase boundary.
func (k *Kernel) DeactivateAgent(id string) {
	k.activation.force(id, false)
}

// RegisterBackend wires an information backend for one category.
func (k *Kernel) RegisterBackend(cat access.Category, backend broker.Backend) {
	k.broker.RegisterBackend(cat, backend)
}

// StartCycle begins a new ATO cycle. An empty ID generates the next
// sequential one.
func (k *Kernel) StartCycle(ctx context.Context, cycleID string) (orchestrator.Summary, error) {
	return k.orch.StartCycle(ctx, cycleID)
}

// CurrentPhase returns the active phase, if a cycle is running.
func (k *Kernel) CurrentPhase() (orchestrator.Phase, bool) {
	return k.orch.CurrentPhase()
}

// AdvancePhase moves the cycle to its next phase.
func (k *Kernel) AdvancePhase(ctx context.Context) (orchestrator.Phase, error) {
	return k.orch.Advance(ctx)
}

// Tick drives wall-clock transitions.
func (k *Kernel) Tick(ctx context.Context, now time.Time) ([]orchestrator.Event, error) {
	return k.orch.Tick(ctx, now)
}

// ActiveAgents returns the agents currently allowed to act.
func (k *Kernel) ActiveAgents() []string {
	return k.activation.ActiveAgents()
}

// QueryInformation runs an access-checked read under the agent's identity.
// Denials and empty results auto-flag information gaps.
func (k *Kernel) QueryInformation(ctx context.Context, agentID string, category access.Category, params broker.Params) (broker.Result, error) {
	return k.runtime.QueryInformation(ctx, agentID, category, params)
}

// AuthorizeAction runs the six-factor decision.
func (k *Kernel) AuthorizeAction(ctx context.Context, req authz.Request) authz.Decision {
	return k.engine.Authorize(ctx, req)
}

// Engine exposes the authorization engine for its convenience wrappers.
func (k *Kernel) Engine() *authz.Engine {
	return k.engine
}

// SendAgentMessage delivers a point-to-point request between active agents.
func (k *Kernel) SendAgentMessage(ctx context.Context, from, to, msgType string, payload map[string]any) (agent.Reply, error) {
	return k.runtime.Send(ctx, from, to, msgType, payload)
}

// BroadcastMessage fans a message to every active agent, best-effort within
// the timeout.
func (k *Kernel) BroadcastMessage(ctx context.Context, from, msgType string, payload map[string]any, timeout time.Duration) (map[string]agent.Reply, error) {
	return k.runtime.Broadcast(ctx, from, msgType, payload, timeout)
}

// ProvisionContext builds an agent's context window for a task.
func (k *Kernel) ProvisionContext(ctx context.Context, agentID, task string, maxTokens int) (*provision.AgentContext, error) {
	return k.runtime.RequestContext(ctx, agentID, task, maxTokens)
}

// RefreshContext drops an agent's cached context windows so the next
// ProvisionContext rebuilds from live sources.
func (k *Kernel) RefreshContext(agentID string) {
	k.runtime.RefreshContext(agentID)
}

// NotifyIntelligenceEvent invalidates every cached context window; new
// intelligence makes situational layers stale everywhere.
func (k *Kernel) NotifyIntelligenceEvent() {
	k.provisioner.OnIntelligenceEvent()
}

// RecordAgentResponse scores context utilization for a completed task.
func (k *Kernel) RecordAgentResponse(ctx context.Context, actx *provision.AgentContext, response string) provision.Usage {
	return k.tracker.RecordUsage(ctx, actx, response)
}

// ExecuteDoctrinalProcedure times a procedure and auto-flags deviations.
func (k *Kernel) ExecuteDoctrinalProcedure(ctx context.Context, agentID, procedure string, expectedHours float64, fn func(ctx context.Context) error) error {
	return k.runtime.ExecuteDoctrinalProcedure(ctx, agentID, procedure, expectedHours, fn)
}

// FlagInefficiency records a process-improvement flag directly.
func (k *Kernel) FlagInefficiency(ctx context.Context, in improve.Input) improve.Flag {
	return k.improve.Flag(ctx, in)
}

// Improve exposes the process-improvement logger.
func (k *Kernel) Improve() *improve.Logger {
	return k.improve
}

// Monitor exposes the rate-based auto-flag monitor for callers observing
// spectrum conflicts, reservation denials, or manual steps.
func (k *Kernel) Monitor() *improve.Monitor {
	return k.monitor
}
