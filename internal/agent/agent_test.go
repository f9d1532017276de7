package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/broker"
	"github.com/project-aether/aetheros/internal/improve"
	"github.com/project-aether/aetheros/internal/orchestrator"
	"github.com/project-aether/aetheros/internal/provision"
)

type fakeActivation struct {
	mu      sync.Mutex
	phase   orchestrator.Phase
	cycleID string
	active  map[string]bool
}

func (f *fakeActivation) CurrentPhase() (orchestrator.Phase, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase, f.phase != ""
}

func (f *fakeActivation) CurrentCycleID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycleID, f.cycleID != ""
}

func (f *fakeActivation) IsAgentActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeActivation) ActiveAgents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, on := range f.active {
		if on {
			out = append(out, id)
		}
	}
	return out
}

func profile(id string) access.Profile {
	return access.Profile{ID: id, Role: id, AccessLevel: access.Operational}
}

func okHandler(payload map[string]any) Handler {
	return func(context.Context, Message) (Reply, error) {
		return Reply{OK: true, Payload: payload}, nil
	}
}

func newTestRuntime(t *testing.T, activation *fakeActivation, opts ...Option) (*Runtime, *improve.Logger) {
	t.Helper()
	flags := improve.NewLogger()
	rt := NewRuntime(activation, flags, opts...)
	t.Cleanup(rt.Close)
	return rt, flags
}

func TestExecuteDoctrinalProcedureFlagsOverrun(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	activation := &fakeActivation{phase: orchestrator.PhaseWeaponeering, cycleID: "ATO-0001"}
	rt, flags := newTestRuntime(t, activation, WithClock(func() time.Time { return now }))

	err := rt.ExecuteDoctrinalProcedure(context.Background(), "ew_planner", "mission_planning", 4.0,
		func(context.Context) error {
			now = now.Add(6 * time.Hour)
			return nil
		})
	require.NoError(t, err)

	all := flags.Flags()
	require.Len(t, all, 1)
	flag := all[0]
	assert.Equal(t, improve.TimingConstraint, flag.Type)
	assert.Equal(t, "mission_planning", flag.Workflow)
	assert.Equal(t, "ATO-0001", flag.CycleID)
	assert.InDelta(t, 2.0, flag.TimeWastedHours, 1e-9)
	assert.Equal(t, improve.SeverityHigh, flag.Severity)
}

func TestExecuteDoctrinalProcedureWithinBudget(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	activation := &fakeActivation{phase: orchestrator.PhaseWeaponeering}
	rt, flags := newTestRuntime(t, activation, WithClock(func() time.Time { return now }))

	// 5.1h against 4h expected stays under the 1.3x line.
	err := rt.ExecuteDoctrinalProcedure(context.Background(), "ew_planner", "mission_planning", 4.0,
		func(context.Context) error {
			now = now.Add(5*time.Hour + 6*time.Minute)
			return nil
		})
	require.NoError(t, err)
	assert.Empty(t, flags.Flags())
}

func TestExecuteDoctrinalProcedureCancellation(t *testing.T) {
	activation := &fakeActivation{phase: orchestrator.PhaseWeaponeering, cycleID: "ATO-0001"}
	rt, flags := newTestRuntime(t, activation)

	ctx, cancel := context.WithCancel(context.Background())
	err := rt.ExecuteDoctrinalProcedure(ctx, "ew_planner", "mission_planning", 4.0,
		func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
	require.ErrorIs(t, err, context.Canceled)

	all := flags.Flags()
	require.Len(t, all, 1)
	assert.Equal(t, improve.TimingConstraint, all[0].Type)
	assert.Equal(t, "cancelled", all[0].Context["reason"])
}

func TestSendGatesOnActivation(t *testing.T) {
	activation := &fakeActivation{
		phase:  orchestrator.PhaseWeaponeering,
		active: map[string]bool{"ew_planner": true, "spectrum_manager": true},
	}
	rt, _ := newTestRuntime(t, activation)

	_, err := rt.Register(profile("ew_planner"), okHandler(nil))
	require.NoError(t, err)
	_, err = rt.Register(profile("spectrum_manager"), okHandler(map[string]any{"granted": true}))
	require.NoError(t, err)

	reply, err := rt.Send(context.Background(), "ew_planner", "spectrum_manager",
		"frequency_request", map[string]any{"band": "S"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, true, reply.Payload["granted"])

	// Deactivated recipient: no delivery, no buffering.
	activation.mu.Lock()
	activation.active["spectrum_manager"] = false
	activation.mu.Unlock()
	_, err = rt.Send(context.Background(), "ew_planner", "spectrum_manager", "frequency_request", nil)
	require.ErrorIs(t, err, ErrNotActive)

	_, err = rt.Send(context.Background(), "ew_planner", "ghost", "ping", nil)
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSendWrapsHandlerError(t *testing.T) {
	activation := &fakeActivation{active: map[string]bool{"a": true, "b": true}}
	rt, _ := newTestRuntime(t, activation)

	_, err := rt.Register(profile("a"), okHandler(nil))
	require.NoError(t, err)
	_, err = rt.Register(profile("b"), func(context.Context, Message) (Reply, error) {
		return Reply{}, errors.New("cannot comply")
	})
	require.NoError(t, err)

	reply, err := rt.Send(context.Background(), "a", "b", "request", nil)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "cannot comply", reply.Err)
}

func TestRedundantCoordinationFlag(t *testing.T) {
	activation := &fakeActivation{
		phase:   orchestrator.PhaseWeaponeering,
		cycleID: "ATO-0001",
		active:  map[string]bool{"ew_planner": true, "spectrum_manager": true},
	}
	rt, flags := newTestRuntime(t, activation)

	_, err := rt.Register(profile("ew_planner"), okHandler(nil))
	require.NoError(t, err)
	_, err = rt.Register(profile("spectrum_manager"), okHandler(nil))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := rt.Send(context.Background(), "ew_planner", "spectrum_manager", "deconfliction", nil)
		require.NoError(t, err)
	}

	var coord []improve.Flag
	for _, f := range flags.Flags() {
		if f.Type == improve.RedundantCoordination {
			coord = append(coord, f)
		}
	}
	require.Len(t, coord, 1)
	assert.Equal(t, "deconfliction", coord[0].Workflow)

	// Counters reset at phase boundaries; the pattern can recur.
	rt.ResetCoordination()
	for i := 0; i < 3; i++ {
		_, err := rt.Send(context.Background(), "ew_planner", "spectrum_manager", "deconfliction", nil)
		require.NoError(t, err)
	}
	count := 0
	for _, f := range flags.Flags() {
		if f.Type == improve.RedundantCoordination {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestBroadcastAggregatesActiveReplies(t *testing.T) {
	activation := &fakeActivation{
		active: map[string]bool{"a": true, "b": true, "c": true, "d": false},
	}
	rt, _ := newTestRuntime(t, activation)

	for _, id := range []string{"a", "b", "c", "d"} {
		id := id
		_, err := rt.Register(profile(id), okHandler(map[string]any{"from": id}))
		require.NoError(t, err)
	}

	replies, err := rt.Broadcast(context.Background(), "a", "status_check", nil, time.Second)
	require.NoError(t, err)
	assert.Len(t, replies, 2)
	assert.True(t, replies["b"].OK)
	assert.True(t, replies["c"].OK)
}

func TestBroadcastDropsSlowAgents(t *testing.T) {
	activation := &fakeActivation{active: map[string]bool{"a": true, "slow": true, "fast": true}}
	rt, _ := newTestRuntime(t, activation)

	_, err := rt.Register(profile("a"), okHandler(nil))
	require.NoError(t, err)
	_, err = rt.Register(profile("fast"), okHandler(nil))
	require.NoError(t, err)
	_, err = rt.Register(profile("slow"), func(ctx context.Context, _ Message) (Reply, error) {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	})
	require.NoError(t, err)

	replies, err := rt.Broadcast(context.Background(), "a", "status_check", nil, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, replies, 1)
	assert.True(t, replies["fast"].OK)
}

type fakeBroker struct {
	result broker.Result
	err    error
}

func (f *fakeBroker) Query(context.Context, string, access.Category, broker.Params) (broker.Result, error) {
	return f.result, f.err
}

func TestQueryInformationFlagsGaps(t *testing.T) {
	activation := &fakeActivation{phase: orchestrator.PhaseWeaponeering, cycleID: "ATO-0001"}

	t.Run("denial", func(t *testing.T) {
		rt, flags := newTestRuntime(t, activation,
			WithBroker(&fakeBroker{err: broker.ErrUnauthorized}))
		_, err := rt.QueryInformation(context.Background(), "assessment", access.CategoryThreatData, nil)
		require.ErrorIs(t, err, broker.ErrUnauthorized)

		all := flags.Flags()
		require.Len(t, all, 1)
		assert.Equal(t, improve.InformationGap, all[0].Type)
	})

	t.Run("empty result", func(t *testing.T) {
		rt, flags := newTestRuntime(t, activation, WithBroker(&fakeBroker{}))
		_, err := rt.QueryInformation(context.Background(), "ew_planner", access.CategoryThreatData, nil)
		require.NoError(t, err)
		require.Len(t, flags.Flags(), 1)
	})

	t.Run("records returned", func(t *testing.T) {
		rt, flags := newTestRuntime(t, activation, WithBroker(&fakeBroker{
			result: broker.Result{Records: []broker.Record{{ID: "THR-001"}}},
		}))
		_, err := rt.QueryInformation(context.Background(), "ew_planner", access.CategoryThreatData, nil)
		require.NoError(t, err)
		assert.Empty(t, flags.Flags())
	})
}

func TestTaskQueueRunsFIFO(t *testing.T) {
	activation := &fakeActivation{active: map[string]bool{"a": true}}
	rt, _ := newTestRuntime(t, activation)

	a, err := rt.Register(profile("a"), nil)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, a.Submit(context.Background(), "task", func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	activation := &fakeActivation{active: map[string]bool{"a": true}}
	rt, _ := newTestRuntime(t, activation, WithQueueDepth(1))

	a, err := rt.Register(profile("a"), nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, a.Submit(context.Background(), "blocker", func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	// Worker is busy; the single buffer slot takes one more.
	require.NoError(t, a.Submit(context.Background(), "queued", func(context.Context) {}))
	err = a.Submit(context.Background(), "overflow", func(context.Context) {})
	require.ErrorIs(t, err, ErrQueueFull)
	close(release)
}

type fakeProvisioner struct {
	actx *provision.AgentContext
}

func (f *fakeProvisioner) Provision(_ context.Context, agentID string, phase orchestrator.Phase, task string, maxTokens int) (*provision.AgentContext, error) {
	f.actx = &provision.AgentContext{AgentID: agentID, Phase: phase, Task: task, MaxTokens: maxTokens}
	return f.actx, nil
}

func (f *fakeProvisioner) Refresh(string) {}

func TestRequestContextUsesCurrentPhase(t *testing.T) {
	activation := &fakeActivation{phase: orchestrator.PhaseWeaponeering, active: map[string]bool{"ew_planner": true}}
	prov := &fakeProvisioner{}
	rt, _ := newTestRuntime(t, activation, WithProvisioner(prov))

	a, err := rt.Register(profile("ew_planner"), nil)
	require.NoError(t, err)

	actx, err := a.RequestContext(context.Background(), "plan the corridor", 4000)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PhaseWeaponeering, actx.Phase)
	assert.Equal(t, "ew_planner", actx.AgentID)
	assert.Equal(t, 4000, actx.MaxTokens)
}

func TestEscalateToHuman(t *testing.T) {
	activation := &fakeActivation{phase: orchestrator.PhaseExecution}
	rt, _ := newTestRuntime(t, activation)

	rt.EscalateToHuman(context.Background(), "spectrum_manager", "conflicting priority orders",
		map[string]any{"missions": []string{"MSN-001", "MSN-002"}})

	escs := rt.Escalations()
	require.Len(t, escs, 1)
	assert.Equal(t, "spectrum_manager", escs[0].AgentID)
	assert.Equal(t, orchestrator.PhaseExecution, escs[0].Phase)
}
