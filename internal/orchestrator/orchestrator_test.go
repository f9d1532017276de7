package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, start time.Time) (*Orchestrator, *time.Time) {
	t.Helper()
	now := start
	o, err := New(nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return o, &now
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, DefaultSchedule().Validate())

	broken := DefaultSchedule()
	def := broken[PhaseWeaponeering]
	def.Offset = 15 * time.Hour
	broken[PhaseWeaponeering] = def
	require.Error(t, broken.Validate())

	missing := DefaultSchedule()
	delete(missing, PhaseExecution)
	require.Error(t, missing.Validate())
}

func TestPhaseAt(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		elapsed time.Duration
		want    Phase
		ok      bool
	}{
		{0, PhaseOEG, true},
		{5 * time.Hour, PhaseOEG, true},
		{6 * time.Hour, PhaseTargetDevelopment, true},
		{14 * time.Hour, PhaseWeaponeering, true},
		{29 * time.Hour, PhaseATOProduction, true},
		{30 * time.Hour, PhaseExecution, true},
		{54 * time.Hour, PhaseAssessment, true},
		{71*time.Hour + 59*time.Minute, PhaseAssessment, true},
		{72 * time.Hour, "", false},
		{-1 * time.Hour, "", false},
	}

	for _, tt := range tests {
		got, ok := s.PhaseAt(tt.elapsed)
		assert.Equal(t, tt.ok, ok, "elapsed %s", tt.elapsed)
		assert.Equal(t, tt.want, got, "elapsed %s", tt.elapsed)
	}
}

func TestStartCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	sum, err := o.StartCycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "ATO-0001", sum.CycleID)
	assert.Equal(t, PhaseOEG, sum.CurrentPhase)

	phase, ok := o.CurrentPhase()
	require.True(t, ok)
	assert.Equal(t, PhaseOEG, phase)

	_, err = o.StartCycle(ctx, "")
	require.ErrorIs(t, err, ErrAlreadyActive)
}

func TestAdvanceWalksLinearGraph(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Now())
	ctx := context.Background()

	_, err := o.Advance(ctx)
	require.ErrorIs(t, err, ErrNoCycle)

	_, err = o.StartCycle(ctx, "")
	require.NoError(t, err)

	want := []Phase{
		PhaseTargetDevelopment, PhaseWeaponeering, PhaseATOProduction,
		PhaseExecution, PhaseAssessment,
	}
	for _, expect := range want {
		got, err := o.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, expect, got)
	}

	// Advancing past assessment restarts with a fresh cycle.
	got, err := o.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseOEG, got)

	id, ok := o.CurrentCycleID()
	require.True(t, ok)
	assert.Equal(t, "ATO-0002", id)

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, "ATO-0001", history[0].CycleID)
	assert.Equal(t, CycleCompleted, history[0].Status)
}

func TestTickCrossesBoundaries(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	o, _ := newTestOrchestrator(t, start)
	ctx := context.Background()

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)

	// Mid-phase: nothing happens.
	events, err := o.Tick(ctx, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)

	// Jump straight into weaponeering: two boundaries crossed.
	events, err = o.Tick(ctx, start.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, PhaseExited, events[0].Kind)
	assert.Equal(t, PhaseOEG, events[0].Phase)
	assert.Equal(t, PhaseEntered, events[1].Kind)
	assert.Equal(t, PhaseTargetDevelopment, events[1].Phase)
	assert.Equal(t, PhaseEntered, events[3].Kind)
	assert.Equal(t, PhaseWeaponeering, events[3].Phase)

	phase, ok := o.CurrentPhase()
	require.True(t, ok)
	assert.Equal(t, PhaseWeaponeering, phase)

	// Same now again: idempotent.
	events, err = o.Tick(ctx, start.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)

	// Clock skew backward is tolerated.
	events, err = o.Tick(ctx, start.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTickCompletesCycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	o, _ := newTestOrchestrator(t, start)
	ctx := context.Background()

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)

	events, err := o.Tick(ctx, start.Add(73*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PhaseExited, events[0].Kind)

	_, ok := o.CurrentPhase()
	assert.False(t, ok)

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, CycleCompleted, history[0].Status)
}

func TestSkip(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Now())
	ctx := context.Background()

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)

	// OEG -> target development skips nothing.
	got, err := o.Skip(ctx, PhaseTargetDevelopment, "exercise compression", "col_smith")
	require.NoError(t, err)
	assert.Equal(t, PhaseTargetDevelopment, got)

	// Jumping over weaponeering (critical) is forbidden.
	_, err = o.Skip(ctx, PhaseATOProduction, "compression", "col_smith")
	require.ErrorIs(t, err, ErrIllegalTransition)

	// Backward moves are forbidden.
	_, err = o.Skip(ctx, PhaseOEG, "rewind", "col_smith")
	require.ErrorIs(t, err, ErrIllegalTransition)

	sum, ok := o.CycleSummary("")
	require.True(t, ok)
	require.Len(t, sum.Skips, 1)
	assert.Equal(t, "col_smith", sum.Skips[0].ApprovedBy)
}

func TestSubscribersRunInOrderAndSurviveFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Now())
	ctx := context.Background()

	var order []string
	o.Subscribe(func(ctx context.Context, ev Event) error {
		order = append(order, "first:"+string(ev.Kind))
		return errors.New("handler broke")
	})
	o.Subscribe(func(ctx context.Context, ev Event) error {
		order = append(order, "second:"+string(ev.Kind))
		return nil
	})

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)

	require.Equal(t, []string{
		"first:phase_entered",
		"second:phase_entered",
	}, order)

	order = nil
	_, err = o.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{
		"first:phase_exited",
		"second:phase_exited",
		"first:phase_entered",
		"second:phase_entered",
	}, order)
}

func TestActiveAgentsFollowPhase(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Now())
	ctx := context.Background()

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ems_strategy"}, o.ActiveAgents())
	assert.True(t, o.IsAgentActive("ems_strategy"))
	assert.False(t, o.IsAgentActive("ew_planner"))

	_, err = o.Advance(ctx)
	require.NoError(t, err)
	_, err = o.Advance(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ew_planner", "spectrum_manager"}, o.ActiveAgents())
	assert.False(t, o.IsAgentActive("ems_strategy"))
}

func TestRecordOutput(t *testing.T) {
	o, _ := newTestOrchestrator(t, time.Now())
	ctx := context.Background()

	require.ErrorIs(t, o.RecordOutput("ems_strategy", "draft"), ErrNoCycle)

	_, err := o.StartCycle(ctx, "")
	require.NoError(t, err)
	require.NoError(t, o.RecordOutput("ems_strategy", "draft"))

	sum, ok := o.CycleSummary("")
	require.True(t, ok)
	assert.Equal(t, []string{"ems_strategy"}, sum.OutputNames[PhaseOEG])
}

func TestPhaseNextWraps(t *testing.T) {
	assert.Equal(t, PhaseTargetDevelopment, PhaseOEG.Next())
	assert.Equal(t, PhaseOEG, PhaseAssessment.Next())
	assert.True(t, PhaseWeaponeering.Valid())
	assert.False(t, Phase("PHASE7").Valid())
}
