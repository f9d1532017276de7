package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

type mapResolver map[string]access.Profile

func (m mapResolver) Profile(id string) (access.Profile, bool) {
	p, ok := m[id]
	return p, ok
}

type staticPhase orchestrator.Phase

func (s staticPhase) CurrentPhase() (orchestrator.Phase, bool) {
	return orchestrator.Phase(s), s != ""
}

func testResolver() mapResolver {
	m := make(mapResolver)
	for _, p := range access.DefaultProfiles() {
		m[p.ID] = p
	}
	return m
}

func seedThreatBroker(t *testing.T, phase orchestrator.Phase) *Broker {
	t.Helper()
	b := New(testResolver(), staticPhase(phase), nil)
	b.RegisterBackend(access.CategoryThreatData, &ThreatBackend{
		Store: NewMemThreatStore(Threat{
			ID:                "THR-001",
			Type:              "SAM",
			Lat:               36.27,
			Lon:               44.61,
			FrequencyBands:    []string{"S-band", "X-band"},
			Sources:           []string{"SIGINT-12"},
			CollectionMethods: []string{"airborne collection"},
		}),
	})
	return b
}

func TestQueryUnknownAgent(t *testing.T) {
	b := New(testResolver(), staticPhase(orchestrator.PhaseWeaponeering), nil)

	_, err := b.Query(context.Background(), "ghost", access.CategoryDoctrine, nil)
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestQueryUnauthorizedCategory(t *testing.T) {
	b := seedThreatBroker(t, orchestrator.PhaseAssessment)

	// assessment has no THREAT_DATA authorization.
	_, err := b.Query(context.Background(), "assessment", access.CategoryThreatData, nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	entries := b.AuditLog("assessment", access.CategoryThreatData)
	require.Len(t, entries, 1)
	assert.Equal(t, "denied", entries[0].Decision)
}

func TestQuerySanitizesByLevel(t *testing.T) {
	ctx := context.Background()
	b := seedThreatBroker(t, orchestrator.PhaseWeaponeering)

	// spectrum_manager is OPERATIONAL: coordinates coarsen, sources drop.
	opRes, err := b.Query(ctx, "spectrum_manager", access.CategoryThreatData, Params{"query": "SAM threats"})
	require.NoError(t, err)
	require.Len(t, opRes.Records, 1)
	assert.True(t, opRes.Sanitized)

	opData := opRes.Records[0].Data
	assert.NotContains(t, opData, "sources")
	assert.NotContains(t, opData, "collection_methods")
	opLoc := opData["location"].(map[string]any)
	assert.Equal(t, 36.0, opLoc["lat"])
	assert.Equal(t, 45.0, opLoc["lon"])

	// ew_planner is SENSITIVE: exact record.
	sensRes, err := b.Query(ctx, "ew_planner", access.CategoryThreatData, Params{"query": "SAM threats"})
	require.NoError(t, err)
	sensData := sensRes.Records[0].Data
	assert.Contains(t, sensData, "sources")
	sensLoc := sensData["location"].(map[string]any)
	assert.Equal(t, 36.27, sensLoc["lat"])
	assert.Equal(t, 44.61, sensLoc["lon"])

	// Non-location fields are identical across levels.
	assert.Equal(t, sensData["threat_type"], opData["threat_type"])
	assert.Equal(t, sensData["frequency_bands"], opData["frequency_bands"])
}

func TestSanitizeMonotoneDisclosure(t *testing.T) {
	rec := Record{ID: "THR-9", Data: map[string]any{
		"threat_type": "EW",
		"sources":     []string{"s1"},
		"location":    map[string]any{"lat": 10.4, "lon": 20.6},
	}}

	levels := []access.Level{access.Public, access.Internal, access.Operational, access.Sensitive, access.Critical}
	for i := 0; i+1 < len(levels); i++ {
		lower := SanitizeThreat(rec, levels[i])
		higher := SanitizeThreat(rec, levels[i+1])
		for k := range lower.Data {
			assert.Contains(t, higher.Data, k, "level %s lost field %s visible at %s", levels[i+1], k, levels[i])
		}
	}
}

func TestQueryAuditSequencing(t *testing.T) {
	ctx := context.Background()
	b := seedThreatBroker(t, orchestrator.PhaseWeaponeering)

	_, err := b.Query(ctx, "ew_planner", access.CategoryThreatData, Params{"query": "first"})
	require.NoError(t, err)
	_, err = b.Query(ctx, "ew_planner", access.CategoryThreatData, Params{"query": "second"})
	require.NoError(t, err)

	entries := b.AuditLog("ew_planner", "")
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Equal(t, "granted", entries[0].Decision)
	assert.Equal(t, "first", entries[0].QuerySummary)
	assert.True(t, entries[0].Sanitized)
}

func TestDoctrineQueriesAreNotAudited(t *testing.T) {
	ctx := context.Background()
	b := New(testResolver(), staticPhase(orchestrator.PhaseWeaponeering), nil)
	b.RegisterBackend(access.CategoryDoctrine, &StaticBackend{Records: []Record{
		{ID: "DOC-1", Data: map[string]any{"content": "doctrine passage"}},
	}})

	res, err := b.Query(ctx, "ew_planner", access.CategoryDoctrine, Params{"query": "jamming"})
	require.NoError(t, err)
	assert.Equal(t, []string{"DOC-1"}, res.ElementIDs)
	assert.False(t, res.Sanitized)
	assert.Empty(t, b.AuditLog("", ""))
}

func TestQueryBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	b := New(testResolver(), staticPhase(orchestrator.PhaseWeaponeering), nil)

	// No backend registered.
	_, err := b.Query(ctx, "ew_planner", access.CategoryDoctrine, nil)
	require.ErrorIs(t, err, ErrUnavailable)

	// Backend failure maps to the same taxonomy.
	b.RegisterBackend(access.CategoryDoctrine, BackendFunc(func(context.Context, Params) ([]Record, error) {
		return nil, errors.New("store offline")
	}))
	_, err = b.Query(ctx, "ew_planner", access.CategoryDoctrine, nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryDeadlinePropagates(t *testing.T) {
	b := New(testResolver(), staticPhase(orchestrator.PhaseWeaponeering), nil)
	b.RegisterBackend(access.CategoryDoctrine, BackendFunc(func(ctx context.Context, _ Params) ([]Record, error) {
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := b.Query(ctx, "ew_planner", access.CategoryDoctrine, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestMemSpectrumStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemSpectrumStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	window := TimeWindow{Start: base, End: base.Add(4 * time.Hour)}

	alloc, err := store.CreateAllocation(ctx, Allocation{
		Range:     FrequencyRange{MinMHz: 2400, MaxMHz: 2500},
		Window:    window,
		MissionID: "MSN-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "ALLOC-0001", alloc.ID)

	// Overlapping request conflicts.
	conflicts, err := store.CheckConflicts(ctx, FrequencyRange{MinMHz: 2450, MaxMHz: 2550}, window, "")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	_, err = store.CreateAllocation(ctx, Allocation{
		Range:  FrequencyRange{MinMHz: 2450, MaxMHz: 2550},
		Window: window,
	})
	require.ErrorIs(t, err, ErrSpectrumConflict)

	// Same band, disjoint window is fine.
	later := TimeWindow{Start: base.Add(6 * time.Hour), End: base.Add(8 * time.Hour)}
	_, err = store.CreateAllocation(ctx, Allocation{
		Range:  FrequencyRange{MinMHz: 2400, MaxMHz: 2500},
		Window: later,
	})
	require.NoError(t, err)

	// FindAvailable skips the taken slot.
	slot, err := store.FindAvailable(ctx, FrequencyRange{MinMHz: 2400, MaxMHz: 2700}, window, 100)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, slot.MinMHz)
}

func TestAuditTimestampsUseInjectedClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b := New(testResolver(), staticPhase(orchestrator.PhaseWeaponeering), nil,
		WithClock(func() time.Time { return at }))
	b.RegisterBackend(access.CategoryThreatData, &ThreatBackend{
		Store: NewMemThreatStore(Threat{ID: "THR-001", Type: "SAM"}),
	})

	_, err := b.Query(ctx, "ew_planner", access.CategoryThreatData, Params{"query": "SAM"})
	require.NoError(t, err)

	entries := b.AuditLog("ew_planner", "")
	require.Len(t, entries, 1)
	assert.Equal(t, at, entries[0].Timestamp)
}

func TestCreateAllocationConcurrentOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewMemSpectrumStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	window := TimeWindow{Start: base, End: base.Add(4 * time.Hour)}

	// Every request overlaps every other; exactly one may be granted.
	const writers = 8
	var wg sync.WaitGroup
	granted := make(chan Allocation, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(missionID string) {
			defer wg.Done()
			alloc, err := store.CreateAllocation(ctx, Allocation{
				Range:     FrequencyRange{MinMHz: 2400, MaxMHz: 2500},
				Window:    window,
				MissionID: missionID,
			})
			if err == nil {
				granted <- alloc
			} else {
				assert.ErrorIs(t, err, ErrSpectrumConflict)
			}
		}(fmt.Sprintf("MSN-%03d", i))
	}
	wg.Wait()
	close(granted)

	assert.Len(t, granted, 1)
	allocs, err := store.Allocations(ctx)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestMemAssetStoreReserve(t *testing.T) {
	ctx := context.Background()
	store := NewMemAssetStore(
		Asset{ID: "ASSET-EA-001", Platform: "EC-130H", Type: "electronic_attack", Capabilities: []string{"jamming"}},
	)
	window := TimeWindow{Start: time.Now(), End: time.Now().Add(time.Hour)}

	avail, err := store.QueryAvailability(ctx, []string{"electronic_attack"}, []string{"jamming"})
	require.NoError(t, err)
	require.Len(t, avail, 1)

	reserved, err := store.Reserve(ctx, "ASSET-EA-001", "MSN-001", window)
	require.NoError(t, err)
	assert.Equal(t, "reserved", reserved.Status)

	// Second reservation is denied.
	_, err = store.Reserve(ctx, "ASSET-EA-001", "MSN-002", window)
	require.ErrorIs(t, err, ErrAssetUnavailable)

	avail, err = store.QueryAvailability(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, avail)
}
