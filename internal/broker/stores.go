package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Typed store interfaces for the operational categories. Each backend
// adapter in backends.go exposes one of these through the broker's generic
// query path; agents with write actions use the typed methods directly.

var (
	// ErrSpectrumConflict indicates an allocation overlaps an existing one.
	ErrSpectrumConflict = errors.New("spectrum conflict")

	// ErrAssetUnavailable indicates the asset is not available to reserve.
	ErrAssetUnavailable = errors.New("asset unavailable")
)

// FrequencyRange is a closed frequency band in MHz.
type FrequencyRange struct {
	MinMHz float64
	MaxMHz float64
}

// Overlaps reports whether two ranges share any frequency.
func (r FrequencyRange) Overlaps(o FrequencyRange) bool {
	return r.MinMHz < o.MaxMHz && o.MinMHz < r.MaxMHz
}

// TimeWindow is a half-open time interval.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two windows share any instant.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Allocation is one granted spectrum assignment.
type Allocation struct {
	ID        string
	Range     FrequencyRange
	Window    TimeWindow
	MissionID string
	Area      string
}

// SpectrumStore manages frequency allocations.
type SpectrumStore interface {
	CheckConflicts(ctx context.Context, r FrequencyRange, w TimeWindow, area string) ([]Allocation, error)
	CreateAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
	FindAvailable(ctx context.Context, within FrequencyRange, w TimeWindow, bandwidthMHz float64) (FrequencyRange, error)
	Allocations(ctx context.Context) ([]Allocation, error)
}

// MemSpectrumStore is the in-memory SpectrumStore.
type MemSpectrumStore struct {
	mu      sync.Mutex
	allocs  []Allocation
	counter int
}

// NewMemSpectrumStore creates an empty in-memory spectrum store.
func NewMemSpectrumStore() *MemSpectrumStore {
	return &MemSpectrumStore{}
}

// conflictsLocked scans for overlapping allocations. Callers hold s.mu.
func (s *MemSpectrumStore) conflictsLocked(r FrequencyRange, w TimeWindow, area string) []Allocation {
	var conflicts []Allocation
	for _, a := range s.allocs {
		if a.Range.Overlaps(r) && a.Window.Overlaps(w) && (area == "" || a.Area == "" || a.Area == area) {
			conflicts = append(conflicts, a)
		}
	}
	return conflicts
}

func (s *MemSpectrumStore) CheckConflicts(_ context.Context, r FrequencyRange, w TimeWindow, area string) ([]Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictsLocked(r, w, area), nil
}

// CreateAllocation checks and inserts under one lock acquisition so two
// concurrent overlapping requests can never both be granted.
func (s *MemSpectrumStore) CreateAllocation(_ context.Context, alloc Allocation) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conflicts := s.conflictsLocked(alloc.Range, alloc.Window, alloc.Area); len(conflicts) > 0 {
		return Allocation{}, fmt.Errorf("%w: overlaps %s", ErrSpectrumConflict, conflicts[0].ID)
	}
	s.counter++
	alloc.ID = fmt.Sprintf("ALLOC-%04d", s.counter)
	s.allocs = append(s.allocs, alloc)
	return alloc, nil
}

func (s *MemSpectrumStore) FindAvailable(ctx context.Context, within FrequencyRange, w TimeWindow, bandwidthMHz float64) (FrequencyRange, error) {
	if bandwidthMHz <= 0 || within.MaxMHz-within.MinMHz < bandwidthMHz {
		return FrequencyRange{}, fmt.Errorf("no %v MHz slot inside %v-%v", bandwidthMHz, within.MinMHz, within.MaxMHz)
	}

	// Slide a window across the band until a conflict-free slot appears.
	for lo := within.MinMHz; lo+bandwidthMHz <= within.MaxMHz; lo += bandwidthMHz {
		candidate := FrequencyRange{MinMHz: lo, MaxMHz: lo + bandwidthMHz}
		conflicts, err := s.CheckConflicts(ctx, candidate, w, "")
		if err != nil {
			return FrequencyRange{}, err
		}
		if len(conflicts) == 0 {
			return candidate, nil
		}
	}
	return FrequencyRange{}, fmt.Errorf("%w: band fully allocated", ErrSpectrumConflict)
}

func (s *MemSpectrumStore) Allocations(_ context.Context) ([]Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Allocation, len(s.allocs))
	copy(out, s.allocs)
	return out, nil
}

// Threat is one threat-intelligence record.
type Threat struct {
	ID                string
	Type              string
	Lat               float64
	Lon               float64
	FrequencyBands    []string
	Sources           []string
	CollectionMethods []string
	Area              string
}

// ThreatStore serves threat intelligence.
type ThreatStore interface {
	Query(ctx context.Context, area string, types []string) ([]Threat, error)
}

// MemThreatStore is the in-memory ThreatStore.
type MemThreatStore struct {
	mu      sync.RWMutex
	threats []Threat
}

// NewMemThreatStore creates a threat store seeded with the given records.
func NewMemThreatStore(threats ...Threat) *MemThreatStore {
	return &MemThreatStore{threats: threats}
}

// Add appends a threat record (a new intelligence event).
func (s *MemThreatStore) Add(t Threat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threats = append(s.threats, t)
}

func (s *MemThreatStore) Query(_ context.Context, area string, types []string) ([]Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Threat
	for _, t := range s.threats {
		if area != "" && t.Area != area {
			continue
		}
		if len(types) > 0 && !contains(types, t.Type) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Asset is one EMS platform.
type Asset struct {
	ID           string
	Platform     string
	Type         string
	Capabilities []string
	Status       string // available, reserved, unavailable
	MissionID    string
}

// AssetStore tracks platform availability and reservations.
type AssetStore interface {
	QueryAvailability(ctx context.Context, types []string, capabilities []string) ([]Asset, error)
	Reserve(ctx context.Context, assetID, missionID string, w TimeWindow) (Asset, error)
}

// MemAssetStore is the in-memory AssetStore.
type MemAssetStore struct {
	mu     sync.Mutex
	assets map[string]*Asset
}

// NewMemAssetStore creates an asset store seeded with the given assets.
func NewMemAssetStore(assets ...Asset) *MemAssetStore {
	m := &MemAssetStore{assets: make(map[string]*Asset, len(assets))}
	for i := range assets {
		a := assets[i]
		if a.Status == "" {
			a.Status = "available"
		}
		m.assets[a.ID] = &a
	}
	return m
}

func (s *MemAssetStore) QueryAvailability(_ context.Context, types []string, capabilities []string) ([]Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Asset
	for _, a := range s.assets {
		if a.Status != "available" {
			continue
		}
		if len(types) > 0 && !contains(types, a.Type) {
			continue
		}
		if !hasAll(a.Capabilities, capabilities) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *MemAssetStore) Reserve(_ context.Context, assetID, missionID string, _ TimeWindow) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[assetID]
	if !ok {
		return Asset{}, fmt.Errorf("asset %s: %w", assetID, ErrAssetUnavailable)
	}
	if a.Status != "available" {
		return Asset{}, fmt.Errorf("asset %s is %s: %w", assetID, a.Status, ErrAssetUnavailable)
	}
	a.Status = "reserved"
	a.MissionID = missionID
	return *a, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func hasAll(haystack, needles []string) bool {
	for _, n := range needles {
		if !contains(haystack, n) {
			return false
		}
	}
	return true
}
