package kernel

import (
	"fmt"
	"sync"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// registry holds agent profiles. Readers get consistent snapshots; writes
// happen only through RegisterAgent.
type registry struct {
	mu       sync.RWMutex
	profiles map[string]access.Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[string]access.Profile)}
}

// Profile implements the resolver interface the broker and authorization
// engine share.
func (r *registry) Profile(id string) (access.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

func (r *registry) add(p access.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; ok {
		return fmt.Errorf("agent %s already registered", p.ID)
	}
	r.profiles[p.ID] = p
	return nil
}

func (r *registry) snapshot() []access.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]access.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// activationView layers manual activate/deactivate overrides on top of the
// orchestrator's schedule-driven activation. It is the runtime's single
// source of activation truth.
type activationView struct {
	orch *orchestrator.Orchestrator

	mu        sync.RWMutex
	overrides map[string]bool
}

func newActivationView(orch *orchestrator.Orchestrator) *activationView {
	return &activationView{orch: orch, overrides: make(map[string]bool)}
}

func (v *activationView) CurrentPhase() (orchestrator.Phase, bool) {
	return v.orch.CurrentPhase()
}

func (v *activationView) CurrentCycleID() (string, bool) {
	return v.orch.CurrentCycleID()
}

func (v *activationView) IsAgentActive(agentID string) bool {
	v.mu.RLock()
	forced, ok := v.overrides[agentID]
	v.mu.RUnlock()
	if ok {
		return forced
	}
	return v.orch.IsAgentActive(agentID)
}

func (v *activationView) ActiveAgents() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, id := range v.orch.ActiveAgents() {
		if forced, ok := v.overrides[id]; ok && !forced {
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id, forced := range v.overrides {
		if forced && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// force pins an agent active or inactive regardless of the schedule.
func (v *activationView) force(agentID string, active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrides[agentID] = active
}

// clear drops every manual override, typically at a phase boundary.
func (v *activationView) clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrides = make(map[string]bool)
}
