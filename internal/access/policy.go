package access

import (
	"fmt"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Policy is the access policy for one information category.
type Policy struct {
	Category     Category             `koanf:"category"`
	MinLevel     Level                `koanf:"min_level"`
	NeedToKnow   bool                 `koanf:"need_to_know"`
	RestrictedTo []orchestrator.Phase `koanf:"restricted_to"`
	Sanitize     bool                 `koanf:"sanitize"`
	Audit        bool                 `koanf:"audit"`
}

// PhaseAllowed reports whether the category may be accessed during the given
// phase. An empty restriction set allows every phase.
func (p Policy) PhaseAllowed(phase orchestrator.Phase) bool {
	if len(p.RestrictedTo) == 0 {
		return true
	}
	for _, allowed := range p.RestrictedTo {
		if allowed == phase {
			return true
		}
	}
	return false
}

// PolicySet maps categories to their policies.
type PolicySet map[Category]Policy

// DefaultPolicies returns the standard per-category policy table.
func DefaultPolicies() PolicySet {
	return PolicySet{
		CategoryDoctrine: {
			Category: CategoryDoctrine,
			MinLevel: Public,
		},
		CategoryThreatData: {
			Category:   CategoryThreatData,
			MinLevel:   Operational,
			NeedToKnow: true,
			Sanitize:   true,
			Audit:      true,
		},
		CategoryAssetStatus: {
			Category: CategoryAssetStatus,
			MinLevel: Operational,
			Audit:    true,
		},
		CategorySpectrumAllocation: {
			Category:   CategorySpectrumAllocation,
			MinLevel:   Operational,
			NeedToKnow: true,
			Audit:      true,
		},
		CategoryMissionPlan: {
			Category:   CategoryMissionPlan,
			MinLevel:   Sensitive,
			NeedToKnow: true,
			Sanitize:   true,
			Audit:      true,
		},
		CategoryOrganizational: {
			Category: CategoryOrganizational,
			MinLevel: Internal,
		},
		CategoryProcessMetrics: {
			Category: CategoryProcessMetrics,
			MinLevel: Internal,
			Audit:    true,
		},
	}
}

// Validate checks that every category has a policy and every policy is
// internally consistent.
func (ps PolicySet) Validate() error {
	for _, cat := range AllCategories() {
		policy, ok := ps[cat]
		if !ok {
			return fmt.Errorf("no policy for category %s", cat)
		}
		if !policy.MinLevel.Valid() {
			return fmt.Errorf("policy for %s has invalid min_level %d", cat, policy.MinLevel)
		}
		for _, phase := range policy.RestrictedTo {
			if !phase.Valid() {
				return fmt.Errorf("policy for %s restricts to unknown phase %q", cat, phase)
			}
		}
	}
	return nil
}
