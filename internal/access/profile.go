package access

import (
	"fmt"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// Profile is an agent's immutable access profile, fixed at registration.
type Profile struct {
	ID                  string               `koanf:"id"`
	Role                string               `koanf:"role"`
	AccessLevel         Level                `koanf:"access_level"`
	Categories          []Category           `koanf:"authorized_categories"`
	Actions             []string             `koanf:"authorized_actions"`
	ActivePhases        []orchestrator.Phase `koanf:"active_phases"`
	DelegationAuthority bool                 `koanf:"delegation_authority"`
	MaxDelegationLevel  Level                `koanf:"max_delegation_level"`
}

// HasCategory reports whether the profile authorizes the category.
func (p Profile) HasCategory(cat Category) bool {
	for _, c := range p.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// HasAction reports whether the profile authorizes the action.
func (p Profile) HasAction(action string) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// ActiveIn reports whether the profile permits acting during the phase.
// An empty phase set means no phase restriction.
func (p Profile) ActiveIn(phase orchestrator.Phase) bool {
	if len(p.ActivePhases) == 0 {
		return true
	}
	for _, ph := range p.ActivePhases {
		if ph == phase {
			return true
		}
	}
	return false
}

// Validate checks the profile for unusable values.
func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	if !p.AccessLevel.Valid() {
		return fmt.Errorf("profile %s: invalid access level %d", p.ID, p.AccessLevel)
	}
	for _, cat := range p.Categories {
		if !cat.Valid() {
			return fmt.Errorf("profile %s: unknown category %q", p.ID, cat)
		}
	}
	for _, phase := range p.ActivePhases {
		if !phase.Valid() {
			return fmt.Errorf("profile %s: unknown phase %q", p.ID, phase)
		}
	}
	if p.DelegationAuthority && !p.MaxDelegationLevel.Valid() {
		return fmt.Errorf("profile %s: invalid max delegation level %d", p.ID, p.MaxDelegationLevel)
	}
	return nil
}

// DefaultProfiles returns the standard AOC agent roster.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:          "ems_strategy",
			Role:        "ems_strategy",
			AccessLevel: Sensitive,
			Categories: []Category{
				CategoryDoctrine,
				CategoryThreatData,
				CategoryOrganizational,
				CategoryProcessMetrics,
			},
			Actions: []string{
				"query_doctrine",
				"query_threats",
				"develop_strategy",
				"request_information",
			},
			ActivePhases: []orchestrator.Phase{
				orchestrator.PhaseOEG,
				orchestrator.PhaseTargetDevelopment,
			},
		},
		{
			ID:          "spectrum_manager",
			Role:        "spectrum_manager",
			AccessLevel: Operational,
			Categories: []Category{
				CategoryDoctrine,
				CategorySpectrumAllocation,
				CategoryAssetStatus,
				CategoryThreatData,
			},
			Actions: []string{
				"query_doctrine",
				"allocate_frequency",
				"check_spectrum_conflicts",
				"coordinate_deconfliction",
				"emergency_reallocation",
				"query_assets",
			},
			ActivePhases: []orchestrator.Phase{
				orchestrator.PhaseWeaponeering,
				orchestrator.PhaseExecution,
			},
			DelegationAuthority: true,
			MaxDelegationLevel:  Operational,
		},
		{
			ID:          "ew_planner",
			Role:        "ew_planner",
			AccessLevel: Sensitive,
			Categories: []Category{
				CategoryDoctrine,
				CategoryThreatData,
				CategoryAssetStatus,
				CategoryMissionPlan,
				CategorySpectrumAllocation,
			},
			Actions: []string{
				"query_doctrine",
				"query_threats",
				"query_assets",
				"plan_ew_missions",
				"request_frequency_allocation",
				"assign_ems_asset",
				"check_fratricide",
			},
			ActivePhases: []orchestrator.Phase{
				orchestrator.PhaseWeaponeering,
			},
		},
		{
			ID:          "ato_producer",
			Role:        "ato_producer",
			AccessLevel: Sensitive,
			Categories: []Category{
				CategoryDoctrine,
				CategoryMissionPlan,
				CategorySpectrumAllocation,
				CategoryAssetStatus,
			},
			Actions: []string{
				"query_doctrine",
				"produce_ato_ems_annex",
				"validate_mission_approvals",
				"integrate_ems_with_strikes",
			},
			ActivePhases: []orchestrator.Phase{
				orchestrator.PhaseATOProduction,
			},
		},
		{
			ID:          "assessment",
			Role:        "assessment",
			AccessLevel: Operational,
			Categories: []Category{
				CategoryDoctrine,
				CategoryMissionPlan,
				CategoryProcessMetrics,
				CategoryOrganizational,
			},
			Actions: []string{
				"query_doctrine",
				"assess_ato_cycle",
				"analyze_doctrine_effectiveness",
				"generate_lessons_learned",
				"query_process_metrics",
			},
			ActivePhases: []orchestrator.Phase{
				orchestrator.PhaseAssessment,
			},
		},
	}
}
