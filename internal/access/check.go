package access

import (
	"fmt"

	"github.com/project-aether/aetheros/internal/orchestrator"
)

// CheckAccess decides whether the profile may read the category during the
// given phase. A denial returns false with a human-readable reason.
func CheckAccess(profile Profile, category Category, phase orchestrator.Phase, policies PolicySet) (bool, string) {
	if !profile.HasCategory(category) {
		return false, fmt.Sprintf("category %s not in authorized categories", category)
	}

	policy, ok := policies[category]
	if !ok {
		return false, fmt.Sprintf("no access policy defined for category %s", category)
	}

	if profile.AccessLevel < policy.MinLevel {
		return false, fmt.Sprintf("insufficient access level (required: %s)", policy.MinLevel)
	}

	if phase != "" && !policy.PhaseAllowed(phase) {
		return false, fmt.Sprintf("category %s not accessible in phase %s", category, phase)
	}

	return true, ""
}

// CheckAction decides whether the profile may perform the action during the
// given phase.
func CheckAction(profile Profile, action string, phase orchestrator.Phase) (bool, string) {
	if !profile.HasAction(action) {
		return false, fmt.Sprintf("action %q not in authorized actions", action)
	}

	if phase != "" && !profile.ActiveIn(phase) {
		return false, fmt.Sprintf("agent not active in phase %s", phase)
	}

	return true, ""
}
