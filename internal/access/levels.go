// Package access defines organizational access levels, information
// categories, per-category access policies, and agent access profiles.
// Levels are organizational rankings, not classification markings.
package access

import "fmt"

// Level is a totally ordered organizational access rank. Comparison against
// a required minimum is the sole authorization predicate.
type Level int

const (
	Public      Level = 1
	Internal    Level = 2
	Operational Level = 3
	Sensitive   Level = 4
	Critical    Level = 5
)

func (l Level) String() string {
	switch l {
	case Public:
		return "PUBLIC"
	case Internal:
		return "INTERNAL"
	case Operational:
		return "OPERATIONAL"
	case Sensitive:
		return "SENSITIVE"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= Public && l <= Critical
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "PUBLIC":
		return Public, nil
	case "INTERNAL":
		return Internal, nil
	case "OPERATIONAL":
		return Operational, nil
	case "SENSITIVE":
		return Sensitive, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return 0, fmt.Errorf("unknown access level %q", s)
	}
}

// Category names a class of information managed by the broker.
type Category string

const (
	CategoryDoctrine           Category = "DOCTRINE"
	CategoryThreatData         Category = "THREAT_DATA"
	CategoryAssetStatus        Category = "ASSET_STATUS"
	CategorySpectrumAllocation Category = "SPECTRUM_ALLOCATION"
	CategoryMissionPlan        Category = "MISSION_PLAN"
	CategoryOrganizational     Category = "ORGANIZATIONAL"
	CategoryProcessMetrics     Category = "PROCESS_METRICS"
)

// AllCategories returns the closed category enumeration.
func AllCategories() []Category {
	return []Category{
		CategoryDoctrine,
		CategoryThreatData,
		CategoryAssetStatus,
		CategorySpectrumAllocation,
		CategoryMissionPlan,
		CategoryOrganizational,
		CategoryProcessMetrics,
	}
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDoctrine, CategoryThreatData, CategoryAssetStatus,
		CategorySpectrumAllocation, CategoryMissionPlan,
		CategoryOrganizational, CategoryProcessMetrics:
		return true
	}
	return false
}
