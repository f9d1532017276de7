package broker

import (
	"math"

	"github.com/project-aether/aetheros/internal/access"
)

// Sanitizer projects a record to what the given access level may see.
// Sanitizers must be total and monotone: raising the level never removes
// fields the lower level could see.
type Sanitizer func(Record, access.Level) Record

func defaultSanitizers() map[access.Category]Sanitizer {
	return map[access.Category]Sanitizer{
		access.CategoryThreatData:  SanitizeThreat,
		access.CategoryMissionPlan: SanitizeMission,
	}
}

// SanitizeThreat redacts threat intelligence for callers below SENSITIVE:
// source and collection-method fields are dropped and precise geolocation is
// coarsened to whole degrees.
func SanitizeThreat(rec Record, level access.Level) Record {
	if level >= access.Sensitive {
		return rec
	}

	out := rec.Clone()
	delete(out.Data, "sources")
	delete(out.Data, "collection_methods")

	if loc, ok := out.Data["location"].(map[string]any); ok {
		coarse := make(map[string]any, len(loc))
		for k, v := range loc {
			coarse[k] = v
		}
		if lat, ok := numeric(loc["lat"]); ok {
			coarse["lat"] = math.Round(lat)
		}
		if lon, ok := numeric(loc["lon"]); ok {
			coarse["lon"] = math.Round(lon)
		}
		out.Data["location"] = coarse
	}

	return out
}

// SanitizeMission redacts mission plans for callers below CRITICAL: full
// target coordinates and weapon specifics are dropped.
func SanitizeMission(rec Record, level access.Level) Record {
	if level >= access.Critical {
		return rec
	}

	out := rec.Clone()
	delete(out.Data, "full_target_coordinates")
	delete(out.Data, "weapon_specifics")
	return out
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
