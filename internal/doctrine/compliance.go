package doctrine

import (
	"context"

	"go.uber.org/zap"
)

// Verdict is the outcome of a compliance check.
type Verdict string

const (
	VerdictCompliant    Verdict = "compliant"
	VerdictNonCompliant Verdict = "non_compliant"
	VerdictUnclear      Verdict = "unclear"
)

// Compliance is the result of checking an action description against
// doctrine.
type Compliance struct {
	Verdict   Verdict
	Citations []string
	Rationale string
}

// complianceTopK is how many passages a compliance check consults.
const complianceTopK = 3

// complianceThreshold is the minimum similarity for a prohibition passage to
// count against the action.
const complianceThreshold = 0.5

// CheckCompliance evaluates an action description against indexed doctrine.
// A passage tagged policy=prohibited that scores above the threshold yields
// a non-compliant verdict; no relevant passages yield unclear. An index
// error propagates so callers can apply their own degraded-mode policy.
func (kb *KB) CheckCompliance(ctx context.Context, actionDescription string) (Compliance, error) {
	results, err := kb.Query(ctx, actionDescription, nil, complianceTopK)
	if err != nil {
		return Compliance{}, err
	}
	if len(results) == 0 {
		return Compliance{
			Verdict:   VerdictUnclear,
			Rationale: "no doctrine passages matched the action",
		}, nil
	}

	citations := make([]string, 0, len(results))
	for _, r := range results {
		citations = append(citations, r.ID)
	}

	for _, r := range results {
		if r.Metadata["policy"] == "prohibited" && r.Score >= complianceThreshold {
			kb.logger.Warn(ctx, "action contradicts doctrine",
				zap.String("doc_id", r.ID),
				zap.Float64("score", float64(r.Score)))
			return Compliance{
				Verdict:   VerdictNonCompliant,
				Citations: citations,
				Rationale: "action matches a prohibited procedure: " + r.ID,
			}, nil
		}
	}

	return Compliance{
		Verdict:   VerdictCompliant,
		Citations: citations,
		Rationale: "no doctrinal prohibition matched",
	}, nil
}
