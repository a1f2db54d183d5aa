package engine

import (
	"strings"

	"github.com/davidahmann/attest/pkg/types"
)

// buildMissing reports what would resolve the Doubt decisions, or nil when
// there are none.
func buildMissing(decisions []types.RuleDecision, newID IDGenerator) *types.MissingInfo {
	var fields, evidence []string
	for _, d := range decisions {
		if d.Decision == types.DecisionDoubt {
			fields = append(fields, d.MissingFields...)
		}
		if d.Decision == types.DecisionDoubt || d.Error != "" {
			evidence = append(evidence, d.RuleID)
		}
	}
	if len(fields) == 0 && len(evidence) == 0 {
		return nil
	}

	info := &types.MissingInfo{
		ID:              newID(),
		Reason:          types.MissingReasonPolicyDoubt,
		MissingFields:   fields,
		MissingEvidence: evidence,
	}
	if len(fields) > 0 {
		info.Reason = types.MissingReasonFields
		info.ResolutionHint = "Provide missing fields: " + strings.Join(fields, ", ")
	} else {
		info.ResolutionHint = "Review policies: " + strings.Join(evidence, ", ")
	}
	if info.MissingFields == nil {
		info.MissingFields = []string{}
	}
	return info
}
