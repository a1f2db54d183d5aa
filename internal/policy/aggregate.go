package policy

import "github.com/davidahmann/attest/pkg/types"

// Aggregator folds rule decisions into the unit decision.
type Aggregator interface {
	Aggregate(w Wiring, decisions []types.RuleDecision) types.Decision
}

// DefaultAggregator implements the five wiring kinds. Only non-skipped
// decisions of rules named by the wiring take part.
type DefaultAggregator struct{}

func (DefaultAggregator) Aggregate(w Wiring, decisions []types.RuleDecision) types.Decision {
	byID := decisionIndex(decisions)
	switch w.Kind {
	case WiringAll:
		return aggregateAll(relevant(w.Rules, byID))
	case WiringAny:
		return aggregateAny(relevant(w.Rules, byID))
	case WiringMajority:
		return aggregateMajority(relevant(w.Rules, byID))
	case WiringSequential:
		return aggregateSequential(w.Rules, byID)
	case WiringWeighted:
		return aggregateWeighted(w, byID)
	default:
		return types.DecisionDeny
	}
}

// KOfN allows when at least K relevant rules allow. Otherwise any Doubt
// yields Doubt, and the rest Deny.
type KOfN struct {
	K int
}

func (a KOfN) Aggregate(w Wiring, decisions []types.RuleDecision) types.Decision {
	ds := relevant(w.Rules, decisionIndex(decisions))
	allows, doubt := 0, false
	for _, d := range ds {
		switch d {
		case types.DecisionAllow:
			allows++
		case types.DecisionDoubt:
			doubt = true
		}
	}
	switch {
	case allows >= a.K:
		return types.DecisionAllow
	case doubt:
		return types.DecisionDoubt
	default:
		return types.DecisionDeny
	}
}

func decisionIndex(decisions []types.RuleDecision) map[string]types.Decision {
	out := make(map[string]types.Decision, len(decisions))
	for _, d := range decisions {
		if d.Skipped {
			continue
		}
		out[d.RuleID] = d.Decision
	}
	return out
}

func relevant(ids []string, byID map[string]types.Decision) []types.Decision {
	var out []types.Decision
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

func aggregateAll(ds []types.Decision) types.Decision {
	if len(ds) == 0 {
		return types.DecisionDeny
	}
	doubt := false
	for _, d := range ds {
		switch d {
		case types.DecisionDeny:
			return types.DecisionDeny
		case types.DecisionDoubt:
			doubt = true
		}
	}
	if doubt {
		return types.DecisionDoubt
	}
	return types.DecisionAllow
}

func aggregateAny(ds []types.Decision) types.Decision {
	if len(ds) == 0 {
		return types.DecisionDeny
	}
	doubt := false
	for _, d := range ds {
		switch d {
		case types.DecisionAllow:
			return types.DecisionAllow
		case types.DecisionDoubt:
			doubt = true
		}
	}
	if doubt {
		return types.DecisionDoubt
	}
	return types.DecisionDeny
}

func aggregateMajority(ds []types.Decision) types.Decision {
	if len(ds) == 0 {
		return types.DecisionDeny
	}
	allows, doubt := 0, false
	for _, d := range ds {
		switch d {
		case types.DecisionAllow:
			allows++
		case types.DecisionDoubt:
			doubt = true
		}
	}
	switch {
	case allows > len(ds)/2:
		return types.DecisionAllow
	case doubt:
		return types.DecisionDoubt
	default:
		return types.DecisionDeny
	}
}

func aggregateSequential(ids []string, byID map[string]types.Decision) types.Decision {
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			continue
		}
		if d == types.DecisionDeny || d == types.DecisionDoubt {
			return d
		}
	}
	return types.DecisionAllow
}

// Doubt contributes zero weight, same as Deny.
func aggregateWeighted(w Wiring, byID map[string]types.Decision) types.Decision {
	if len(w.Rules) != len(w.Weights) {
		return types.DecisionDeny
	}
	var sum float64
	for i, id := range w.Rules {
		if byID[id] == types.DecisionAllow {
			sum += w.Weights[i]
		}
	}
	if sum >= w.Threshold {
		return types.DecisionAllow
	}
	return types.DecisionDeny
}
