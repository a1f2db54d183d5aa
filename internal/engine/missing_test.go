package engine

import (
	"testing"

	"github.com/davidahmann/attest/pkg/types"
)

func TestBuildMissing(t *testing.T) {
	id := func() string { return "m" }

	if got := buildMissing([]types.RuleDecision{{RuleID: "a", Decision: types.DecisionAllow}}, id); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	got := buildMissing([]types.RuleDecision{
		{RuleID: "a", Decision: types.DecisionDoubt, Error: "boom"},
		{RuleID: "b", Decision: types.DecisionDeny},
	}, id)
	if got == nil || got.Reason != types.MissingReasonPolicyDoubt {
		t.Fatalf("expected policy doubt, got %+v", got)
	}
	if got.ResolutionHint != "Review policies: a" || len(got.MissingFields) != 0 {
		t.Fatalf("unexpected missing info: %+v", got)
	}

	got = buildMissing([]types.RuleDecision{
		{RuleID: "a", Decision: types.DecisionDoubt, MissingFields: []string{"x", "y.z"}},
		{RuleID: "b", Decision: types.DecisionDoubt, MissingFields: []string{"w"}},
	}, id)
	if got.Reason != types.MissingReasonFields || got.ResolutionHint != "Provide missing fields: x, y.z, w" {
		t.Fatalf("unexpected missing info: %+v", got)
	}
	if len(got.MissingEvidence) != 2 {
		t.Fatalf("expected both rules as evidence, got %v", got.MissingEvidence)
	}
}
