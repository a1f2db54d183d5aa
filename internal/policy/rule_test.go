package policy

import (
	"testing"

	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/pkg/types"
)

func adultRule() Rule {
	return NewRule("adult", expr.Gte(expr.Field("user.age"), expr.Lit(18)), "user.age")
}

func TestEvaluateRuleAllowDeny(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	mode := types.Conservative()

	got := EvaluateRule(ev, adultRule(), map[string]any{"user": map[string]any{"age": 30}}, mode)
	if got.Decision != types.DecisionAllow || got.Skipped || got.Error != "" {
		t.Fatalf("expected allow, got %+v", got)
	}

	got = EvaluateRule(ev, adultRule(), map[string]any{"user": map[string]any{"age": 12}}, mode)
	if got.Decision != types.DecisionDeny {
		t.Fatalf("expected deny, got %+v", got)
	}
}

func TestEvaluateRuleInactiveIsSkippedAllow(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	mode := types.Mode{Effects: []types.Effect{types.EffectRead}, ActiveRules: []string{"other"}}
	never := NewRule("never", expr.Lit(false))

	got := EvaluateRule(ev, never, map[string]any{}, mode)
	if got.Decision != types.DecisionAllow || !got.Skipped {
		t.Fatalf("expected skipped allow, got %+v", got)
	}
}

func TestEvaluateRuleMissingFields(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	r := NewRule("kyc", expr.Lit(true), "user.id", "country")

	got := EvaluateRule(ev, r, map[string]any{"user": map[string]any{"name": "x"}}, types.Conservative())
	if got.Decision != types.DecisionDoubt {
		t.Fatalf("expected doubt, got %s", got.Decision)
	}
	if got.Error != "missing required fields: user.id, country" {
		t.Fatalf("unexpected error: %q", got.Error)
	}
	if len(got.MissingFields) != 2 || got.MissingFields[0] != "user.id" {
		t.Fatalf("unexpected missing fields: %v", got.MissingFields)
	}
}

func TestEvaluateRuleNullCountsAsPresent(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	r := NewRule("n", expr.Not(expr.Exists(expr.Field("note"))), "note")

	got := EvaluateRule(ev, r, map[string]any{"note": nil}, types.Conservative())
	if got.Decision != types.DecisionAllow {
		t.Fatalf("expected allow, got %+v", got)
	}
}

func TestEvaluateRuleErrorIsDoubt(t *testing.T) {
	ev := expr.NewEvaluator(nil)
	r := NewRule("bad", expr.Fn("no_such_function"))

	got := EvaluateRule(ev, r, map[string]any{}, types.Conservative())
	if got.Decision != types.DecisionDoubt || got.Error == "" {
		t.Fatalf("expected doubt with error, got %+v", got)
	}
}
