package policy

import (
	"strings"
	"time"

	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/pkg/types"
)

// Evaluator evaluates a condition against an input context.
type Evaluator interface {
	Eval(x expr.Expr, ctx any) (any, error)
}

// EvaluateRule decides one rule against the input. It never fails: an
// inactive rule is a skipped Allow, absent required fields or an evaluation
// error are a Doubt, otherwise the truthiness of the condition decides.
func EvaluateRule(ev Evaluator, rule Rule, input any, mode types.Mode) types.RuleDecision {
	start := time.Now()
	out := types.RuleDecision{RuleID: rule.ID, RuleHash: rule.Hash}

	if !mode.IsRuleActive(rule.ID) {
		out.Decision = types.DecisionAllow
		out.Skipped = true
		out.EvaluationNS = time.Since(start).Nanoseconds()
		return out
	}

	if missing := MissingFields(input, rule.RequiredFields); len(missing) > 0 {
		out.Decision = types.DecisionDoubt
		out.MissingFields = missing
		out.Error = "missing required fields: " + strings.Join(missing, ", ")
		out.EvaluationNS = time.Since(start).Nanoseconds()
		return out
	}

	v, err := ev.Eval(rule.Condition, input)
	switch {
	case err != nil:
		out.Decision = types.DecisionDoubt
		out.Error = err.Error()
	case expr.Truthy(v):
		out.Decision = types.DecisionAllow
	default:
		out.Decision = types.DecisionDeny
	}
	out.EvaluationNS = time.Since(start).Nanoseconds()
	return out
}

// MissingFields returns the dot-joined paths that are absent from input. A key
// present with a null value counts as present.
func MissingFields(input any, paths [][]string) []string {
	var missing []string
	for _, path := range paths {
		if !hasPath(input, path) {
			missing = append(missing, strings.Join(path, "."))
		}
	}
	return missing
}

func hasPath(v any, path []string) bool {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		next, ok := m[key]
		if !ok {
			return false
		}
		cur = next
	}
	return true
}
