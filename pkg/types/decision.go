package types

type Decision string

const (
	DecisionAllow Decision = "Allow"
	DecisionDeny  Decision = "Deny"
	DecisionDoubt Decision = "Doubt"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionDoubt:
		return true
	default:
		return false
	}
}

// RuleDecision is the outcome of evaluating one rule against one input.
type RuleDecision struct {
	RuleID        string   `json:"rule_id"`
	RuleHash      string   `json:"rule_hash"`
	Decision      Decision `json:"decision"`
	EvaluationNS  int64    `json:"evaluation_ns"`
	Error         string   `json:"error,omitempty"`
	Skipped       bool     `json:"skipped"`
	MissingFields []string `json:"missing_fields,omitempty"`
}
