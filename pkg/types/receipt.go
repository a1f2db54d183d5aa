package types

import "time"

// CanonSlot carries a value together with its canonical encoding and CID.
type CanonSlot struct {
	Raw       any    `json:"raw"`
	Canonical string `json:"canonical"`
	CID       string `json:"cid"`
}

type MissingReason string

const (
	MissingReasonFields      MissingReason = "missing_fields"
	MissingReasonPolicyDoubt MissingReason = "policy_doubt"
)

type MissingInfo struct {
	ID              string        `json:"id"`
	Reason          MissingReason `json:"reason"`
	MissingFields   []string      `json:"missing_fields"`
	MissingEvidence []string      `json:"missing_evidence"`
	ResolutionHint  string        `json:"resolution_hint,omitempty"`
}

type Proof struct {
	HashChain  []string `json:"hash_chain"`
	PayloadCID string   `json:"payload_cid"`
	Alg        string   `json:"alg,omitempty"`
	KeyID      string   `json:"kid,omitempty"`
	Signature  []byte   `json:"signature,omitempty"`
}

type ExecutionReceipt struct {
	UnitID        string         `json:"unit_id"`
	UnitHash      string         `json:"unit_hash"`
	Mode          Mode           `json:"mode"`
	Input         CanonSlot      `json:"input"`
	RuleDecisions []RuleDecision `json:"rule_decisions"`
	Output        CanonSlot      `json:"output"`
	Decision      Decision       `json:"decision"`
	Missing       *MissingInfo   `json:"missing,omitempty"`
	Proof         Proof          `json:"proof"`
	Timestamp     time.Time      `json:"timestamp"`
	DurationNS    int64          `json:"duration_ns"`
}

// ID returns the receipt identifier, the CID of the signing payload.
func (r ExecutionReceipt) ID() string {
	return r.Proof.PayloadCID
}

func (r ExecutionReceipt) Signed() bool {
	return len(r.Proof.Signature) > 0
}

// ChainStepDocument is the value hashed into the chain for one rule decision.
func ChainStepDocument(d RuleDecision, inputCID string) map[string]any {
	return map[string]any{
		"policy":      d.RuleID,
		"policy_hash": d.RuleHash,
		"decision":    string(d.Decision),
		"skipped":     d.Skipped,
		"input_cid":   inputCID,
	}
}

// SigningPayload is the value whose CID is signed and used as the receipt id.
func SigningPayload(inputCID, outputCID string, chain []string) map[string]any {
	steps := make([]any, len(chain))
	for i, c := range chain {
		steps[i] = c
	}
	return map[string]any{
		"input":      inputCID,
		"output":     outputCID,
		"hash_chain": steps,
	}
}
