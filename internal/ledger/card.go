package ledger

import (
	"encoding/base64"
	"errors"

	"github.com/davidahmann/attest/internal/verify"
	"github.com/davidahmann/attest/pkg/types"
)

var ErrNoPayloadCID = errors.New("receipt has no payload cid")

// Signer seals cards. crypto.Ed25519Signer and crypto.KeyManager implement it.
type Signer interface {
	KeyID() string
	Algorithm() string
	Sign(message []byte) ([]byte, error)
}

type CardOptions struct {
	// Host is the deployment domain; card links live under https://cert.<Host>/r/.
	Host string
	// Realm defaults to types.CardRealm.
	Realm string
	Refs  []types.RefItem
}

// MakeCard projects a receipt into its portable card and seals it. A nil
// signer yields an unsealed card, which verifiers reject with BAD_SEAL.
func MakeCard(r types.ExecutionReceipt, signer Signer, opts CardOptions) (types.Card, error) {
	if r.Proof.PayloadCID == "" {
		return types.Card{}, ErrNoPayloadCID
	}
	host := opts.Host
	if host == "" {
		host = verify.DefaultHost
	}
	realm := opts.Realm
	if realm == "" {
		realm = types.CardRealm
	}

	card := types.Card{
		Kind:      types.CardKind,
		Realm:     realm,
		Decision:  CardDecision(r.Decision),
		UnitID:    r.UnitID,
		PolicyID:  prefixed(r.UnitHash),
		OutputCID: prefixed(r.Output.CID),
		Proof:     types.CardProof{HashChain: cardChain(r.Proof.HashChain)},
		POI:       proofOfInsufficiency(r),
		Refs:      opts.Refs,
		Links:     types.Links{CardURL: "https://cert." + host + "/r/" + r.Proof.PayloadCID},
	}
	if card.Refs == nil {
		card.Refs = []types.RefItem{}
	}
	if signer == nil {
		return card, nil
	}

	card.Proof.Seal = types.Seal{Alg: signer.Algorithm(), Kid: signer.KeyID()}
	msg, err := verify.SealBytes(card)
	if err != nil {
		return types.Card{}, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return types.Card{}, err
	}
	card.Proof.Seal.Sig = base64.StdEncoding.EncodeToString(sig)
	return card, nil
}

func CardDecision(d types.Decision) types.CardDecision {
	switch d {
	case types.DecisionAllow:
		return types.CardACK
	case types.DecisionDoubt:
		return types.CardASK
	default:
		return types.CardNACK
	}
}

// The receipt chain is [input, rule steps..., output].
func cardChain(chain []string) []types.ChainStep {
	out := make([]types.ChainStep, len(chain))
	for i, c := range chain {
		kind := types.StepExec
		switch i {
		case 0:
			kind = types.StepInput
		case len(chain) - 1:
			kind = types.StepOutput
		}
		out[i] = types.ChainStep{Kind: kind, CID: prefixed(c)}
	}
	return out
}

func proofOfInsufficiency(r types.ExecutionReceipt) map[string]any {
	switch r.Decision {
	case types.DecisionDoubt:
		poi := map[string]any{"present": true, "reason": string(types.MissingReasonPolicyDoubt)}
		if m := r.Missing; m != nil {
			poi["reason"] = string(m.Reason)
			poi["missing_fields"] = m.MissingFields
			poi["missing_evidence"] = m.MissingEvidence
			poi["hint"] = m.ResolutionHint
		}
		return poi
	case types.DecisionDeny:
		denied := []string{}
		for _, d := range r.RuleDecisions {
			if d.Decision == types.DecisionDeny && !d.Skipped {
				denied = append(denied, d.RuleID)
			}
		}
		poi := map[string]any{"present": true, "reason": "policy_deny", "denied_by": denied}
		if len(r.RuleDecisions) == 0 {
			poi["reason"] = "effects_not_allowed"
			if m, ok := r.Output.Raw.(map[string]any); ok {
				poi["detail"] = m["error"]
			}
		}
		return poi
	default:
		return nil
	}
}

func prefixed(cid string) string {
	if cid == "" {
		return ""
	}
	return "cid:" + cid
}
