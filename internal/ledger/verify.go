package ledger

import (
	"crypto/ed25519"
	"errors"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/pkg/types"
)

var (
	ErrReceiptDigestMismatch = errors.New("receipt digest mismatch")
	ErrReceiptChain          = errors.New("receipt hash chain mismatch")
	ErrReceiptUnsigned       = errors.New("receipt is unsigned")
	ErrReceiptSignature      = errors.New("receipt signature invalid")
)

// VerifyReceipt recomputes the input and output CIDs, every chain step and the
// payload CID. When publicKey is non-nil the signature must also verify.
func VerifyReceipt(r types.ExecutionReceipt, publicKey ed25519.PublicKey) error {
	if err := checkSlot(r.Input); err != nil {
		return err
	}
	if err := checkSlot(r.Output); err != nil {
		return err
	}

	chain := r.Proof.HashChain
	if len(chain) != len(r.RuleDecisions)+2 {
		return ErrReceiptChain
	}
	if chain[0] != r.Input.CID || chain[len(chain)-1] != r.Output.CID {
		return ErrReceiptChain
	}
	for i, d := range r.RuleDecisions {
		step, err := crypto.CIDOfJSON(types.ChainStepDocument(d, r.Input.CID))
		if err != nil {
			return err
		}
		if chain[i+1] != step {
			return ErrReceiptChain
		}
	}

	payload, err := crypto.CIDOfJSON(types.SigningPayload(r.Input.CID, r.Output.CID, chain))
	if err != nil {
		return err
	}
	if payload != r.Proof.PayloadCID {
		return ErrReceiptDigestMismatch
	}

	if publicKey == nil {
		return nil
	}
	if !r.Signed() {
		return ErrReceiptUnsigned
	}
	if !crypto.VerifyMessage(publicKey, []byte(payload), r.Proof.Signature) {
		return ErrReceiptSignature
	}
	return nil
}

func checkSlot(slot types.CanonSlot) error {
	if crypto.CID([]byte(slot.Canonical)) != slot.CID {
		return ErrReceiptDigestMismatch
	}
	canonical, err := crypto.CanonicalBytes(slot.Raw)
	if err != nil {
		return err
	}
	if string(canonical) != slot.Canonical {
		return ErrReceiptDigestMismatch
	}
	return nil
}
