package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/davidahmann/attest/pkg/types"
)

var ErrEmptyReceiptID = errors.New("receipt has no id")

func NewReceiptRecord(r types.ExecutionReceipt) (ReceiptRecord, error) {
	if r.ID() == "" {
		return ReceiptRecord{}, ErrEmptyReceiptID
	}
	body, err := json.Marshal(r)
	if err != nil {
		return ReceiptRecord{}, err
	}
	return ReceiptRecord{
		ReceiptID: r.ID(),
		UnitID:    r.UnitID,
		UnitHash:  r.UnitHash,
		Decision:  string(r.Decision),
		InputCID:  r.Input.CID,
		OutputCID: r.Output.CID,
		KeyID:     r.Proof.KeyID,
		Signed:    r.Signed(),
		CreatedAt: r.Timestamp.UTC().Format(time.RFC3339Nano),
		BodyJSON:  body,
	}, nil
}

// Receipt decodes the stored body. Numbers stay json.Number so that
// recanonicalizing the input reproduces its CID.
func (rec ReceiptRecord) Receipt() (types.ExecutionReceipt, error) {
	var r types.ExecutionReceipt
	dec := json.NewDecoder(bytes.NewReader(rec.BodyJSON))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return types.ExecutionReceipt{}, err
	}
	return r, nil
}
