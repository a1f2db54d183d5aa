package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidahmann/attest/pkg/types"
)

// Sink receives every receipt the engine produces.
type Sink interface {
	Emit(ctx context.Context, r types.ExecutionReceipt) error
}

// StoreSink writes receipts to a ledger Store.
type StoreSink struct {
	store Store
}

func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Emit(_ context.Context, r types.ExecutionReceipt) error {
	rec, err := NewReceiptRecord(r)
	if err != nil {
		return err
	}
	return s.store.PutReceipt(rec)
}

// FileSink writes each receipt to <dir>/<cid hex>.json.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Emit(_ context.Context, r types.ExecutionReceipt) error {
	if r.ID() == "" {
		return ErrEmptyReceiptID
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	name := strings.TrimPrefix(r.ID(), "b3:") + ".json"
	tmp, err := os.CreateTemp(s.dir, ".receipt-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// Path returns where a receipt id is written.
func (s *FileSink) Path(receiptID string) string {
	return filepath.Join(s.dir, strings.TrimPrefix(receiptID, "b3:")+".json")
}

// MultiSink fans a receipt out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, r types.ExecutionReceipt) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
