package ledger

import (
	"sort"
	"sync"
)

type InMemoryStore struct {
	mu sync.Mutex

	keys     map[string]KeyRecord
	units    map[string]UnitVersionRecord
	receipts map[string]ReceiptRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		keys:     make(map[string]KeyRecord),
		units:    make(map[string]UnitVersionRecord),
		receipts: make(map[string]ReceiptRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

type memTx InMemoryStore

func (s *InMemoryStore) PutKey(key KeyRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutKey(key) })
}

func (s *InMemoryStore) GetKey(keyID string) (KeyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetKey(keyID)
}

func (s *InMemoryStore) PutUnitVersion(unit UnitVersionRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutUnitVersion(unit) })
}

func (s *InMemoryStore) GetUnitVersion(unitHash string) (UnitVersionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetUnitVersion(unitHash)
}

func (s *InMemoryStore) PutReceipt(receipt ReceiptRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutReceipt(receipt) })
}

func (s *InMemoryStore) GetReceipt(receiptID string) (ReceiptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetReceipt(receiptID)
}

// ListReceipts returns the newest receipts first, optionally for one unit.
func (s *InMemoryStore) ListReceipts(unitID string, limit int) ([]ReceiptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ReceiptRecord{}
	for _, rec := range s.receipts {
		if unitID != "" && rec.UnitID != unitID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ReceiptID < out[j].ReceiptID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) PutKey(key KeyRecord) error {
	t.keys[key.KeyID] = key
	return nil
}

func (t *memTx) GetKey(keyID string) (KeyRecord, bool) {
	key, ok := t.keys[keyID]
	return key, ok
}

func (t *memTx) PutUnitVersion(unit UnitVersionRecord) error {
	if _, exists := t.units[unit.UnitHash]; !exists {
		t.units[unit.UnitHash] = unit
	}
	return nil
}

func (t *memTx) GetUnitVersion(unitHash string) (UnitVersionRecord, bool) {
	unit, ok := t.units[unitHash]
	return unit, ok
}

func (t *memTx) PutReceipt(receipt ReceiptRecord) error {
	if _, exists := t.receipts[receipt.ReceiptID]; !exists {
		t.receipts[receipt.ReceiptID] = receipt
	}
	return nil
}

func (t *memTx) GetReceipt(receiptID string) (ReceiptRecord, bool) {
	receipt, ok := t.receipts[receiptID]
	return receipt, ok
}
