package objects

import (
	"sync"

	"github.com/davidahmann/attest/internal/crypto"
)

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(data []byte) (string, error) {
	cid := crypto.CID(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[cid]; !ok {
		s.blobs[cid] = append([]byte(nil), data...)
	}
	return cid, nil
}

func (s *MemoryStore) Get(cid string) ([]byte, error) {
	cid, err := NormalizeCID(cid)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[cid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if err := check(cid, data); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Has(cid string) bool {
	cid, err := NormalizeCID(cid)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[cid]
	return ok
}
