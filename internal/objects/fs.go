package objects

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
)

// FSStore keeps objects under <root>/b3/<first two hex>/<rest of hex>.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(cid string) string {
	hexPart := strings.TrimPrefix(cid, crypto.CIDPrefix)
	return filepath.Join(s.root, "b3", hexPart[:2], hexPart[2:])
}

func (s *FSStore) Put(data []byte) (string, error) {
	cid := crypto.CID(data)
	dst := s.path(cid)
	if _, err := os.Stat(dst); err == nil {
		return cid, nil
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".obj-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return cid, nil
}

func (s *FSStore) Get(cid string) ([]byte, error) {
	cid, err := NormalizeCID(cid)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is derived from a validated cid.
	data, err := os.ReadFile(s.path(cid))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := check(cid, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FSStore) Has(cid string) bool {
	cid, err := NormalizeCID(cid)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.path(cid))
	return err == nil
}
