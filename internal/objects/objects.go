// Package objects is a content-addressed blob store. Objects are named by the
// CID of their bytes, so a Get always returns exactly what was Put.
package objects

import (
	"fmt"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
)

type Store interface {
	Put(data []byte) (string, error)
	Get(cid string) ([]byte, error)
	Has(cid string) bool
}

// NormalizeCID accepts "b3:<hex>" or "cid:b3:<hex>" and returns the bare form.
func NormalizeCID(cid string) (string, error) {
	cid = strings.TrimPrefix(cid, "cid:")
	if _, err := crypto.ParseCID(cid); err != nil {
		return "", fmt.Errorf("%w: %q", err, cid)
	}
	return cid, nil
}

func check(cid string, data []byte) error {
	if crypto.CID(data) != cid {
		return fmt.Errorf("%w: %s", ErrIntegrity, cid)
	}
	return nil
}

// Hrefs lists where a card reader can fetch cid: the canonical registry when
// registryBase is set, then the internal scheme.
func Hrefs(cid, registryBase, scheme string) []string {
	var out []string
	if registryBase != "" {
		out = append(out, strings.TrimSuffix(registryBase, "/")+"/v1/objects/cid:"+cid)
	}
	if scheme != "" {
		out = append(out, scheme+"://objects/cid:"+cid)
	}
	return out
}
