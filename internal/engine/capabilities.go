package engine

import (
	"context"
	"time"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/pkg/types"
	"github.com/google/uuid"
)

type Canonicalizer interface {
	CanonicalBytes(v any) ([]byte, error)
}

type Addresser interface {
	CID(data []byte) string
}

// Signer signs the receipt id. crypto.Ed25519Signer and crypto.KeyManager
// implement it.
type Signer interface {
	KeyID() string
	Algorithm() string
	Sign(message []byte) ([]byte, error)
}

// Sink receives every produced receipt. Its errors never reach the caller.
type Sink interface {
	Emit(ctx context.Context, receipt types.ExecutionReceipt) error
}

// Units resolves a unit by id. *policy.Registry implements it.
type Units interface {
	Get(id string) (policy.Unit, bool)
}

type Clock func() time.Time

type IDGenerator func() string

type jsonCanonicalizer struct{}

func (jsonCanonicalizer) CanonicalBytes(v any) ([]byte, error) { return crypto.CanonicalBytes(v) }

type blake3Addresser struct{}

func (blake3Addresser) CID(data []byte) string { return crypto.CID(data) }

func newUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
