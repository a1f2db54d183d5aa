package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
)

// KeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return privateKey, publicKey, nil
}

// GenerateKeyPair reads a fresh seed from r, or crypto/rand when r is nil.
func GenerateKeyPair(r io.Reader) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, nil, err
	}
	return KeyPairFromSeed(seed)
}

// KeyIDFor derives a short stable key id from a public key.
func KeyIDFor(pub ed25519.PublicKey) string {
	return "ed25519:" + DigestHex(pub)[:16]
}
