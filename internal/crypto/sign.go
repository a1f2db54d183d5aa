package crypto

import (
	"crypto/ed25519"
	"encoding/hex"

	"lukechampine.com/blake3"
)

// SealAlg names Ed25519 signatures over BLAKE3-256 digests.
const SealAlg = "ed25519-blake3"

const DigestSize = 32

// DigestBytes returns the raw BLAKE3-256 digest bytes.
func DigestBytes(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// DigestHex returns the BLAKE3-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignEd25519 signs a digest using Ed25519.
func SignEd25519(privateKey ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, ErrInvalidDigestLen
	}
	return ed25519.Sign(privateKey, digest), nil
}

// VerifyEd25519 verifies a digest signature using Ed25519.
func VerifyEd25519(publicKey ed25519.PublicKey, digest, sig []byte) (bool, error) {
	if len(digest) != DigestSize {
		return false, ErrInvalidDigestLen
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false, nil
	}
	return ed25519.Verify(publicKey, digest, sig), nil
}
