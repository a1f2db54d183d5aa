package crypto

import (
	"crypto/ed25519"
)

// Ed25519Signer signs messages as Ed25519 over the BLAKE3 digest of the message.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

func NewEd25519Signer(keyID string, priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	if keyID == "" {
		keyID = KeyIDFor(pub)
	}
	return &Ed25519Signer{keyID: keyID, priv: priv, pub: pub}
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) Algorithm() string { return SealAlg }

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return SignEd25519(s.priv, DigestBytes(message))
}

// VerifyMessage checks a signature produced by Ed25519Signer.Sign.
func VerifyMessage(pub ed25519.PublicKey, message, sig []byte) bool {
	ok, err := VerifyEd25519(pub, DigestBytes(message), sig)
	return err == nil && ok
}
