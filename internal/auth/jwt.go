package auth

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator verifies EdDSA-signed bearer tokens.
type JWTAuthenticator struct {
	publicKey ed25519.PublicKey
	issuer    string
}

func NewJWTAuthenticator(pub ed25519.PublicKey, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{publicKey: pub, issuer: issuer}
}

func (a *JWTAuthenticator) AuthenticateBearer(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var rc jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &rc, func(*jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Claims{Subject: rc.Subject, Issuer: rc.Issuer}, nil
}

// LoadJWTPublicKey reads a PEM encoded Ed25519 public key or a raw, hex or
// base64 key file.
func LoadJWTPublicKey(path string) (ed25519.PublicKey, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(raw, []byte("-----BEGIN")) {
		return crypto.ParsePublicKey(raw)
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwt public key is not ed25519")
	}
	return pub, nil
}
