package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, priv ed25519.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func request(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/units", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestDevToken(t *testing.T) {
	a := &MultiAuthenticator{DevToken: "test-token"}
	claims, err := a.Authenticate(request("test-token"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "dev" || claims.Token != "test-token" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := a.Authenticate(request("other")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := a.Authenticate(request("")); !errors.Is(err, ErrMissingBearer) {
		t.Fatalf("expected missing bearer, got %v", err)
	}
	req := request("")
	req.Header.Set("Authorization", "Basic abc")
	if _, err := a.Authenticate(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for basic auth, got %v", err)
	}
}

func TestJWT(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	a := &MultiAuthenticator{JWT: NewJWTAuthenticator(pub, "issuer.example")}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	good := signToken(t, priv, jwt.RegisteredClaims{Subject: "ci", Issuer: "issuer.example", ExpiresAt: exp})
	claims, err := a.Authenticate(request(good))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "ci" || claims.Issuer != "issuer.example" || claims.Token != good {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	bad := map[string]string{
		"wrong key":  signToken(t, otherPriv, jwt.RegisteredClaims{Subject: "ci", Issuer: "issuer.example", ExpiresAt: exp}),
		"issuer":     signToken(t, priv, jwt.RegisteredClaims{Subject: "ci", Issuer: "elsewhere", ExpiresAt: exp}),
		"expired":    signToken(t, priv, jwt.RegisteredClaims{Subject: "ci", Issuer: "issuer.example", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"no expiry":  signToken(t, priv, jwt.RegisteredClaims{Subject: "ci", Issuer: "issuer.example"}),
		"no subject": signToken(t, priv, jwt.RegisteredClaims{Issuer: "issuer.example", ExpiresAt: exp}),
	}
	for name, token := range bad {
		if _, err := a.Authenticate(request(token)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
}

func TestLoadJWTPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dir := t.TempDir()
	pemPath := filepath.Join(dir, "jwt.pem")
	if err := os.WriteFile(pemPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadJWTPublicKey(pemPath)
	if err != nil {
		t.Fatalf("load pem: %v", err)
	}
	if !got.Equal(pub) {
		t.Fatalf("pem key mismatch")
	}

	rawPath := filepath.Join(dir, "jwt.key")
	if err := os.WriteFile(rawPath, pub, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = LoadJWTPublicKey(rawPath)
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if !got.Equal(pub) {
		t.Fatalf("raw key mismatch")
	}
}

func TestMiddleware(t *testing.T) {
	var seen Claims
	handler := Middleware(&MultiAuthenticator{DevToken: "t"}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, request(""))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, request("t"))
	if res.Code != http.StatusNoContent || seen.Subject != "dev" {
		t.Fatalf("unexpected result %d %+v", res.Code, seen)
	}
}
