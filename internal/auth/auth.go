package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Subject string `json:"sub"`
	Issuer  string `json:"iss"`
	Token   string `json:"-"`
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// MultiAuthenticator accepts the dev token when one is configured, then
// falls back to JWT verification.
type MultiAuthenticator struct {
	DevToken string
	JWT      *JWTAuthenticator
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.DevToken != "" && bearer == a.DevToken {
		return Claims{Subject: "dev", Issuer: "attest-dev", Token: bearer}, nil
	}

	if a.JWT != nil {
		claims, err := a.JWT.AuthenticateBearer(bearer)
		if err == nil {
			claims.Token = bearer
			return claims, nil
		}
	}

	return Claims{}, ErrInvalidToken
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
