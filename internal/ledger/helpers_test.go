package ledger

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/engine"
	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/pkg/types"
)

func testSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return crypto.NewEd25519Signer(crypto.KeyIDFor(pub), priv)
}

func testEngine(t *testing.T, signer engine.Signer) *engine.Engine {
	t.Helper()
	checkout, err := policy.NewUnit("checkout").
		Rule(policy.NewRule("adult", expr.Gte(expr.Field("user.age"), expr.Lit(18)), "user.age")).
		Rule(policy.NewRule("small", expr.Lte(expr.Field("amount"), expr.Lit(1000)))).
		RequireEffects(types.EffectRead).
		Build()
	if err != nil {
		t.Fatalf("build checkout: %v", err)
	}
	export, err := policy.NewUnit("export").
		Rule(policy.NewRule("ok", expr.Lit(true))).
		RequireEffects(types.EffectRead, types.EffectNetwork).
		Build()
	if err != nil {
		t.Fatalf("build export: %v", err)
	}
	reg, err := policy.NewRegistry(checkout, export)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t0 := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	opts := []engine.Option{engine.WithClock(func() time.Time { return t0 })}
	if signer != nil {
		opts = append(opts, engine.WithSigner(signer))
	}
	return engine.New(reg, opts...)
}

func execute(t *testing.T, e *engine.Engine, unitID string, input map[string]any) types.ExecutionReceipt {
	t.Helper()
	r, err := e.Execute(context.Background(), unitID, input, nil)
	if err != nil {
		t.Fatalf("execute %s: %v", unitID, err)
	}
	return r
}

func allowInput() map[string]any {
	return map[string]any{"user": map[string]any{"age": 40}, "amount": 12}
}
