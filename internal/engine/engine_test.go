package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingSink struct {
	mu       sync.Mutex
	receipts []types.ExecutionReceipt
	err      error
}

func (s *recordingSink) Emit(_ context.Context, r types.ExecutionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return s.err
}

type failingSigner struct{}

func (failingSigner) KeyID() string               { return "broken" }
func (failingSigner) Algorithm() string           { return crypto.SealAlg }
func (failingSigner) Sign([]byte) ([]byte, error) { return nil, errors.New("hsm offline") }

func testUnits(t *testing.T) *policy.Registry {
	t.Helper()
	checkout, err := policy.NewUnit("checkout").
		Rule(policy.NewRule("adult", expr.Gte(expr.Field("user.age"), expr.Lit(18)), "user.age")).
		Rule(policy.NewRule("small", expr.Lte(expr.Field("amount"), expr.Lit(1000)))).
		Wiring(policy.All("adult", "small")).
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
	return reg
}

func fixedClock() Clock {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestExecuteAllow(t *testing.T) {
	sink := &recordingSink{}
	e := New(testUnits(t), WithSink(sink), WithClock(fixedClock()))

	input := map[string]any{"user": map[string]any{"age": 30}, "amount": 10}
	r, err := e.Execute(context.Background(), "checkout", input, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionAllow {
		t.Fatalf("expected allow, got %s", r.Decision)
	}
	if r.Missing != nil {
		t.Fatalf("unexpected missing info: %+v", r.Missing)
	}
	if r.Output.Canonical != `{"decision":"Allow","rule_count":2,"unit_id":"checkout"}` {
		t.Fatalf("unexpected output: %s", r.Output.Canonical)
	}
	if r.Input.Canonical != `{"amount":10,"user":{"age":30}}` {
		t.Fatalf("unexpected input: %s", r.Input.Canonical)
	}
	if r.Signed() {
		t.Fatalf("expected unsigned receipt without signer")
	}
	if !r.Timestamp.Equal(fixedClock()()) {
		t.Fatalf("unexpected timestamp: %v", r.Timestamp)
	}
	if len(sink.receipts) != 1 || sink.receipts[0].ID() != r.ID() {
		t.Fatalf("sink did not receive receipt")
	}
}

func TestExecuteHashChain(t *testing.T) {
	e := New(testUnits(t))
	r, err := e.Execute(context.Background(), "checkout", map[string]any{"user": map[string]any{"age": 30}, "amount": 5000}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionDeny {
		t.Fatalf("expected deny, got %s", r.Decision)
	}
	chain := r.Proof.HashChain
	if len(chain) != len(r.RuleDecisions)+2 {
		t.Fatalf("unexpected chain length %d", len(chain))
	}
	if chain[0] != r.Input.CID || chain[len(chain)-1] != r.Output.CID {
		t.Fatalf("chain must start with input and end with output")
	}
	for i, d := range r.RuleDecisions {
		want, err := crypto.CIDOfJSON(types.ChainStepDocument(d, r.Input.CID))
		if err != nil {
			t.Fatalf("step cid: %v", err)
		}
		if chain[i+1] != want {
			t.Fatalf("step %d mismatch", i)
		}
	}
	payload, err := crypto.CIDOfJSON(types.SigningPayload(r.Input.CID, r.Output.CID, chain))
	if err != nil {
		t.Fatalf("payload cid: %v", err)
	}
	if r.ID() != payload {
		t.Fatalf("receipt id must be the payload cid")
	}
}

func TestExecuteDoubtProducesMissingInfo(t *testing.T) {
	e := New(testUnits(t), WithIDGenerator(func() string { return "missing-1" }))
	r, err := e.Execute(context.Background(), "checkout", map[string]any{"amount": 1}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionDoubt {
		t.Fatalf("expected doubt, got %s", r.Decision)
	}
	m := r.Missing
	if m == nil {
		t.Fatalf("expected missing info")
	}
	if m.ID != "missing-1" || m.Reason != types.MissingReasonFields {
		t.Fatalf("unexpected missing info: %+v", m)
	}
	if len(m.MissingEvidence) != 1 || m.MissingEvidence[0] != "adult" {
		t.Fatalf("expected adult in evidence, got %v", m.MissingEvidence)
	}
	if m.ResolutionHint != "Provide missing fields: user.age" {
		t.Fatalf("unexpected hint: %q", m.ResolutionHint)
	}
}

func TestExecuteEffectsDenied(t *testing.T) {
	priv, _, _ := crypto.GenerateKeyPair(rand.Reader)
	sink := &recordingSink{}
	e := New(testUnits(t), WithSigner(crypto.NewEd25519Signer("", priv)), WithSink(sink))

	r, err := e.Execute(context.Background(), "export", map[string]any{"q": 1}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionDeny || len(r.RuleDecisions) != 0 || r.Signed() {
		t.Fatalf("unexpected denied receipt: %+v", r)
	}
	if r.Output.Canonical != `{"decision":"Deny","error":"effects not allowed: network"}` {
		t.Fatalf("unexpected output: %s", r.Output.Canonical)
	}
	if len(r.Proof.HashChain) != 2 || r.Proof.HashChain[0] != r.Input.CID {
		t.Fatalf("unexpected chain: %v", r.Proof.HashChain)
	}
	if len(sink.receipts) != 1 {
		t.Fatalf("denied receipts are still emitted")
	}

	mode := types.Mode{Effects: []types.Effect{types.EffectRead, types.EffectNetwork}}
	r, err = e.Execute(context.Background(), "export", map[string]any{"q": 1}, &mode)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionAllow || !r.Signed() {
		t.Fatalf("expected signed allow with network enabled, got %+v", r)
	}
}

func TestExecuteSigned(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	signer := crypto.NewEd25519Signer("k1", priv)
	e := New(testUnits(t), WithSigner(signer))

	r, err := e.Execute(context.Background(), "checkout", map[string]any{"user": map[string]any{"age": 30}, "amount": 1}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Proof.KeyID != "k1" || r.Proof.Alg != crypto.SealAlg {
		t.Fatalf("unexpected proof: %+v", r.Proof)
	}
	if !crypto.VerifyMessage(pub, []byte(r.Proof.PayloadCID), r.Proof.Signature) {
		t.Fatalf("signature does not verify")
	}
	_, otherPub, _ := crypto.GenerateKeyPair(rand.Reader)
	if crypto.VerifyMessage(otherPub, []byte(r.Proof.PayloadCID), r.Proof.Signature) {
		t.Fatalf("signature verified under the wrong key")
	}
}

func TestExecuteFailuresAreSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sink := &recordingSink{err: errors.New("disk full")}
	e := New(testUnits(t), WithSigner(failingSigner{}), WithSink(sink), WithMetrics(metrics))

	r, err := e.Execute(context.Background(), "checkout", map[string]any{"user": map[string]any{"age": 30}, "amount": 1}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionAllow || r.Signed() {
		t.Fatalf("expected unsigned allow, got %+v", r)
	}
	if got := testutil.ToFloat64(metrics.sinkFailures); got != 1 {
		t.Fatalf("expected 1 sink failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.signerFailures); got != 1 {
		t.Fatalf("expected 1 signer failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.executions.WithLabelValues("checkout", "Allow")); got != 1 {
		t.Fatalf("expected 1 execution, got %v", got)
	}
}

func TestExecuteErrors(t *testing.T) {
	e := New(testUnits(t))
	if _, err := e.Execute(context.Background(), "nope", map[string]any{}, nil); !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("expected unit not found, got %v", err)
	}
	if _, err := e.Execute(context.Background(), "checkout", map[string]any{"x": math.NaN()}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestExecuteParallelMatchesSequential(t *testing.T) {
	units := testUnits(t)
	input := map[string]any{"user": map[string]any{"age": 30}, "amount": 1}
	clock := WithClock(fixedClock())

	seq, err := New(units, clock).Execute(context.Background(), "checkout", input, nil)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	par, err := New(units, clock, WithParallelRules(4)).Execute(context.Background(), "checkout", input, nil)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if seq.ID() != par.ID() {
		t.Fatalf("parallel evaluation changed the receipt id")
	}
}

func TestExecuteInactiveRuleSkipped(t *testing.T) {
	e := New(testUnits(t))
	mode := types.Mode{Effects: []types.Effect{types.EffectRead}, ActiveRules: []string{"small"}}

	r, err := e.Execute(context.Background(), "checkout", map[string]any{"amount": 1}, &mode)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !r.RuleDecisions[0].Skipped || r.RuleDecisions[0].Decision != types.DecisionAllow {
		t.Fatalf("expected skipped allow, got %+v", r.RuleDecisions[0])
	}
	if r.Decision != types.DecisionAllow {
		t.Fatalf("expected allow, got %s", r.Decision)
	}
}

func TestExecuteEffectPermitted(t *testing.T) {
	unit, err := policy.NewUnit("egress").
		Rule(policy.NewRule("host", expr.Fn(EffectPermittedFunc, expr.Lit("network"), expr.Field("host")), "host")).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	reg, err := policy.NewRegistry(unit)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	e := New(reg)
	mode := types.Mode{
		Effects: []types.Effect{types.EffectRead, types.EffectNetwork},
		Scopes: map[types.Effect]types.Scope{
			types.EffectNetwork: {Allow: []string{"*.example.com"}, Deny: []string{"admin.example.com"}},
		},
	}

	cases := []struct {
		host string
		mode types.Mode
		want types.Decision
	}{
		{"api.example.com", mode, types.DecisionAllow},
		{"admin.example.com", mode, types.DecisionDeny},
		{"api.other.org", mode, types.DecisionDeny},
		{"api.example.com", types.Conservative(), types.DecisionDeny},
	}
	for _, tc := range cases {
		r, err := e.Execute(context.Background(), "egress", map[string]any{"host": tc.host}, &tc.mode)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if r.Decision != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.host, tc.want, r.Decision)
		}
	}

	bad, err := policy.NewUnit("bad").
		Rule(policy.NewRule("r", expr.Fn(EffectPermittedFunc, expr.Lit("teleport")))).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	reg.Put(bad)
	r, err := e.Execute(context.Background(), "bad", map[string]any{}, &mode)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.Decision != types.DecisionDoubt {
		t.Fatalf("expected doubt for unknown effect, got %s", r.Decision)
	}
}

func TestExecuteReceiptModeIsCopied(t *testing.T) {
	e := New(testUnits(t))
	mode := types.Mode{
		Effects:     []types.Effect{types.EffectRead},
		ActiveRules: []string{"adult", "small"},
		Scopes:      map[types.Effect]types.Scope{types.EffectRead: {Allow: []string{"**"}}},
	}
	r, err := e.Execute(context.Background(), "checkout", map[string]any{"user": map[string]any{"age": 30}, "amount": 1}, &mode)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	mode.Effects[0] = types.EffectWASM
	mode.ActiveRules[0] = "mutated"
	mode.Scopes[types.EffectRead].Allow[0] = "nothing"
	mode.Scopes[types.EffectNetwork] = types.Scope{}

	if r.Mode.Effects[0] != types.EffectRead || r.Mode.ActiveRules[0] != "adult" {
		t.Fatalf("receipt mode shares slices with caller: %+v", r.Mode)
	}
	if r.Mode.Scopes[types.EffectRead].Allow[0] != "**" || len(r.Mode.Scopes) != 1 {
		t.Fatalf("receipt mode shares scopes with caller: %+v", r.Mode.Scopes)
	}
}
