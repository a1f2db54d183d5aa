package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/expr"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Engine struct {
	units       Units
	canon       Canonicalizer
	addr        Addresser
	eval        policy.Evaluator
	agg         policy.Aggregator
	signer      Signer
	sink        Sink
	now         Clock
	newID       IDGenerator
	defaultMode types.Mode
	parallel    int
	logger      *zap.Logger
	metrics     *Metrics
}

type Option func(*Engine)

func WithCanonicalizer(c Canonicalizer) Option {
	return func(e *Engine) { e.canon = c }
}

func WithAddresser(a Addresser) Option {
	return func(e *Engine) { e.addr = a }
}

func WithEvaluator(ev policy.Evaluator) Option {
	return func(e *Engine) { e.eval = ev }
}

func WithAggregator(a policy.Aggregator) Option {
	return func(e *Engine) { e.agg = a }
}

// WithSigner signs every receipt except effect denials. Without one receipts
// are unsigned.
func WithSigner(s Signer) Option {
	return func(e *Engine) { e.signer = s }
}

func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.now = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.newID = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaultMode sets the mode used when Execute is given none.
func WithDefaultMode(m types.Mode) Option { return func(e *Engine) { e.defaultMode = m } }

// WithParallelRules evaluates up to n rules concurrently. n <= 1 is sequential.
func WithParallelRules(n int) Option { return func(e *Engine) { e.parallel = n } }

func New(units Units, opts ...Option) *Engine {
	e := &Engine{
		units:       units,
		canon:       jsonCanonicalizer{},
		addr:        blake3Addresser{},
		eval:        expr.NewEvaluator(nil),
		agg:         policy.DefaultAggregator{},
		now:         time.Now,
		newID:       newUUIDv7,
		defaultMode: types.Conservative(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("engine")
	return e
}

// Execute evaluates unitID against input and returns the receipt. Only an
// unknown unit or an input that cannot be canonicalized is an error; every
// other outcome is recorded in the receipt.
func (e *Engine) Execute(ctx context.Context, unitID string, input any, mode *types.Mode) (types.ExecutionReceipt, error) {
	start := e.now()
	unit, ok := e.units.Get(unitID)
	if !ok {
		return types.ExecutionReceipt{}, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	m := e.defaultMode.Clone()
	if mode != nil {
		m = mode.Clone()
	}

	in, canonical, err := e.slot(input)
	if err != nil {
		return types.ExecutionReceipt{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if missing := m.Missing(unit.RequiredEffects); len(missing) > 0 {
		r, err := e.denied(unit, m, in, missing, start)
		if err != nil {
			return types.ExecutionReceipt{}, err
		}
		e.emit(ctx, r)
		return r, nil
	}

	decisions := e.evaluate(unit, canonical, m)

	chain := make([]string, 0, len(decisions)+2)
	chain = append(chain, in.CID)
	for _, d := range decisions {
		step, err := e.cidOf(types.ChainStepDocument(d, in.CID))
		if err != nil {
			return types.ExecutionReceipt{}, err
		}
		chain = append(chain, step)
	}

	final := e.agg.Aggregate(unit.Wiring, decisions)

	out, _, err := e.slot(map[string]any{
		"unit_id":    unit.ID,
		"decision":   string(final),
		"rule_count": len(decisions),
	})
	if err != nil {
		return types.ExecutionReceipt{}, err
	}
	chain = append(chain, out.CID)

	r := types.ExecutionReceipt{
		UnitID:        unit.ID,
		UnitHash:      unit.Hash,
		Mode:          m,
		Input:         in,
		RuleDecisions: decisions,
		Output:        out,
		Decision:      final,
		Missing:       buildMissing(decisions, e.newID),
	}
	if r.Proof, err = e.seal(in.CID, out.CID, chain); err != nil {
		return types.ExecutionReceipt{}, err
	}
	r.Timestamp = e.now().UTC()
	r.DurationNS = r.Timestamp.Sub(start).Nanoseconds()

	e.metrics.observeExecution(unit.ID, string(final))
	e.emit(ctx, r)
	return r, nil
}

// evaluate returns decisions in declaration order regardless of parallelism.
func (e *Engine) evaluate(unit policy.Unit, input any, m types.Mode) []types.RuleDecision {
	ev := bindMode(e.eval, m)
	out := make([]types.RuleDecision, len(unit.Rules))
	if e.parallel <= 1 || len(unit.Rules) < 2 {
		for i, r := range unit.Rules {
			out[i] = policy.EvaluateRule(ev, r, input, m)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.parallel)
		for i, r := range unit.Rules {
			i, r := i, r
			g.Go(func() error {
				out[i] = policy.EvaluateRule(ev, r, input, m)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, d := range out {
		if !d.Skipped {
			e.metrics.observeRule(unit.ID, string(d.Decision), d.EvaluationNS)
		}
	}
	return out
}

// denied builds the receipt for a mode that lacks required effects. It carries
// no rule decisions and is never signed.
func (e *Engine) denied(unit policy.Unit, m types.Mode, in types.CanonSlot, missing []types.Effect, start time.Time) (types.ExecutionReceipt, error) {
	names := make([]string, len(missing))
	for i, eff := range missing {
		names[i] = string(eff)
	}
	out, _, err := e.slot(map[string]any{
		"error":    "effects not allowed: " + strings.Join(names, ", "),
		"decision": string(types.DecisionDeny),
	})
	if err != nil {
		return types.ExecutionReceipt{}, err
	}
	chain := []string{in.CID, out.CID}
	payload, err := e.cidOf(types.SigningPayload(in.CID, out.CID, chain))
	if err != nil {
		return types.ExecutionReceipt{}, err
	}
	now := e.now().UTC()
	e.metrics.observeExecution(unit.ID, string(types.DecisionDeny))
	e.logger.Info("effects not allowed",
		zap.String("unit_id", unit.ID),
		zap.Strings("missing", names))
	return types.ExecutionReceipt{
		UnitID:        unit.ID,
		UnitHash:      unit.Hash,
		Mode:          m,
		Input:         in,
		RuleDecisions: []types.RuleDecision{},
		Output:        out,
		Decision:      types.DecisionDeny,
		Proof:         types.Proof{HashChain: chain, PayloadCID: payload},
		Timestamp:     now,
		DurationNS:    now.Sub(start).Nanoseconds(),
	}, nil
}

func (e *Engine) seal(inputCID, outputCID string, chain []string) (types.Proof, error) {
	payload, err := e.cidOf(types.SigningPayload(inputCID, outputCID, chain))
	if err != nil {
		return types.Proof{}, err
	}
	proof := types.Proof{HashChain: chain, PayloadCID: payload}
	if e.signer == nil {
		return proof, nil
	}
	sig, err := e.signer.Sign([]byte(payload))
	if err != nil {
		e.metrics.signerFailed()
		e.logger.Warn("receipt left unsigned", zap.String("payload_cid", payload), zap.Error(err))
		return proof, nil
	}
	proof.Alg = e.signer.Algorithm()
	proof.KeyID = e.signer.KeyID()
	proof.Signature = sig
	return proof, nil
}

func (e *Engine) emit(ctx context.Context, r types.ExecutionReceipt) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ctx, r); err != nil {
		e.metrics.sinkFailed()
		e.logger.Warn("sink rejected receipt", zap.String("receipt_id", r.ID()), zap.Error(err))
	}
}

// slot canonicalizes v. The decoded canonical value is returned separately so
// that rules evaluate exactly what was hashed.
func (e *Engine) slot(v any) (types.CanonSlot, any, error) {
	b, err := e.canon.CanonicalBytes(v)
	if err != nil {
		return types.CanonSlot{}, nil, err
	}
	canonical, err := crypto.DecodeJSON(b)
	if err != nil {
		return types.CanonSlot{}, nil, err
	}
	return types.CanonSlot{Raw: v, Canonical: string(b), CID: e.addr.CID(b)}, canonical, nil
}

func (e *Engine) cidOf(v any) (string, error) {
	b, err := e.canon.CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	return e.addr.CID(b), nil
}
