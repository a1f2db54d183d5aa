package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidahmann/attest/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type countingSink struct {
	mu       sync.Mutex
	calls    int
	failFor  int
	received []string
}

func (s *countingSink) Emit(_ context.Context, r types.ExecutionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFor {
		return errors.New("sink unavailable")
	}
	s.received = append(s.received, r.ID())
	return nil
}

func (s *countingSink) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]string(nil), s.received...)
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		cmd := redis.NewStringCmd(ctx)
		cmd.SetErr(f.err)
		return cmd
	}
	return redis.NewStringResult("1-0", nil)
}

func TestStoreSink(t *testing.T) {
	r := execute(t, testEngine(t, testSigner(t)), "checkout", allowInput())
	store := NewInMemoryStore()
	if err := NewStoreSink(store).Emit(context.Background(), r); err != nil {
		t.Fatalf("emit: %v", err)
	}
	rec, ok := store.GetReceipt(r.ID())
	if !ok {
		t.Fatalf("receipt not stored")
	}
	if rec.Decision != string(types.DecisionAllow) || !rec.Signed {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFileSink(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	sink := NewFileSink(t.TempDir())
	if err := sink.Emit(context.Background(), r); err != nil {
		t.Fatalf("emit: %v", err)
	}
	data, err := os.ReadFile(sink.Path(r.ID()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var back types.ExecutionReceipt
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.ID() != r.ID() {
		t.Fatalf("receipt id mismatch: %s", back.ID())
	}
	if err := sink.Emit(context.Background(), types.ExecutionReceipt{}); !errors.Is(err, ErrEmptyReceiptID) {
		t.Fatalf("expected ErrEmptyReceiptID, got %v", err)
	}
}

func TestRedisSink(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	stream := &fakeStream{}
	sink := NewRedisSink(stream, "", 1000)
	if err := sink.Emit(context.Background(), r); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(stream.args) != 1 {
		t.Fatalf("expected one XADD, got %d", len(stream.args))
	}
	args := stream.args[0]
	if args.Stream != DefaultReceiptStream || args.MaxLen != 1000 || !args.Approx {
		t.Fatalf("unexpected args: %+v", args)
	}
	values, _ := args.Values.(map[string]any)
	if values["receipt_id"] != r.ID() || values["decision"] != "Allow" {
		t.Fatalf("unexpected values: %+v", values)
	}

	stream.err = errors.New("connection refused")
	if err := sink.Emit(context.Background(), r); err == nil {
		t.Fatalf("expected redis error")
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	ok := &countingSink{}
	bad := &countingSink{failFor: 10}
	err := MultiSink{bad, ok}.Emit(context.Background(), r)
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if _, got := ok.snapshot(); len(got) != 1 {
		t.Fatalf("healthy sink should still receive the receipt")
	}
}

func TestReliableSinkRetries(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	next := &countingSink{failFor: 2}
	sink := NewReliableSink(next, ReliableOptions{Attempts: 3, Delay: time.Millisecond})
	if err := sink.Emit(context.Background(), r); err != nil {
		t.Fatalf("emit: %v", err)
	}
	calls, got := next.snapshot()
	if calls != 3 || len(got) != 1 {
		t.Fatalf("expected 3 calls and one delivery, got %d %v", calls, got)
	}
}

func TestReliableSinkOpensBreaker(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	next := &countingSink{failFor: 1000}
	sink := NewReliableSink(next, ReliableOptions{
		Attempts:       1,
		Delay:          time.Millisecond,
		MaxConsecutive: 2,
		OpenTimeout:    time.Minute,
	})
	for i := 0; i < 2; i++ {
		if err := sink.Emit(context.Background(), r); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	if sink.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", sink.State())
	}
	before, _ := next.snapshot()
	if err := sink.Emit(context.Background(), r); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if after, _ := next.snapshot(); after != before {
		t.Fatalf("open breaker should not call the sink")
	}
}

type gatedSink struct {
	gate      chan struct{}
	delivered atomic.Int32
}

func (s *gatedSink) Emit(context.Context, types.ExecutionReceipt) error {
	<-s.gate
	s.delivered.Add(1)
	return nil
}

func TestAsyncSinkDrainsOnStop(t *testing.T) {
	r := execute(t, testEngine(t, nil), "checkout", allowInput())
	next := &gatedSink{gate: make(chan struct{})}
	sink := NewAsyncSink(next, 2, zap.NewNop())

	// One receipt is held by the worker, two fill the queue.
	if err := sink.Emit(context.Background(), r); err != nil {
		t.Fatalf("emit: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(sink.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		if err := sink.Emit(context.Background(), r); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	if err := sink.Emit(context.Background(), r); !errors.Is(err, ErrSinkQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	close(next.gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := next.delivered.Load(); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d", got)
	}
	if err := sink.Emit(context.Background(), r); !errors.Is(err, ErrSinkStopped) {
		t.Fatalf("expected stopped, got %v", err)
	}
}
