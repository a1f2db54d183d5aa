package ledger

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/davidahmann/attest/pkg/types"
	"github.com/sony/gobreaker"
)

type ReliableOptions struct {
	Name           string
	Attempts       uint
	Delay          time.Duration
	MaxConsecutive uint32
	OpenTimeout    time.Duration
}

// ReliableSink retries a flaky sink with backoff and stops calling it while
// it keeps failing.
type ReliableSink struct {
	next Sink
	opts ReliableOptions
	cb   *gobreaker.CircuitBreaker
}

func NewReliableSink(next Sink, opts ReliableOptions) *ReliableSink {
	if opts.Name == "" {
		opts.Name = "receipt-sink"
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay == 0 {
		opts.Delay = 50 * time.Millisecond
	}
	if opts.MaxConsecutive == 0 {
		opts.MaxConsecutive = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	maxFailures := opts.MaxConsecutive
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &ReliableSink{next: next, opts: opts, cb: cb}
}

// Emit fails fast with gobreaker.ErrOpenState while the breaker is open.
func (s *ReliableSink) Emit(ctx context.Context, r types.ExecutionReceipt) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, retry.New(
			retry.Context(ctx),
			retry.Attempts(s.opts.Attempts),
			retry.Delay(s.opts.Delay),
			retry.DelayType(retry.BackOffDelay),
		).Do(func() error {
			return s.next.Emit(ctx, r)
		})
	})
	return err
}

func (s *ReliableSink) State() gobreaker.State {
	return s.cb.State()
}
