package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/davidahmann/attest/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrSinkQueueFull = errors.New("receipt queue full")
	ErrSinkStopped   = errors.New("receipt sink stopped")
)

// AsyncSink queues receipts and hands them to the next sink on a worker
// goroutine, so Emit never waits on I/O.
type AsyncSink struct {
	next   Sink
	logger *zap.Logger
	queue  chan types.ExecutionReceipt

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewAsyncSink(next Sink, buffer int, logger *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:   next,
		logger: logger.Named("sink"),
		queue:  make(chan types.ExecutionReceipt, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Emit(_ context.Context, r types.ExecutionReceipt) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSinkStopped
	}
	select {
	case s.queue <- r:
		return nil
	default:
		return ErrSinkQueueFull
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for r := range s.queue {
		if err := s.next.Emit(context.Background(), r); err != nil {
			s.logger.Warn("receipt delivery failed",
				zap.String("receipt_id", r.ID()),
				zap.String("unit_id", r.UnitID),
				zap.Error(err))
		}
	}
}

// Stop rejects new receipts and waits for the queue to drain or ctx to end.
func (s *AsyncSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
