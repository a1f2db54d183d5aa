package ledger

import (
	"context"
	"encoding/json"

	"github.com/davidahmann/attest/pkg/types"
	"github.com/redis/go-redis/v9"
)

const DefaultReceiptStream = "attest:receipts"

// StreamAdder is the part of redis.Cmdable the sink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends receipts to a Redis stream, trimmed to roughly MaxLen
// entries when MaxLen > 0.
type RedisSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisSink(client StreamAdder, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultReceiptStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Emit(ctx context.Context, r types.ExecutionReceipt) error {
	if r.ID() == "" {
		return ErrEmptyReceiptID
	}
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"receipt_id": r.ID(),
			"unit_id":    r.UnitID,
			"decision":   string(r.Decision),
			"body":       string(body),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}
