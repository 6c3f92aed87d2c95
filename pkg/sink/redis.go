package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/chargeback/pkg/models"
)

// streamAdder is the subset of redis.Cmdable the stream sink uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream publishes usage events onto a Redis stream as flat string maps.
type RedisStream struct {
	client streamAdder
	stream string
	maxLen int64
}

// NewRedisStream creates a sink writing to stream. A positive maxLen caps the
// stream length approximately.
func NewRedisStream(client redis.Cmdable, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// Record implements meter.Recorder.
func (s *RedisStream) Record(ctx context.Context, rec models.UsageRecord) error {
	props := rec.Properties()
	values := make([]any, 0, 2*len(props)+2)
	values = append(values, "event", models.UsageEventName)
	for _, k := range propertyOrder {
		values = append(values, k, props[k])
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish usage event: %w", err)
	}
	return nil
}
