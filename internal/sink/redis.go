package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/sink"
)

// DefaultStream is the stream notifications are appended to.
const DefaultStream = "eth-engine:notifications"

// RedisStreamSink appends notifications to a Redis stream. Each entry carries
// the address, type and label as separate fields for consumers that filter,
// plus the full notification as JSON under "payload".
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink on the given client. maxLen caps the
// stream approximately; zero leaves it unbounded.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Send appends the notification and returns once Redis acknowledged it.
func (s *RedisStreamSink) Send(ctx context.Context, n sink.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"address": n.Address,
			"type":    n.Type,
			"label":   n.Label,
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.stream, err)
	}
	return nil
}

// Stream returns the stream name.
func (s *RedisStreamSink) Stream() string {
	return s.stream
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStreamSink) Close() error {
	return nil
}

var _ sink.Sink = (*RedisStreamSink)(nil)
