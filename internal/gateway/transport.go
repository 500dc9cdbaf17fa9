package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one inbound command.
type Message struct {
	Channel string
	Payload []byte
}

// Source delivers inbound commands. Listen returns once the subscription is
// confirmed; the channel is closed when ctx ends or the source is closed.
type Source interface {
	io.Closer
	Listen(ctx context.Context, channels ...string) (<-chan Message, error)
}

// Responder publishes a payload to a named channel.
type Responder interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisSource is a Source over Redis pub/sub.
type RedisSource struct {
	client redis.UniversalClient

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisSource creates a source on the given client.
func NewRedisSource(client redis.UniversalClient) *RedisSource {
	return &RedisSource{client: client}
}

func (s *RedisSource) Listen(ctx context.Context, channels ...string) (<-chan Message, error) {
	pubsub := s.client.Subscribe(ctx, channels...)
	// Wait for the subscribe confirmation so no command published after
	// Listen returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	s.mu.Lock()
	s.pubsub = pubsub
	s.mu.Unlock()

	in := pubsub.Channel()
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close unsubscribes. The underlying client is owned by the caller.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub == nil {
		return nil
	}
	err := s.pubsub.Close()
	s.pubsub = nil
	return err
}

// RedisResponder publishes responses on the shared client pool.
type RedisResponder struct {
	client redis.UniversalClient
}

// NewRedisResponder creates a responder on the given client.
func NewRedisResponder(client redis.UniversalClient) *RedisResponder {
	return &RedisResponder{client: client}
}

func (r *RedisResponder) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

var (
	_ Source    = (*RedisSource)(nil)
	_ Responder = (*RedisResponder)(nil)
)
