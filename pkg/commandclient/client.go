// Package commandclient publishes subscribe and unsubscribe commands to a
// running engine over Redis pub/sub.
package commandclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// ErrNoListener is returned when a command reached no subscriber, i.e. no
// engine is listening on the channel.
var ErrNoListener = errors.New("no engine is listening on the command channel")

// Config names the channels the engine listens on.
type Config struct {
	SubscribeChannel   string
	UnsubscribeChannel string
	ResponsePrefix     string
}

// SetDefaults fills in the engine's default channels.
func (c *Config) SetDefaults() {
	if c.SubscribeChannel == "" {
		c.SubscribeChannel = subscription.DefaultSubscribeChannel
	}
	if c.UnsubscribeChannel == "" {
		c.UnsubscribeChannel = subscription.DefaultUnsubscribeChannel
	}
}

// Client publishes commands. It does not own the Redis client.
type Client struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a command client.
func New(client redis.UniversalClient, config Config) *Client {
	config.SetDefaults()
	return &Client{redis: client, config: config}
}

// Subscribe publishes a subscribe command without waiting for an outcome.
func (c *Client) Subscribe(ctx context.Context, req subscription.Request) error {
	return c.publish(ctx, c.config.SubscribeChannel, req)
}

// SubscribeAndWait publishes a subscribe command and waits up to wait for a
// failure response. The engine never acknowledges success, so a nil response
// with a nil error means no failure was reported in time.
func (c *Client) SubscribeAndWait(ctx context.Context, req subscription.Request, wait time.Duration) (*subscription.FailureResponse, error) {
	channel := subscription.ResponseChannel(c.config.ResponsePrefix, req)

	// listen before publishing so a fast failure is not missed
	pubsub := c.redis.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	if err := c.Subscribe(ctx, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg, ok := <-pubsub.Channel():
		if !ok {
			return nil, fmt.Errorf("response channel %s closed", channel)
		}
		var resp subscription.FailureResponse
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &resp, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe publishes an unsubscribe command. The engine never responds.
func (c *Client) Unsubscribe(ctx context.Context, req subscription.Request) error {
	return c.publish(ctx, c.config.UnsubscribeChannel, req)
}

func (c *Client) publish(ctx context.Context, channel string, req subscription.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	receivers, err := c.redis.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: %s", ErrNoListener, channel)
	}
	return nil
}
