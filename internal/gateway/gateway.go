package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/metrics"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

var (
	// ErrNilMultiplexer is returned when no multiplexer is configured
	ErrNilMultiplexer = errors.New("multiplexer cannot be nil")
	// ErrNilSource is returned when no command source is configured
	ErrNilSource = errors.New("source cannot be nil")
	// ErrNilResponder is returned when no responder is configured
	ErrNilResponder = errors.New("responder cannot be nil")
	// ErrNilCallback is returned when no subscriber callback is configured
	ErrNilCallback = errors.New("callback cannot be nil")
	// ErrSameChannel is returned when subscribe and unsubscribe share a channel
	ErrSameChannel = errors.New("subscribe and unsubscribe channels must differ")
)

// Config represents configuration for a Gateway
type Config struct {
	SubscribeChannel   string
	UnsubscribeChannel string

	// ResponsePrefix is prepended to the content hash to name the failure
	// response channel; empty by default
	ResponsePrefix string

	// CommandTimeout bounds the handling of one command
	CommandTimeout time.Duration

	Multiplexer subscription.Multiplexer
	Source      Source
	Responder   Responder

	// Callback is attached to every subscriber created through the gateway
	Callback subscription.Callback

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SubscribeChannel == "" {
		c.SubscribeChannel = subscription.DefaultSubscribeChannel
	}
	if c.UnsubscribeChannel == "" {
		c.UnsubscribeChannel = subscription.DefaultUnsubscribeChannel
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	switch {
	case c.Multiplexer == nil:
		return ErrNilMultiplexer
	case c.Source == nil:
		return ErrNilSource
	case c.Responder == nil:
		return ErrNilResponder
	case c.Callback == nil:
		return ErrNilCallback
	case c.SubscribeChannel == c.UnsubscribeChannel:
		return ErrSameChannel
	}
	return nil
}

// Gateway receives subscribe and unsubscribe commands, validates them and
// routes them to the multiplexer. Commands are handled one at a time in
// arrival order. Failed subscribes are reported on the request's response
// channel; invalid commands and unsubscribes are never answered.
type Gateway struct {
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a gateway. Call Run to start consuming commands.
func New(config Config) (*Gateway, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	return &Gateway{
		config:  config,
		logger:  config.Logger.With(zap.String("component", "gateway")),
		metrics: config.Metrics,
	}, nil
}

// Run listens on both command channels and handles messages until ctx is
// cancelled or the source closes. It returns nil on cancellation.
func (g *Gateway) Run(ctx context.Context) error {
	messages, err := g.config.Source.Listen(ctx, g.config.SubscribeChannel, g.config.UnsubscribeChannel)
	if err != nil {
		return fmt.Errorf("failed to listen for commands: %w", err)
	}

	g.logger.Info("Listening for commands",
		zap.String("subscribe", g.config.SubscribeChannel),
		zap.String("unsubscribe", g.config.UnsubscribeChannel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("command source closed")
			}
			g.Handle(ctx, msg)
		}
	}
}

// Handle processes a single command.
func (g *Gateway) Handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Command handler panicked",
				zap.String("channel", msg.Channel),
				zap.Any("panic", r))
		}
	}()

	var subscribe bool
	switch msg.Channel {
	case g.config.SubscribeChannel:
		subscribe = true
	case g.config.UnsubscribeChannel:
	default:
		g.metrics.CommandDropped("unknown_channel")
		g.logger.Warn("Dropping command on unknown channel", zap.String("channel", msg.Channel))
		return
	}
	g.metrics.CommandReceived(msg.Channel)

	req, err := DecodeRequest(msg.Payload)
	if err != nil {
		g.metrics.CommandDropped("validation")
		g.logger.Warn("Dropping invalid command",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.CommandTimeout)
	defer cancel()

	if subscribe {
		g.subscribe(ctx, req)
	} else {
		g.unsubscribe(ctx, req)
	}
}

func (g *Gateway) subscribe(ctx context.Context, req subscription.Request) {
	err := g.config.Multiplexer.Subscribe(ctx, req, g.config.Callback)
	if err == nil {
		return
	}

	g.metrics.SubscribeFailed()
	channel := subscription.ResponseChannel(g.config.ResponsePrefix, req)
	g.logger.Warn("Subscribe failed",
		zap.String("address", req.Address),
		zap.String("type", req.Type),
		zap.String("label", req.Label),
		zap.String("response_channel", channel),
		zap.Error(err))

	payload, merr := json.Marshal(subscription.FailureResponse{Error: true, Reason: err.Error()})
	if merr != nil {
		g.logger.Error("Failed to encode failure response", zap.Error(merr))
		return
	}
	if perr := g.config.Responder.Publish(ctx, channel, payload); perr != nil {
		g.logger.Error("Failed to publish failure response",
			zap.String("response_channel", channel),
			zap.Error(perr))
	}
}

func (g *Gateway) unsubscribe(ctx context.Context, req subscription.Request) {
	removed, err := g.config.Multiplexer.Unsubscribe(ctx, req)
	if err != nil {
		g.logger.Warn("Unsubscribe failed",
			zap.String("address", req.Address),
			zap.String("type", req.Type),
			zap.String("label", req.Label),
			zap.Error(err))
		return
	}
	if !removed {
		g.logger.Debug("Unsubscribe matched no subscriber",
			zap.String("address", req.Address),
			zap.String("type", req.Type),
			zap.String("label", req.Label))
	}
}
