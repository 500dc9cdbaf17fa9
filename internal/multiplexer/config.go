package multiplexer

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/metrics"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
)

var (
	// ErrNilRegistry is returned when no registry is configured
	ErrNilRegistry = errors.New("registry cannot be nil")
	// ErrNilProvider is returned when no chain provider is configured
	ErrNilProvider = errors.New("provider cannot be nil")
	// ErrInvalidCallbackTimeout is returned for a negative callback timeout
	ErrInvalidCallbackTimeout = errors.New("callback timeout cannot be negative")
)

// Config represents configuration for a Multiplexer
type Config struct {
	// Registry resolves (address, type) to the raw event and field
	Registry registry.Registry

	// Provider attaches and detaches chain listeners
	Provider chain.Provider

	// Logger receives lifecycle and fault logs; nil disables logging
	Logger *zap.Logger

	// Metrics is optional
	Metrics *metrics.Metrics

	// CallbackTimeout bounds the context handed to each callback invocation
	CallbackTimeout time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.CallbackTimeout == 0 {
		c.CallbackTimeout = 30 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Registry == nil {
		return ErrNilRegistry
	}
	if c.Provider == nil {
		return ErrNilProvider
	}
	if c.CallbackTimeout < 0 {
		return ErrInvalidCallbackTimeout
	}
	return nil
}
