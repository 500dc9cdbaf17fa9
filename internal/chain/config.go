package chain

import (
	"errors"
	"time"
)

// Config holds configuration for the go-ethereum provider.
type Config struct {
	// LogBufferSize is the capacity of each attachment's log channel
	LogBufferSize int

	// ResubscribeInitialInterval is the first delay before re-establishing a
	// subscription the node dropped
	ResubscribeInitialInterval time.Duration

	// ResubscribeMaxInterval caps the exponential delay
	ResubscribeMaxInterval time.Duration

	// ResubscribeMaxElapsed stops retrying after this long; zero retries until
	// the attachment is detached
	ResubscribeMaxElapsed time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.LogBufferSize <= 0 {
		c.LogBufferSize = 128
	}
	if c.ResubscribeInitialInterval <= 0 {
		c.ResubscribeInitialInterval = 500 * time.Millisecond
	}
	if c.ResubscribeMaxInterval <= 0 {
		c.ResubscribeMaxInterval = 30 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ResubscribeMaxInterval < c.ResubscribeInitialInterval {
		return errors.New("resubscribe max interval cannot be below the initial interval")
	}
	if c.ResubscribeMaxElapsed < 0 {
		return errors.New("resubscribe max elapsed cannot be negative")
	}
	return nil
}
