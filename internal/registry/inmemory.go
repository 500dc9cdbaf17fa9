package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// ErrInvalidAddress is returned when an address is not 20 hex bytes.
var ErrInvalidAddress = errors.New("address must be a 20-byte hex string")

type entryKey struct {
	address   string
	eventType string
}

// InMemoryRegistry implements registry.Registry with a process-local map.
// It is safe for concurrent use.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[entryKey]subscription.EventDescriptor
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		entries: make(map[entryKey]subscription.EventDescriptor),
	}
}

// Get returns the descriptor registered for (address, eventType).
func (r *InMemoryRegistry) Get(ctx context.Context, address, eventType string) (subscription.EventDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return subscription.EventDescriptor{}, err
	}
	key, err := newEntryKey(address, eventType)
	if err != nil {
		return subscription.EventDescriptor{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.entries[key]
	if !ok {
		return subscription.EventDescriptor{}, registry.ErrNotFound
	}
	return desc, nil
}

// Set registers or replaces the descriptor for (address, eventType).
func (r *InMemoryRegistry) Set(ctx context.Context, address, eventType string, descriptor subscription.EventDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := newEntryKey(address, eventType)
	if err != nil {
		return err
	}
	if err := descriptor.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = descriptor
	return nil
}

// Len returns the number of registered pairs.
func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func newEntryKey(address, eventType string) (entryKey, error) {
	if !common.IsHexAddress(address) {
		return entryKey{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if eventType == "" {
		return entryKey{}, errors.New("event type cannot be empty")
	}
	return entryKey{address: subscription.NormalizeAddress(address), eventType: eventType}, nil
}

var _ registry.Registry = (*InMemoryRegistry)(nil)
