package registry

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// ErrNotFound is returned by Get when no descriptor is registered.
var ErrNotFound = errors.New("event descriptor not found")

// Registry resolves (address, type) pairs to event descriptors.
// Addresses are compared in EIP-55 checksum form.
type Registry interface {
	// Get returns the descriptor registered for the pair, or ErrNotFound.
	Get(ctx context.Context, address, eventType string) (subscription.EventDescriptor, error)

	// Set registers or replaces the descriptor for the pair.
	Set(ctx context.Context, address, eventType string, descriptor subscription.EventDescriptor) error
}
