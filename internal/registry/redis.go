package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// DefaultKeyPrefix namespaces registry hashes.
const DefaultKeyPrefix = "eth-engine:registry"

// RedisRegistry implements registry.Registry on Redis hashes: one hash per
// contract address, keyed "<prefix>:<checksum address>", with one field per
// subscription type holding the JSON descriptor.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRegistry creates a registry over an existing client. The client is
// shared and is not closed by the registry.
func NewRedisRegistry(client redis.Cmdable, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

// Get returns the descriptor registered for (address, eventType).
func (r *RedisRegistry) Get(ctx context.Context, address, eventType string) (subscription.EventDescriptor, error) {
	key, err := newEntryKey(address, eventType)
	if err != nil {
		return subscription.EventDescriptor{}, err
	}

	raw, err := r.client.HGet(ctx, r.hashKey(key.address), key.eventType).Result()
	if errors.Is(err, redis.Nil) {
		return subscription.EventDescriptor{}, registry.ErrNotFound
	}
	if err != nil {
		return subscription.EventDescriptor{}, fmt.Errorf("failed to read registry: %w", err)
	}

	var desc subscription.EventDescriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return subscription.EventDescriptor{}, fmt.Errorf("corrupt registry entry for %s/%s: %w", key.address, key.eventType, err)
	}
	return desc, nil
}

// Set registers or replaces the descriptor for (address, eventType).
func (r *RedisRegistry) Set(ctx context.Context, address, eventType string, descriptor subscription.EventDescriptor) error {
	key, err := newEntryKey(address, eventType)
	if err != nil {
		return err
	}
	if err := descriptor.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	payload, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}
	if err := r.client.HSet(ctx, r.hashKey(key.address), key.eventType, payload).Err(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

func (r *RedisRegistry) hashKey(address string) string {
	return r.prefix + ":" + address
}

var _ registry.Registry = (*RedisRegistry)(nil)
