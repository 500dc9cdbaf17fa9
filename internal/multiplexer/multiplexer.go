package multiplexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/im7mortal/kmutex"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/metrics"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

var (
	// ErrClosed is returned by Subscribe after Close
	ErrClosed = errors.New("multiplexer is closed")
	// ErrNilCallback is returned by Subscribe when no callback is given
	ErrNilCallback = errors.New("callback cannot be nil")
)

// listenerEntry is the live attachment of one canonical key and the
// subscribers sharing it. It exists only while it has subscribers.
type listenerEntry struct {
	key         subscription.CanonicalKey
	filter      chain.Filter
	attachment  chain.Attachment
	subscribers []member
}

// member is a subscriber tagged with its global subscribe sequence.
type member struct {
	seq uint64
	subscription.Subscriber
}

// Multiplexer implements subscription.Multiplexer.
//
// Subscribe and Unsubscribe for the same canonical key are serialised by a
// keyed mutex, so attach and detach never run under the map lock. The map,
// the key order and the subscriber slices are guarded by mu; dispatch works
// on a snapshot taken under the read lock.
type Multiplexer struct {
	registry registry.Registry
	provider chain.Provider
	logger   *zap.Logger
	metrics  *metrics.Metrics
	config   Config

	keyLocks *kmutex.Kmutex

	mu      sync.RWMutex
	entries map[subscription.CanonicalKey]*listenerEntry
	order   []subscription.CanonicalKey
	seq     uint64
	closed  bool
	// stranded holds entries whose final detach failed; Close retries them
	stranded []*listenerEntry

	callbacks sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// New creates a multiplexer. It does not touch the provider until the first
// Subscribe.
func New(config Config) (*Multiplexer, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid multiplexer config: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		registry: config.Registry,
		provider: config.Provider,
		logger:   config.Logger.With(zap.String("component", "multiplexer")),
		metrics:  config.Metrics,
		config:   config,
		keyLocks: kmutex.New(),
		entries:  make(map[subscription.CanonicalKey]*listenerEntry),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}, nil
}

// Subscribe resolves the request, attaches a listener for its canonical key
// when none is live, and appends a subscriber. Duplicate requests are
// accepted and tracked independently.
func (m *Multiplexer) Subscribe(ctx context.Context, req subscription.Request, callback subscription.Callback) error {
	if callback == nil {
		return ErrNilCallback
	}
	if err := req.Validate(); err != nil {
		return err
	}
	threshold, _ := req.Threshold()
	address := req.NormalizedAddress()

	descriptor, err := m.resolve(ctx, address, req.Type)
	if err != nil {
		return err
	}

	key := subscription.CanonicalKeyFor(req.ABI, address, descriptor.EventName)
	sub := subscription.Subscriber{
		Address:      address,
		Type:         req.Type,
		TriggerValue: threshold,
		Label:        req.Label,
		EventField:   descriptor.EventField,
		Callback:     callback,
	}

	m.keyLocks.Lock(key)
	defer m.keyLocks.Unlock(key)

	m.mu.RLock()
	closed := m.closed
	_, live := m.entries[key]
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	var created *listenerEntry
	if !live {
		filter := chain.Filter{
			Address:   address,
			ABI:       slices.Clone(req.ABI),
			EventName: descriptor.EventName,
		}
		att, err := m.provider.Attach(ctx, filter, func(ev chain.Event) {
			m.dispatch(key, ev)
		})
		if err != nil {
			m.logger.Warn("Failed to attach listener",
				zap.String("key", key.Short()),
				zap.String("address", address),
				zap.String("event", descriptor.EventName),
				zap.Error(err))
			return &subscription.AttachmentError{Op: "attach", Key: key, Filter: filter, Err: err}
		}
		created = &listenerEntry{key: key, filter: filter, attachment: att}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if created != nil {
			if err := m.provider.Detach(context.Background(), created.attachment); err != nil {
				m.logger.Warn("Failed to detach listener after close", zap.String("key", key.Short()), zap.Error(err))
			}
		}
		return ErrClosed
	}
	entry := m.entries[key]
	if entry == nil {
		entry = created
		m.entries[key] = entry
		m.order = append(m.order, key)
	}
	m.seq++
	entry.subscribers = append(slices.Clip(entry.subscribers), member{seq: m.seq, Subscriber: sub})
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.logger.Info("Subscribed",
		zap.String("key", key.Short()),
		zap.String("address", address),
		zap.String("type", req.Type),
		zap.String("label", req.Label),
		zap.String("trigger", threshold.RatString()),
		zap.Bool("new_listener", created != nil))
	return nil
}

// Unsubscribe removes the first subscriber matching the request. The
// listener is detached when its last subscriber leaves. An unknown mapping
// or no matching subscriber is a no-op reported as (false, nil).
func (m *Multiplexer) Unsubscribe(ctx context.Context, req subscription.Request) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	threshold, _ := req.Threshold()
	address := req.NormalizedAddress()

	descriptor, err := m.registry.Get(ctx, address, req.Type)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			m.logger.Debug("Unsubscribe for unregistered type ignored",
				zap.String("address", address),
				zap.String("type", req.Type))
			return false, nil
		}
		return false, &subscription.RegistryLookupError{Address: address, Type: req.Type, Err: err}
	}

	key := subscription.CanonicalKeyFor(req.ABI, address, descriptor.EventName)

	m.keyLocks.Lock(key)
	defer m.keyLocks.Unlock(key)

	m.mu.Lock()
	entry := m.entries[key]
	if entry == nil {
		m.mu.Unlock()
		return false, nil
	}
	idx := slices.IndexFunc(entry.subscribers, func(s member) bool {
		return s.Matches(address, req.Type, descriptor.EventField, threshold, req.Label)
	})
	if idx < 0 {
		m.mu.Unlock()
		return false, nil
	}
	entry.subscribers = slices.Delete(slices.Clone(entry.subscribers), idx, idx+1)

	var detach *listenerEntry
	if len(entry.subscribers) == 0 {
		delete(m.entries, key)
		m.order = slices.DeleteFunc(m.order, func(k subscription.CanonicalKey) bool { return k == key })
		detach = entry
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	m.logger.Info("Unsubscribed",
		zap.String("key", key.Short()),
		zap.String("address", address),
		zap.String("type", req.Type),
		zap.String("label", req.Label),
		zap.Bool("listener_detached", detach != nil))

	if detach != nil {
		if err := m.provider.Detach(ctx, detach.attachment); err != nil {
			m.logger.Warn("Failed to detach listener, retrying on close",
				zap.String("key", key.Short()),
				zap.String("attachment", detach.attachment.ID()),
				zap.Error(err))
			m.mu.Lock()
			m.stranded = append(m.stranded, detach)
			m.mu.Unlock()
			return true, &subscription.AttachmentError{Op: "detach", Key: key, Filter: detach.filter, Err: err}
		}
	}
	return true, nil
}

// SubscribedEvents returns the {address, type} of every live subscriber in
// the order they subscribed.
func (m *Multiplexer) SubscribedEvents() []subscription.EventRef {
	m.mu.RLock()
	members := make([]member, 0, m.subscriberCountLocked())
	for _, key := range m.order {
		members = append(members, m.entries[key].subscribers...)
	}
	m.mu.RUnlock()

	slices.SortFunc(members, func(a, b member) int {
		return cmp.Compare(a.seq, b.seq)
	})

	refs := make([]subscription.EventRef, len(members))
	for i, s := range members {
		refs[i] = s.Ref()
	}
	return refs
}

// KeyCount returns the number of live listeners.
func (m *Multiplexer) KeyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SubscriberCount returns the number of live subscribers across all keys.
func (m *Multiplexer) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriberCountLocked()
}

// Keys returns the live canonical keys in first-attach order.
func (m *Multiplexer) Keys() []subscription.CanonicalKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// StrandedCount returns the number of attachments whose detach failed after
// their last subscriber left. They are retried by Close.
func (m *Multiplexer) StrandedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stranded)
}

// Wait blocks until every callback started so far has returned.
func (m *Multiplexer) Wait() {
	m.callbacks.Wait()
}

// Close detaches every listener and waits for in-flight callbacks.
// Safe to call multiple times.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*listenerEntry, 0, len(m.order)+len(m.stranded))
	for _, key := range m.order {
		entries = append(entries, m.entries[key])
	}
	entries = append(entries, m.stranded...)
	m.entries = make(map[subscription.CanonicalKey]*listenerEntry)
	m.order = nil
	m.stranded = nil
	m.updateGaugesLocked()
	m.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := m.provider.Detach(context.Background(), entry.attachment); err != nil {
			errs = append(errs, &subscription.AttachmentError{Op: "detach", Key: entry.key, Filter: entry.filter, Err: err})
		}
	}

	m.callbacks.Wait()
	m.cancel()

	m.logger.Info("Multiplexer closed", zap.Int("listeners_detached", len(entries)))
	return errors.Join(errs...)
}

func (m *Multiplexer) resolve(ctx context.Context, address, eventType string) (subscription.EventDescriptor, error) {
	descriptor, err := m.registry.Get(ctx, address, eventType)
	if err != nil {
		return subscription.EventDescriptor{}, &subscription.RegistryLookupError{Address: address, Type: eventType, Err: err}
	}
	if err := descriptor.Validate(); err != nil {
		return subscription.EventDescriptor{}, &subscription.RegistryLookupError{Address: address, Type: eventType, Err: err}
	}
	return descriptor, nil
}

// dispatch evaluates every subscriber of key against the event and fires
// the callbacks whose threshold is reached.
func (m *Multiplexer) dispatch(key subscription.CanonicalKey, ev chain.Event) {
	m.mu.RLock()
	entry := m.entries[key]
	var subscribers []member
	if entry != nil {
		subscribers = slices.Clone(entry.subscribers)
	}
	m.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}
	m.metrics.EventDispatched()

	for _, s := range subscribers {
		value, ok := ev.Arg(s.EventField)
		if !ok {
			m.logger.Debug("Event has no field for subscriber",
				zap.String("key", key.Short()),
				zap.String("field", s.EventField),
				zap.String("label", s.Label))
			continue
		}
		if !s.Triggered(value) {
			continue
		}
		m.fire(s.Subscriber, ev)
	}
}

func (m *Multiplexer) fire(s subscription.Subscriber, ev chain.Event) {
	m.metrics.CallbackFired()
	m.callbacks.Add(1)
	go func() {
		defer m.callbacks.Done()
		defer func() {
			if r := recover(); r != nil {
				m.fault(s, fmt.Errorf("panic: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(m.baseCtx, m.config.CallbackTimeout)
		defer cancel()
		if err := s.Callback(ctx, s.MatchFor(ev)); err != nil {
			m.fault(s, err)
		}
	}()
}

func (m *Multiplexer) fault(s subscription.Subscriber, err error) {
	m.metrics.CallbackFault()
	m.logger.Warn("Subscriber callback failed",
		zap.Error(&subscription.CallbackFault{Address: s.Address, Type: s.Type, Label: s.Label, Err: err}))
}

func (m *Multiplexer) subscriberCountLocked() int {
	n := 0
	for _, entry := range m.entries {
		n += len(entry.subscribers)
	}
	return n
}

func (m *Multiplexer) updateGaugesLocked() {
	m.metrics.SetListeners(len(m.entries))
	m.metrics.SetSubscribers(m.subscriberCountLocked())
}

var _ subscription.Multiplexer = (*Multiplexer)(nil)
