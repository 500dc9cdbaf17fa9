package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/sink"
)

var (
	// ErrClosed is returned by Send after Close
	ErrClosed = errors.New("sink is closed")
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
)

// InMemorySink implements sink.Sink by keeping every notification in memory,
// in delivery order. It is safe for concurrent use.
type InMemorySink struct {
	mu            sync.RWMutex
	notifications []sink.Notification
	closed        bool
}

// NewInMemorySink creates an empty in-memory sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

// Send appends the notification.
func (s *InMemorySink) Send(ctx context.Context, n sink.Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// Read returns up to maxCount notifications starting at offset.
func (s *InMemorySink) Read(offset, maxCount int) ([]sink.Notification, error) {
	if offset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset >= len(s.notifications) || maxCount == 0 {
		return []sink.Notification{}, nil
	}
	end := min(offset+maxCount, len(s.notifications))
	out := make([]sink.Notification, end-offset)
	copy(out, s.notifications[offset:end])
	return out, nil
}

// Len returns the number of notifications received.
func (s *InMemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications)
}

// Close discards all notifications. Safe to call multiple times.
func (s *InMemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notifications = nil
	return nil
}

var _ sink.Sink = (*InMemorySink)(nil)
