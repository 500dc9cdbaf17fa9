// Package chaintest provides an in-memory chain.Provider for tests that need
// to drive events without a node.
package chaintest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
)

// ErrUnknownAttachment is returned by Detach for handles that are not live.
var ErrUnknownAttachment = errors.New("unknown attachment")

type attachment struct {
	id      string
	filter  chain.Filter
	handler chain.Handler
}

func (a *attachment) ID() string           { return a.id }
func (a *attachment) Filter() chain.Filter { return a.filter }

// FakeProvider records attachments and delivers events synchronously on Emit.
type FakeProvider struct {
	mu          sync.Mutex
	next        int
	live        map[string]*attachment
	attachCalls int
	detachCalls int
	attachErr   error
	detachErr   error
	closed      bool
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{live: make(map[string]*attachment)}
}

// FailNextAttach makes the next Attach return err.
func (p *FakeProvider) FailNextAttach(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachErr = err
}

// FailNextDetach makes the next Detach return err. The attachment stays live.
func (p *FakeProvider) FailNextDetach(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detachErr = err
}

func (p *FakeProvider) Attach(_ context.Context, filter chain.Filter, handler chain.Handler) (chain.Attachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attachCalls++
	if p.attachErr != nil {
		err := p.attachErr
		p.attachErr = nil
		return nil, err
	}
	if p.closed {
		return nil, errors.New("provider is closed")
	}

	p.next++
	att := &attachment{id: strconv.Itoa(p.next), filter: filter, handler: handler}
	p.live[att.id] = att
	return att, nil
}

func (p *FakeProvider) Detach(_ context.Context, a chain.Attachment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.detachCalls++
	if p.detachErr != nil {
		err := p.detachErr
		p.detachErr = nil
		return err
	}
	if a == nil {
		return ErrUnknownAttachment
	}
	if _, ok := p.live[a.ID()]; !ok {
		return ErrUnknownAttachment
	}
	delete(p.live, a.ID())
	return nil
}

func (p *FakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.live = make(map[string]*attachment)
	return nil
}

// Emit delivers an event to every live attachment whose address and event
// name match, and returns how many handlers were invoked.
func (p *FakeProvider) Emit(address, eventName string, args map[string]any) int {
	p.mu.Lock()
	var handlers []chain.Handler
	for _, att := range p.live {
		if strings.EqualFold(att.filter.Address, address) && att.filter.EventName == eventName {
			handlers = append(handlers, att.handler)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(chain.Event{Address: address, EventName: eventName, Args: args})
	}
	return len(handlers)
}

// LiveCount returns the number of live attachments.
func (p *FakeProvider) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// AttachCalls returns how many times Attach was called.
func (p *FakeProvider) AttachCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attachCalls
}

// DetachCalls returns how many times Detach was called.
func (p *FakeProvider) DetachCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detachCalls
}

// Filters returns the filters of every live attachment.
func (p *FakeProvider) Filters() []chain.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	filters := make([]chain.Filter, 0, len(p.live))
	for _, att := range p.live {
		filters = append(filters, att.filter)
	}
	return filters
}

var _ chain.Provider = (*FakeProvider)(nil)
