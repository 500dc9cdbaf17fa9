package chain

import (
	"context"
	"io"
)

// Filter selects the raw event stream a listener is attached to.
type Filter struct {
	// Address is the contract address emitting the event
	Address string

	// ABI holds the fragments used to decode the event, either human-readable
	// ("event Transfer(address indexed from, ...)") or JSON objects
	ABI []string

	// EventName is the on-chain event to listen for
	EventName string
}

// Handler receives every decoded event for an attachment.
type Handler func(event Event)

// Attachment is the handle of a live listener returned by Provider.Attach.
type Attachment interface {
	// ID returns a provider-unique identifier for the attachment
	ID() string

	// Filter returns the filter the attachment was created with
	Filter() Filter
}

// Provider is the blockchain connection. It is the only component that talks
// to the node; the multiplexer is its sole manager.
type Provider interface {
	io.Closer

	// Attach starts a listener for the filter and returns its handle.
	// An error means no listener was started.
	Attach(ctx context.Context, filter Filter, handler Handler) (Attachment, error)

	// Detach stops the listener. After Detach returns the handler is not
	// invoked again for that attachment.
	Detach(ctx context.Context, attachment Attachment) error
}
