package subscription

import (
	"context"
	"io"
)

// Multiplexer shares one chain listener between every logical subscriber of
// the same canonical key.
type Multiplexer interface {
	io.Closer

	// Subscribe resolves the request through the registry, attaches a listener
	// for its canonical key if none is live, and appends a subscriber.
	// Duplicate requests are accepted and tracked independently.
	Subscribe(ctx context.Context, req Request, callback Callback) error

	// Unsubscribe removes the first subscriber matching the request and
	// detaches the listener once its key has no subscribers left. It reports
	// whether a subscriber was removed; no match is not an error.
	Unsubscribe(ctx context.Context, req Request) (bool, error)

	// SubscribedEvents returns a snapshot of every live subscriber.
	SubscribedEvents() []EventRef
}
