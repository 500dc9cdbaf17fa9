// Package sink defines the write-only destination for matched events.
//
// The engine hands every notification whose threshold was crossed to a Sink.
// No acknowledgment contract is required: a Send error is logged by the
// caller and the notification is not retried.
package sink
