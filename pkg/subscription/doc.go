// Package subscription holds the data model shared by the multiplexer and the
// command gateway: subscribe requests, resolved event descriptors, logical
// subscribers, the canonical key that identifies one on-chain event stream,
// and the error taxonomy.
//
// Two digests are defined here and both are part of the wire contract:
//
//   - CanonicalKey identifies the underlying event stream
//     (abi, address, eventName). Requests that resolve to the same triple share
//     a key regardless of type, threshold or label.
//   - ContentHash identifies a whole request. The gateway publishes subscribe
//     failures on the channel named by it, so requesters can compute it
//     themselves before sending.
//
// Both are sha256 over a fixed-order JSON serialisation, so they are stable
// across processes and restarts.
package subscription
