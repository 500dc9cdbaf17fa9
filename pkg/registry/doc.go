// Package registry defines the Event Registry: the shared mapping from a
// contract address and a logical subscription type (for example "largeBuy")
// to the raw on-chain event and field that type is evaluated against.
//
// The registry may be mutated by any number of external writers. The
// multiplexer reads it once per subscribe or unsubscribe call and never
// caches a descriptor, so changes take effect on the next call.
//
// Implementations live in internal/registry: an in-process map and a Redis
// hash store.
package registry
