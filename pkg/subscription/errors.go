package subscription

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
)

var (
	// ErrInvalidRequest is matched by every ValidationError
	ErrInvalidRequest = errors.New("invalid subscribe request")
	// ErrRegistryLookup is matched by every RegistryLookupError
	ErrRegistryLookup = errors.New("registry lookup failed")
	// ErrAttachment is matched by every AttachmentError
	ErrAttachment = errors.New("listener attachment failed")
	// ErrCallbackFault is matched by every CallbackFault
	ErrCallbackFault = errors.New("subscriber callback failed")
)

// ValidationError reports a malformed inbound command. It names the first
// field that violated the contract.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Is reports true for ErrInvalidRequest.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// RegistryLookupError reports that no descriptor is registered for an
// (address, type) pair, or that the registry could not be reached.
type RegistryLookupError struct {
	Address string
	Type    string
	Err     error
}

func (e *RegistryLookupError) Error() string {
	return fmt.Sprintf("no event registered for address %s and type %q: %v", e.Address, e.Type, e.Err)
}

func (e *RegistryLookupError) Unwrap() error { return e.Err }

// Is reports true for ErrRegistryLookup.
func (e *RegistryLookupError) Is(target error) bool {
	return target == ErrRegistryLookup
}

// AttachmentError reports a connection-layer failure to attach or detach a
// listener.
type AttachmentError struct {
	Op     string // "attach" or "detach"
	Key    CanonicalKey
	Filter chain.Filter
	Err    error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("failed to %s listener for %s event %s: %v", e.Op, e.Filter.Address, e.Filter.EventName, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// Is reports true for ErrAttachment.
func (e *AttachmentError) Is(target error) bool {
	return target == ErrAttachment
}

// CallbackFault reports a subscriber callback that returned an error or
// panicked. It is logged and never propagated.
type CallbackFault struct {
	Address string
	Type    string
	Label   string
	Err     error
}

func (e *CallbackFault) Error() string {
	return fmt.Sprintf("callback for %s %q (%s) failed: %v", e.Address, e.Type, e.Label, e.Err)
}

func (e *CallbackFault) Unwrap() error { return e.Err }

// Is reports true for ErrCallbackFault.
func (e *CallbackFault) Is(target error) bool {
	return target == ErrCallbackFault
}
