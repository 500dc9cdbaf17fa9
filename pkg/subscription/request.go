package subscription

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Request is a subscribe or unsubscribe command as sent by a requester.
type Request struct {
	// Address is the contract address to watch
	Address string `json:"address"`

	// ABI holds the contract ABI fragments, in the order the requester supplies them
	ABI []string `json:"abi"`

	// Type is the logical subscription type, resolved through the registry
	Type string `json:"type"`

	// TriggerValue is the threshold a decoded field must reach
	TriggerValue json.Number `json:"triggerValue"`

	// Label is a human-readable name carried through to notifications
	Label string `json:"label"`
}

// Validate checks the typed invariants of a request.
func (r Request) Validate() error {
	if !common.IsHexAddress(r.Address) {
		return &ValidationError{Field: "address", Reason: fmt.Sprintf("%q is not a hex address", r.Address)}
	}
	if len(r.ABI) == 0 {
		return &ValidationError{Field: "abi", Reason: "must contain at least one fragment"}
	}
	for i, fragment := range r.ABI {
		if strings.TrimSpace(fragment) == "" {
			return &ValidationError{Field: "abi", Reason: fmt.Sprintf("fragment %d is empty", i)}
		}
	}
	if strings.TrimSpace(r.Type) == "" {
		return &ValidationError{Field: "type", Reason: "cannot be empty"}
	}
	if _, err := r.Threshold(); err != nil {
		return &ValidationError{Field: "triggerValue", Reason: err.Error()}
	}
	return nil
}

// Threshold returns the trigger value as an exact rational.
func (r Request) Threshold() (*big.Rat, error) {
	if r.TriggerValue == "" {
		return nil, fmt.Errorf("trigger value is missing")
	}
	v, ok := new(big.Rat).SetString(string(r.TriggerValue))
	if !ok {
		return nil, fmt.Errorf("%q is not a number", string(r.TriggerValue))
	}
	return v, nil
}

// NormalizedAddress returns the EIP-55 checksum form of the request address.
func (r Request) NormalizedAddress() string {
	return NormalizeAddress(r.Address)
}

// NormalizeAddress returns the EIP-55 checksum form of a hex address.
// Callers are expected to have checked the address with common.IsHexAddress.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// Ref returns the {address, type} pair reported by SubscribedEvents.
func (r Request) Ref() EventRef {
	return EventRef{Address: r.NormalizedAddress(), Type: r.Type}
}
