package subscription

import (
	"context"
	"errors"
	"math/big"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
)

// EventDescriptor names the raw on-chain event and the field of it that a
// logical subscription type is evaluated against.
type EventDescriptor struct {
	EventName  string `json:"eventName"`
	EventField string `json:"eventField"`
}

// Validate checks that both names are set.
func (d EventDescriptor) Validate() error {
	if d.EventName == "" {
		return errors.New("event name cannot be empty")
	}
	if d.EventField == "" {
		return errors.New("event field cannot be empty")
	}
	return nil
}

// Callback is invoked for every event that crosses a subscriber's threshold.
// Each invocation runs on its own goroutine.
type Callback func(ctx context.Context, match Match) error

// Match describes one subscriber whose threshold was crossed by an event.
type Match struct {
	Address      string
	Type         string
	Label        string
	EventField   string
	TriggerValue *big.Rat
	Event        chain.Event
}

// Value returns the decoded field the subscriber was evaluated against.
func (m Match) Value() any {
	v, _ := m.Event.Arg(m.EventField)
	return v
}

// Subscriber is one logical interest in a canonical key.
type Subscriber struct {
	Address      string
	Type         string
	TriggerValue *big.Rat
	Label        string
	EventField   string
	Callback     Callback
}

// Ref returns the {address, type} pair of the subscriber.
func (s Subscriber) Ref() EventRef {
	return EventRef{Address: s.Address, Type: s.Type}
}

// Triggered reports whether a decoded field value reaches the threshold.
// Values that have no numeric interpretation never trigger.
func (s Subscriber) Triggered(value any) bool {
	v, ok := NumericValue(value)
	if !ok || s.TriggerValue == nil {
		return false
	}
	return v.Cmp(s.TriggerValue) >= 0
}

// MatchFor builds the Match passed to the callback for event.
func (s Subscriber) MatchFor(event chain.Event) Match {
	return Match{
		Address:      s.Address,
		Type:         s.Type,
		Label:        s.Label,
		EventField:   s.EventField,
		TriggerValue: s.TriggerValue,
		Event:        event,
	}
}

// Matches reports whether the subscriber was created from an equivalent
// request. Callbacks are not compared.
func (s Subscriber) Matches(address, eventType, eventField string, trigger *big.Rat, label string) bool {
	if s.Address != address || s.Type != eventType || s.EventField != eventField || s.Label != label {
		return false
	}
	if s.TriggerValue == nil || trigger == nil {
		return s.TriggerValue == trigger
	}
	return s.TriggerValue.Cmp(trigger) == 0
}

// EventRef is the {address, type} pair reported for every live subscriber.
type EventRef struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}
