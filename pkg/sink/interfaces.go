package sink

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// Notification is the payload forwarded for one matched subscriber.
type Notification struct {
	Address      string         `json:"address"`
	Type         string         `json:"type"`
	Label        string         `json:"label"`
	TriggerValue string         `json:"triggerValue"`
	EventName    string         `json:"eventName"`
	EventField   string         `json:"eventField"`
	Args         map[string]any `json:"args"`
	BlockNumber  uint64         `json:"blockNumber"`
	TxHash       string         `json:"txHash"`
	LogIndex     uint           `json:"logIndex"`
	Removed      bool           `json:"removed,omitempty"`
	ObservedAt   time.Time      `json:"observedAt"`
}

// NewNotification builds the notification for a crossed threshold.
func NewNotification(m subscription.Match) Notification {
	trigger := ""
	if m.TriggerValue != nil {
		trigger = m.TriggerValue.RatString()
	}
	return Notification{
		Address:      m.Address,
		Type:         m.Type,
		Label:        m.Label,
		TriggerValue: trigger,
		EventName:    m.Event.EventName,
		EventField:   m.EventField,
		Args:         m.Event.Args,
		BlockNumber:  m.Event.BlockNumber,
		TxHash:       m.Event.TxHash,
		LogIndex:     m.Event.LogIndex,
		Removed:      m.Event.Removed,
		ObservedAt:   time.Now().UTC(),
	}
}

// Sink receives matched-event notifications.
type Sink interface {
	io.Closer

	// Send delivers one notification.
	Send(ctx context.Context, n Notification) error
}
