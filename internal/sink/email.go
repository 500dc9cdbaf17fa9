package sink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/sink"
)

var (
	// ErrNoSender is returned when an email sink has no From address
	ErrNoSender = errors.New("email sink needs a sender")
	// ErrNoRecipients is returned when an email sink has no recipients
	ErrNoRecipients = errors.New("email sink needs at least one recipient")
	// ErrNilMailer is returned when an email sink has no mailer
	ErrNilMailer = errors.New("mailer cannot be nil")
)

const defaultSMTPTimeout = 15 * time.Second

// Mailer delivers composed messages. *mail.Client satisfies it.
type Mailer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig locates the relay an EmailSink sends through.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// RequireTLS refuses to send over a connection without STARTTLS
	RequireTLS bool
}

// NewSMTPMailer builds a go-mail client for cfg. Authentication is only
// configured when a username is set.
func NewSMTPMailer(cfg SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(defaultSMTPTimeout),
	}
	if cfg.RequireTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client for %s: %w", cfg.Host, err)
	}
	return client, nil
}

// EmailSink mails one plain-text message per notification.
type EmailSink struct {
	mailer Mailer
	from   string
	to     []string

	mu     sync.RWMutex
	closed bool
}

// NewEmailSink creates a sink sending from from to every address in to.
func NewEmailSink(mailer Mailer, from string, to []string) (*EmailSink, error) {
	if mailer == nil {
		return nil, ErrNilMailer
	}
	if strings.TrimSpace(from) == "" {
		return nil, ErrNoSender
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	return &EmailSink{mailer: mailer, from: from, to: slices.Clone(to)}, nil
}

// Send composes and delivers the notification. Delivery is synchronous; the
// caller's context bounds the SMTP exchange.
func (s *EmailSink) Send(ctx context.Context, n sink.Notification) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := s.compose(n)
	if err != nil {
		return err
	}
	if err := s.mailer.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	return nil
}

// Close stops further sends. The mailer dials per send, so nothing is held.
func (s *EmailSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *EmailSink) compose(n sink.Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.from, err)
	}
	if err := msg.To(s.to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(Subject(n))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, Body(n))
	return msg, nil
}

// Subject is the one-line summary used as the email subject.
func Subject(n sink.Notification) string {
	label := n.Label
	if label == "" {
		label = n.Type
	}
	return fmt.Sprintf("[eth-engine] %s: %s reached %s", label, n.EventField, n.TriggerValue)
}

// Body renders a notification as plain text, event arguments sorted by name.
func Body(n sink.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Label: %s\n", n.Label)
	fmt.Fprintf(&b, "Type: %s\n", n.Type)
	fmt.Fprintf(&b, "Contract: %s\n", n.Address)
	fmt.Fprintf(&b, "Event: %s\n", n.EventName)
	fmt.Fprintf(&b, "Field: %s\n", n.EventField)
	fmt.Fprintf(&b, "Trigger: %s\n", n.TriggerValue)
	fmt.Fprintf(&b, "Block: %d\n", n.BlockNumber)
	fmt.Fprintf(&b, "Transaction: %s\n", n.TxHash)
	fmt.Fprintf(&b, "Log index: %d\n", n.LogIndex)
	if n.Removed {
		b.WriteString("Removed by reorg: true\n")
	}

	names := make([]string, 0, len(n.Args))
	for name := range n.Args {
		names = append(names, name)
	}
	slices.Sort(names)
	b.WriteString("\nArguments:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %v\n", name, n.Args[name])
	}
	return b.String()
}

var _ sink.Sink = (*EmailSink)(nil)
