package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// SendParams represents one rendered email ready for delivery.
type SendParams struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

// Sender delivers rendered emails. Implemented by PostmarkSender for
// production and DevSender for local development.
type Sender interface {
	Send(ctx context.Context, params SendParams) error
}

// Recipients resolves a user's notification address. The application's
// account directory satisfies it.
type Recipients interface {
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

// EmailNotifier implements subscription.Notifier by rendering a
// minimal transactional email per notice and handing it to a Sender.
type EmailNotifier struct {
	sender     Sender
	recipients Recipients
	log        *slog.Logger
}

// NewEmailNotifier wires an email-backed notifier.
func NewEmailNotifier(sender Sender, recipients Recipients, log *slog.Logger) *EmailNotifier {
	if sender == nil {
		panic("notification: Sender is required")
	}
	if recipients == nil {
		panic("notification: Recipients is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &EmailNotifier{sender: sender, recipients: recipients, log: log}
}

func (e *EmailNotifier) SendWelcome(ctx context.Context, n subscription.Notice) error {
	return e.send(ctx, KindWelcome, n)
}

func (e *EmailNotifier) SendRenewalReminder(ctx context.Context, n subscription.Notice) error {
	return e.send(ctx, KindRenewalReminder, n)
}

func (e *EmailNotifier) SendCancellation(ctx context.Context, n subscription.Notice) error {
	return e.send(ctx, KindCancellation, n)
}

func (e *EmailNotifier) SendPaymentFailed(ctx context.Context, n subscription.Notice) error {
	return e.send(ctx, KindPaymentFailed, n)
}

func (e *EmailNotifier) SendExpired(ctx context.Context, n subscription.Notice) error {
	return e.send(ctx, KindExpired, n)
}

func (e *EmailNotifier) send(ctx context.Context, kind Kind, n subscription.Notice) error {
	to, err := e.recipients.Email(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	body, err := renderNotice(ctx, kind, n)
	if err != nil {
		return fmt.Errorf("render %s notice: %w", kind, err)
	}

	return e.sender.Send(ctx, SendParams{
		SendTo:   to,
		Subject:  subjectFor(kind, n),
		BodyHTML: body,
		Tag:      string(kind),
	})
}

func subjectFor(kind Kind, n subscription.Notice) string {
	switch kind {
	case KindWelcome:
		return "Your subscription is active"
	case KindRenewalReminder:
		return "Your subscription renews on " + n.PeriodEnd.Format("Jan 2, 2006")
	case KindCancellation:
		return "Your subscription has been cancelled"
	case KindPaymentFailed:
		return "Payment failed: action required"
	case KindExpired:
		return "Your subscription has expired"
	default:
		return "Subscription update"
	}
}
