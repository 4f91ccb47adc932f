package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Kind names one of the billing notification types. The set is fixed:
// each kind corresponds to one subscription.Notifier method.
type Kind string

const (
	KindWelcome         Kind = "welcome"
	KindRenewalReminder Kind = "renewal_reminder"
	KindCancellation    Kind = "cancellation"
	KindPaymentFailed   Kind = "payment_failed"
	KindExpired         Kind = "expired"
)

// Event is the serialized form of a notice as published to downstream
// consumers (mailers, CRM syncs, dashboards).
type Event struct {
	Kind           Kind        `json:"kind"`
	UserID         uuid.UUID   `json:"user_id"`
	SubscriptionID uuid.UUID   `json:"subscription_id"`
	PlanID         string      `json:"plan_id"`
	PeriodEnd      time.Time   `json:"period_end"`
	Amount         money.Money `json:"amount"`
	Reason         string      `json:"reason,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func newEvent(kind Kind, n subscription.Notice, at time.Time) Event {
	return Event{
		Kind:           kind,
		UserID:         n.UserID,
		SubscriptionID: n.SubscriptionID,
		PlanID:         n.PlanID,
		PeriodEnd:      n.PeriodEnd,
		Amount:         n.Amount,
		Reason:         n.Reason,
		OccurredAt:     at,
	}
}

// RoutingKey returns the topic routing key for a notification kind,
// e.g. "billing.notification.welcome". Consumers bind queues with
// patterns like "billing.notification.*".
func RoutingKey(kind Kind) string {
	return "billing.notification." + string(kind)
}
