package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
)

// Notice carries the identifiers an external notification template
// needs. The engine never renders content itself.
type Notice struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	PlanID         string
	PeriodEnd      time.Time
	Amount         money.Money
	Reason         string
}

// Notifier is the external notification dispatcher. Calls are
// fire-and-forget from the engine's point of view: a dispatch error is
// logged and never rolls back the state transition that triggered it.
type Notifier interface {
	SendWelcome(ctx context.Context, n Notice) error
	SendRenewalReminder(ctx context.Context, n Notice) error
	SendCancellation(ctx context.Context, n Notice) error
	SendPaymentFailed(ctx context.Context, n Notice) error
	SendExpired(ctx context.Context, n Notice) error
}
