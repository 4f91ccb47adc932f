package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// Subscription is one user's paid plan and its lifecycle state.
// At most one subscription per user may be in a non-terminal status;
// terminal records are retained for audit and never deleted.
//
// Revision is the optimistic concurrency token: every store update is
// conditional on the revision it read, so concurrent operations on the
// same subscription linearize instead of overwriting each other.
type Subscription struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	PlanID                string
	PlanVersion           int
	BillingPeriod         plan.BillingPeriod
	Status                Status
	IsActive              bool // derived from Status, persisted for cheap indexed queries
	CurrentPeriodStart    time.Time
	CurrentPeriodEnd      time.Time // exclusive
	CancelAtPeriodEnd     bool
	CancelledAt           *time.Time
	LastPaymentAt         *time.Time
	LastPaymentAmount     money.Money
	FailedPaymentAttempts int
	GracePeriodEnd        *time.Time
	ExpiredAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Revision              int64
}

// Terminal reports whether the subscription accepts further operations.
func (s *Subscription) Terminal() bool {
	return s.Status.Terminal()
}

// PeriodContains reports whether t falls inside the current billing
// period. The end bound is exclusive.
func (s *Subscription) PeriodContains(t time.Time) bool {
	return !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}

// RenewalDue reports whether the current period has ended at t.
func (s *Subscription) RenewalDue(t time.Time) bool {
	return !t.Before(s.CurrentPeriodEnd)
}

// GraceExpired reports whether the dunning deadline has passed at t.
func (s *Subscription) GraceExpired(t time.Time) bool {
	return s.Status == StatusGrace && s.GracePeriodEnd != nil && !t.Before(*s.GracePeriodEnd)
}

// setStatus applies a status and keeps the IsActive cache in sync.
func (s *Subscription) setStatus(status Status) {
	s.Status = status
	s.IsActive = status.IsActive()
}
