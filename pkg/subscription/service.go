package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/proration"
)

// Service owns the subscription lifecycle: creation, plan changes,
// cancellation, renewals, and failure-driven expiry.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*CreateResult, error)
	Activate(ctx context.Context, id uuid.UUID, paid money.Money, paidAt time.Time) (*Subscription, error)
	ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string) (*PlanChange, error)
	Cancel(ctx context.Context, id uuid.UUID, params CancelParams) (*Subscription, error)
	ProcessRenewal(ctx context.Context, id uuid.UUID, outcome RenewalOutcome) (*Subscription, error)
	CheckGraceExpiry(ctx context.Context, id uuid.UUID) (*Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
}

// UserDirectory answers whether a user account exists. It is the
// boundary to the application's account system.
type UserDirectory interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Catalog resolves plan versions. *plan.Catalog satisfies it.
type Catalog interface {
	Get(id string) (plan.Plan, error)
	Version(id string, version int) (plan.Plan, error)
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	UserID        uuid.UUID
	PlanID        string
	BillingPeriod plan.BillingPeriod
	Email         string // billing email passed through to the gateway
}

// CreateResult is the outcome of Create. For link-based gateways the
// subscription stays pending and PaymentLink carries the checkout URL
// the customer must complete.
type CreateResult struct {
	Subscription *Subscription
	Reference    string
	PaymentLink  string
	LinkQR       string
}

// CancelParams select between deferred and immediate cancellation.
type CancelParams struct {
	// Immediate transitions to cancelled right away. When false the
	// subscription keeps running and only the cancel-at-period-end flag
	// is set; the renewal sweep finalizes the cancellation when the
	// period ends.
	Immediate bool
	Reason    string
}

// RenewalOutcome is the normalized result of a renewal charge attempt,
// fed in by the payment orchestrator.
type RenewalOutcome struct {
	Result PaymentOutcome
	Amount money.Money
	PaidAt time.Time
}

// PlanChange is the outcome of ChangePlan. Reference is set when the
// proration produced a ledger transaction (charge or credit).
type PlanChange struct {
	Subscription *Subscription
	Quote        proration.Quote
	Reference    string
}

type service struct {
	users    UserDirectory
	catalog  Catalog
	store    Store
	charger  Charger
	notifier Notifier
	grace    GracePolicy
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates the lifecycle service with its collaborators.
// Panics if any required dependency is nil to fail fast during
// initialization. Use Option functions for policy, clock, and logging.
func NewService(users UserDirectory, catalog Catalog, store Store, charger Charger, notifier Notifier, opts ...Option) Service {
	if users == nil {
		panic("subscription: UserDirectory is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if store == nil {
		panic("subscription: Store is required")
	}
	if charger == nil {
		panic("subscription: Charger is required")
	}
	if notifier == nil {
		panic("subscription: Notifier is required")
	}

	s := &service{
		users:    users,
		catalog:  catalog,
		store:    store,
		charger:  charger,
		notifier: notifier,
		grace:    DefaultGracePolicy,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create provisions a subscription for the user on the plan's current
// active version and initiates the first charge.
//
// The subscription is inserted in pending status first; the one
// non-terminal subscription per user invariant is enforced by the
// store's atomic constrained insert, not by a prior existence check.
// A synchronously successful (or free) first charge activates the
// subscription before returning; otherwise it stays pending and the
// result carries the checkout link. Charge failures leave the pending
// record in place so the payment can be repaired without re-creating.
func (s *service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if !params.BillingPeriod.Valid() {
		return nil, errors.Join(ErrInvalidBillingPeriod, plan.ErrInvalidBillingPeriod)
	}

	exists, err := s.users.Exists(ctx, params.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	p, err := s.catalog.Get(params.PlanID)
	if err != nil {
		return nil, errors.Join(ErrPlanNotFound, err)
	}
	price, err := p.Price(params.BillingPeriod)
	if err != nil {
		return nil, errors.Join(ErrInvalidBillingPeriod, err)
	}

	now := s.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             params.UserID,
		PlanID:             p.ID,
		PlanVersion:        p.Version,
		BillingPeriod:      params.BillingPeriod,
		Status:             StatusPending,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   params.BillingPeriod.Add(now),
		CreatedAt:          now,
		UpdatedAt:          now,
		Revision:           1,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	// Free plans bypass payment and activate immediately.
	if price.IsZero() {
		if err := s.activate(ctx, sub, price, now); err != nil {
			return nil, err
		}
		return &CreateResult{Subscription: sub}, nil
	}

	charge, err := s.charger.Charge(ctx, ChargeRequest{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Email:          params.Email,
		Amount:         price,
		Reason:         ChargeNewSubscription,
		PlanID:         sub.PlanID,
		PlanVersion:    sub.PlanVersion,
		BillingPeriod:  sub.BillingPeriod,
	})
	if err != nil {
		// The pending record stays; the caller re-queries and retries
		// the payment, not the creation.
		return nil, err
	}

	result := &CreateResult{
		Subscription: sub,
		Reference:    charge.Reference,
		PaymentLink:  charge.PaymentLink,
		LinkQR:       charge.LinkQR,
	}
	switch charge.Outcome {
	case OutcomeSuccessful:
		if err := s.activate(ctx, sub, price, now); err != nil {
			return nil, err
		}
		return result, nil
	case OutcomePending:
		return result, nil
	default:
		return nil, ErrPaymentDeclined
	}
}

// Activate confirms the first payment of a pending subscription and
// transitions it to active. Invoked by the payment orchestrator when a
// new-subscription charge settles successfully.
func (s *service) Activate(ctx context.Context, id uuid.UUID, paid money.Money, paidAt time.Time) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusPending {
		return nil, invalidState(sub.Status, StatusActive)
	}
	if err := s.activate(ctx, sub, paid, paidAt); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) activate(ctx context.Context, sub *Subscription, paid money.Money, paidAt time.Time) error {
	sub.setStatus(StatusActive)
	if !paid.IsZero() {
		sub.LastPaymentAt = &paidAt
		sub.LastPaymentAmount = paid
	}
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	s.notify(ctx, "welcome", s.notifier.SendWelcome, Notice{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Amount:         paid,
	})
	return nil
}

// ChangePlan moves a non-terminal subscription to the target plan's
// current active version, prorating against the remaining period.
//
// A positive adjustment is charged through the payment layer before the
// plan is applied; a declined charge aborts the change with nothing
// mutated. A negative adjustment is recorded as a customer credit in
// the ledger. The billing clock is never reset: the current period
// start and end stay as they are, and the next renewal charges the new
// plan's full price.
func (s *service) ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string) (*PlanChange, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Terminal() {
		return nil, invalidStateOp(sub.Status, "change plan")
	}

	oldPlan, err := s.catalog.Version(sub.PlanID, sub.PlanVersion)
	if err != nil {
		return nil, errors.Join(ErrPlanNotFound, err)
	}
	newPlan, err := s.catalog.Get(newPlanID)
	if err != nil {
		return nil, errors.Join(ErrPlanNotFound, err)
	}

	oldPrice, err := oldPlan.Price(sub.BillingPeriod)
	if err != nil {
		return nil, errors.Join(ErrInvalidBillingPeriod, err)
	}
	newPrice, err := newPlan.Price(sub.BillingPeriod)
	if err != nil {
		return nil, errors.Join(ErrInvalidBillingPeriod, err)
	}

	quote, err := proration.Calculate(oldPrice, newPrice, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, s.now())
	if err != nil {
		return nil, err
	}

	var reference string
	switch {
	case quote.Amount.IsPositive():
		charge, err := s.charger.Charge(ctx, ChargeRequest{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Amount:         quote.Amount,
			Reason:         ChargeUpgrade,
			PlanID:         newPlan.ID,
			PlanVersion:    newPlan.Version,
			BillingPeriod:  sub.BillingPeriod,
		})
		if err != nil {
			return nil, err
		}
		if charge.Outcome == OutcomeFailed {
			return nil, ErrPaymentDeclined
		}
		reference = charge.Reference
	case quote.Amount.IsNegative():
		credit, err := s.charger.Credit(ctx, CreditRequest{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Amount:         quote.Amount.Abs(),
		})
		if err != nil {
			return nil, err
		}
		reference = credit.Reference
	}

	sub.PlanID = newPlan.ID
	sub.PlanVersion = newPlan.Version
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	return &PlanChange{Subscription: sub, Quote: quote, Reference: reference}, nil
}

// Cancel ends a subscription.
//
// Deferred cancellation (Immediate false) only flags the subscription
// to cancel when the paid period runs out; status and access stay
// untouched until the renewal sweep finalizes it. It requires active
// status and fails with ErrInvalidState when the flag is already set.
//
// Immediate cancellation transitions any non-terminal subscription to
// cancelled right away, regardless of the deferred flag. No partial
// refund is computed.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, params CancelParams) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Terminal() {
		return nil, invalidStateOp(sub.Status, "cancel")
	}

	now := s.now()
	if !params.Immediate {
		if sub.Status != StatusActive {
			return nil, invalidStateOp(sub.Status, "deferred cancel")
		}
		if sub.CancelAtPeriodEnd {
			return nil, invalidStateOp(sub.Status, "deferred cancel already requested")
		}
		sub.CancelAtPeriodEnd = true
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, err
		}
	} else {
		if !CanTransition(sub.Status, StatusCancelled) {
			return nil, invalidState(sub.Status, StatusCancelled)
		}
		sub.setStatus(StatusCancelled)
		sub.CancelledAt = &now
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, err
		}
	}

	s.notify(ctx, "cancellation", s.notifier.SendCancellation, Notice{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Reason:         params.Reason,
	})
	return sub, nil
}

// ProcessRenewal applies the outcome of a renewal charge attempt.
//
// Success rolls the billing period forward one period from its old end,
// records the payment, resets the failure counter, and recovers grace
// subscriptions to active. Failure increments the failure counter and
// moves an active subscription into grace with a deadline set by the
// grace policy; repeated failures keep the subscription in grace
// without extending the deadline. A pending outcome changes nothing:
// reconciliation settles it later without burning an attempt.
func (s *service) ProcessRenewal(ctx context.Context, id uuid.UUID, outcome RenewalOutcome) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Terminal() || sub.Status == StatusPending {
		return nil, invalidStateOp(sub.Status, "process renewal")
	}

	now := s.now()
	switch outcome.Result {
	case OutcomePending:
		return sub, nil

	case OutcomeSuccessful:
		paidAt := outcome.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = sub.BillingPeriod.Add(sub.CurrentPeriodEnd)
		sub.LastPaymentAt = &paidAt
		sub.LastPaymentAmount = outcome.Amount
		sub.FailedPaymentAttempts = 0
		sub.GracePeriodEnd = nil
		sub.setStatus(StatusActive)
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, err
		}
		s.notify(ctx, "renewal", s.notifier.SendRenewalReminder, Notice{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			PeriodEnd:      sub.CurrentPeriodEnd,
			Amount:         outcome.Amount,
		})
		return sub, nil

	default:
		sub.FailedPaymentAttempts++
		if sub.Status == StatusActive {
			deadline := s.grace.Deadline(now)
			sub.GracePeriodEnd = &deadline
			sub.setStatus(StatusGrace)
		}
		if s.grace.Exhausted(sub.FailedPaymentAttempts) {
			// Clamp the deadline so the next sweep expires the
			// subscription; expiry itself stays in CheckGraceExpiry.
			clamped := now
			sub.GracePeriodEnd = &clamped
		}
		sub.UpdatedAt = now
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, err
		}
		s.notify(ctx, "payment_failed", s.notifier.SendPaymentFailed, Notice{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			PeriodEnd:      sub.CurrentPeriodEnd,
			Amount:         outcome.Amount,
			Reason:         "renewal payment failed",
		})
		return sub, nil
	}
}

// CheckGraceExpiry expires a grace subscription whose deadline has
// passed. This sweep operation is the only path into expired status; a
// subscription that is not in grace, or whose deadline is still ahead,
// is returned unchanged.
func (s *service) CheckGraceExpiry(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !sub.GraceExpired(now) {
		return sub, nil
	}

	sub.setStatus(StatusExpired)
	sub.ExpiredAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.notify(ctx, "expired", s.notifier.SendExpired, Notice{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Reason:         "grace period ended",
	})
	return sub, nil
}

// Get returns a subscription by id.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// GetByUser returns the user's current non-terminal subscription.
func (s *service) GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.GetByUser(ctx, userID)
}

// notify dispatches a notification and logs failures. Dispatch is
// fire-and-forget: a failed emission never rolls back the transition
// that triggered it.
func (s *service) notify(ctx context.Context, kind string, send func(context.Context, Notice) error, n Notice) {
	if err := send(ctx, n); err != nil {
		s.log.WarnContext(ctx, "notification dispatch failed",
			slog.String("kind", kind),
			slog.String("subscription_id", n.SubscriptionID.String()),
			slog.String("error", err.Error()),
		)
	}
}
