package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/qrcode"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Lifecycle is the slice of the subscription service the orchestrator
// drives when payments settle. subscription.Service satisfies it.
type Lifecycle interface {
	Activate(ctx context.Context, id uuid.UUID, paid money.Money, paidAt time.Time) (*subscription.Subscription, error)
	ProcessRenewal(ctx context.Context, id uuid.UUID, outcome subscription.RenewalOutcome) (*subscription.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, params subscription.CancelParams) (*subscription.Subscription, error)
	CheckGraceExpiry(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// SubscriptionSource lists subscriptions for the periodic sweeps.
// subscription.Store satisfies it.
type SubscriptionSource interface {
	ListRenewalsDue(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error)
	ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error)
}

// Catalog resolves pinned plan versions for renewal pricing.
// *plan.Catalog satisfies it.
type Catalog interface {
	Version(id string, version int) (plan.Plan, error)
}

// EmailDirectory resolves a user's billing email for charges initiated
// without one (plan changes, background renewals).
type EmailDirectory interface {
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

// WebhookDecoder verifies a webhook delivery against its signature and
// normalizes the payload. Gateway implementations double as decoders
// for their own webhook formats.
type WebhookDecoder interface {
	DecodeWebhook(signature string, payload []byte) (*WebhookEvent, error)
}

// WebhookEvent is a normalized gateway notification. Reference is
// empty for event kinds the decoder does not track; such events are
// logged and skipped.
type WebhookEvent struct {
	Event      string // provider event name, e.g. "charge.success"
	Reference  string
	Status     subscription.PaymentOutcome
	Amount     money.Money
	PaidAt     time.Time
	GatewayRef string
	Declined   string
}

// RenewalStats summarizes one RenewDue pass.
type RenewalStats struct {
	Due       int // subscriptions picked up by the pass
	Charged   int // renewal charges initialized
	Cancelled int // deferred cancellations finalized
	Skipped   int // open renewal charge already in flight
	Failed    int // per-subscription errors, logged and counted
}

// ReconcileStats summarizes one ReconcilePending pass.
type ReconcileStats struct {
	Checked   int
	Settled   int // verified final at the gateway and applied
	Abandoned int // pending past the abandon threshold, settled failed
	Skipped   int // still pending, below the threshold
	Failed    int
}

// GraceStats summarizes one SweepGrace pass.
type GraceStats struct {
	Checked int
	Expired int
	Failed  int
}

// Orchestrator owns the payment side of the billing engine: it turns
// charge requests into ledger entries plus gateway payments, and turns
// gateway results (webhooks, verification, reconciliation) back into
// lifecycle transitions.
//
// Application of a gateway result is at-most-once per reference: the
// ledger settlement (TransactionStore.Settle) is the gate, so webhook
// redeliveries and concurrent confirmation paths cannot double-apply.
type Orchestrator struct {
	gateway       Gateway
	transactions  TransactionStore
	subscriptions SubscriptionSource
	catalog       Catalog
	emails        EmailDirectory
	lifecycle     Lifecycle

	webhooks     WebhookDecoder
	log          *slog.Logger
	now          func() time.Time
	qrCodes      bool
	abandonAfter time.Duration
	applyRetries int

	initBreaker   *gobreaker.CircuitBreaker[*PaymentIntent]
	verifyBreaker *gobreaker.CircuitBreaker[*Verification]
}

// NewOrchestrator wires the payment orchestrator. The subscription
// lifecycle is attached afterwards with Bind, because the subscription
// service itself needs the orchestrator as its Charger.
func NewOrchestrator(gateway Gateway, transactions TransactionStore, subscriptions SubscriptionSource, catalog Catalog, emails EmailDirectory, opts ...OrchestratorOption) *Orchestrator {
	if gateway == nil {
		panic("payment: Gateway is required")
	}
	if transactions == nil {
		panic("payment: TransactionStore is required")
	}
	if subscriptions == nil {
		panic("payment: SubscriptionSource is required")
	}
	if catalog == nil {
		panic("payment: Catalog is required")
	}
	if emails == nil {
		panic("payment: EmailDirectory is required")
	}

	o := &Orchestrator{
		gateway:       gateway,
		transactions:  transactions,
		subscriptions: subscriptions,
		catalog:       catalog,
		emails:        emails,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		qrCodes:       true,
		abandonAfter:  24 * time.Hour,
		applyRetries:  3,
	}
	if decoder, ok := gateway.(WebhookDecoder); ok {
		o.webhooks = decoder
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.initBreaker == nil || o.verifyBreaker == nil {
		o.configureBreakers(DefaultBreakerConfig)
	}
	return o
}

// Bind attaches the subscription lifecycle. Must be called during
// wiring, before any webhook or sweep entry point runs.
func (o *Orchestrator) Bind(lifecycle Lifecycle) {
	if lifecycle == nil {
		panic("payment: Lifecycle is required")
	}
	o.lifecycle = lifecycle
}

// Charge implements subscription.Charger. It appends a pending ledger
// entry first and then initializes the gateway payment under the same
// reference, so every gateway payment is traceable to exactly one
// ledger row. Gateway failures settle the row failed; the caller may
// retry with a fresh charge.
func (o *Orchestrator) Charge(ctx context.Context, req subscription.ChargeRequest) (*subscription.ChargeResult, error) {
	email := req.Email
	if email == "" {
		resolved, err := o.emails.Email(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve billing email: %w", err)
		}
		email = resolved
	}

	now := o.now()
	tx := &Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount,
		Status:         TxPending,
		Type:           typeForReason(req.Reason),
		Reference:      newReference(),
		CreatedAt:      now,
	}
	if err := o.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"subscription_id": req.SubscriptionID.String(),
		"type":            string(tx.Type),
	}
	if req.PlanID != "" {
		metadata["plan_id"] = req.PlanID
		metadata["paddle_price_key"] = PaddlePriceKey(req.PlanID, req.PlanVersion, string(req.BillingPeriod))
	}

	intent, err := o.initialize(ctx, InitializeRequest{
		Reference: tx.Reference,
		Amount:    req.Amount,
		Customer:  Customer{UserID: req.UserID, Email: email},
		Metadata:  metadata,
	})
	if err != nil {
		if _, settleErr := o.transactions.Settle(ctx, tx.Reference, TxFailed, "", err.Error(), o.now()); settleErr != nil {
			o.log.ErrorContext(ctx, "settle failed charge",
				slog.String("reference", tx.Reference),
				slog.String("error", settleErr.Error()),
			)
		}
		return nil, err
	}

	result := &subscription.ChargeResult{
		Outcome:     subscription.OutcomePending,
		Reference:   tx.Reference,
		PaymentLink: intent.PaymentLink,
	}
	if o.qrCodes && intent.PaymentLink != "" {
		qr, err := qrcode.DataURI(intent.PaymentLink, 0)
		if err != nil {
			o.log.WarnContext(ctx, "render payment link QR",
				slog.String("reference", tx.Reference),
				slog.String("error", err.Error()),
			)
		} else {
			result.LinkQR = qr
		}
	}
	return result, nil
}

// Credit implements subscription.Charger. Credits are ledger entries
// only and never touch the gateway, so they settle immediately.
func (o *Orchestrator) Credit(ctx context.Context, req subscription.CreditRequest) (*subscription.ChargeResult, error) {
	now := o.now()
	tx := &Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount.Neg(),
		Status:         TxSuccessful,
		Type:           TxDowngrade,
		Reference:      newReference(),
		ProcessedAt:    &now,
		CreatedAt:      now,
	}
	if err := o.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	return &subscription.ChargeResult{
		Outcome:   subscription.OutcomeSuccessful,
		Reference: tx.Reference,
	}, nil
}

// ConfirmPayment verifies a payment at the gateway and settles its
// ledger entry. The at-most-once gate makes it safe to call from any
// number of paths concurrently; losers observe the already-settled
// entry and do nothing. A payment the gateway still reports pending is
// returned unsettled.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, reference string) (*Transaction, error) {
	verification, err := o.verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if verification.Status == subscription.OutcomePending {
		return o.transactions.GetByReference(ctx, reference)
	}
	return o.settleAndApply(ctx, reference, verification)
}

// HandleWebhook verifies, decodes, and applies one webhook delivery.
// Redeliveries return nil without side effects. ErrInvalidWebhook
// marks deliveries that must not be retried; ErrUnknownReference marks
// verified payloads that reference no ledger entry.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if o.webhooks == nil {
		return fmt.Errorf("%w: no webhook decoder configured", ErrInvalidWebhook)
	}
	event, err := o.webhooks.DecodeWebhook(signature, payload)
	if err != nil {
		return err
	}
	if event.Reference == "" {
		o.log.DebugContext(ctx, "webhook event skipped", slog.String("event", event.Event))
		return nil
	}
	if event.Status == subscription.OutcomePending {
		// Nothing final to record; reconciliation or a later webhook
		// settles it.
		return nil
	}

	verification := &Verification{
		Status:     event.Status,
		Amount:     event.Amount,
		PaidAt:     event.PaidAt,
		GatewayRef: event.GatewayRef,
		Declined:   event.Declined,
	}
	if _, err := o.settleAndApply(ctx, event.Reference, verification); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownReference, event.Reference)
		}
		return err
	}
	return nil
}

// RenewDue drives renewals for every subscription whose period has
// ended: deferred cancellations are finalized, everything else gets a
// renewal charge initialized against the gateway. Per-subscription
// failures are logged and counted, never aborting the batch.
func (o *Orchestrator) RenewDue(ctx context.Context, batch int) (RenewalStats, error) {
	var stats RenewalStats
	if err := o.requireLifecycle(); err != nil {
		return stats, err
	}

	now := o.now()
	due, err := o.subscriptions.ListRenewalsDue(ctx, now, batch)
	if err != nil {
		return stats, fmt.Errorf("list renewals due: %w", err)
	}
	stats.Due = len(due)

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch err := o.renewOne(ctx, sub, &stats); {
		case err == nil:
		case errors.Is(err, subscription.ErrConflict):
			// Lost a race against a user operation; the next pass
			// re-reads and retries.
			stats.Failed++
			o.log.InfoContext(ctx, "renewal skipped on conflict", slog.String("subscription_id", sub.ID.String()))
		default:
			stats.Failed++
			o.log.ErrorContext(ctx, "renewal failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return stats, nil
}

func (o *Orchestrator) renewOne(ctx context.Context, sub *subscription.Subscription, stats *RenewalStats) error {
	if sub.CancelAtPeriodEnd {
		_, err := o.lifecycle.Cancel(ctx, sub.ID, subscription.CancelParams{
			Immediate: true,
			Reason:    "period_end",
		})
		if err != nil && !errors.Is(err, subscription.ErrInvalidState) {
			return fmt.Errorf("finalize deferred cancel: %w", err)
		}
		stats.Cancelled++
		return nil
	}

	open, err := o.hasOpenRenewal(ctx, sub.ID)
	if err != nil {
		return err
	}
	if open {
		stats.Skipped++
		return nil
	}

	pinned, err := o.catalog.Version(sub.PlanID, sub.PlanVersion)
	if err != nil {
		return fmt.Errorf("resolve plan %s@%d: %w", sub.PlanID, sub.PlanVersion, err)
	}
	price, err := pinned.Price(sub.BillingPeriod)
	if err != nil {
		return err
	}
	if price.IsZero() {
		// Free plans renew without payment.
		_, err := o.lifecycle.ProcessRenewal(ctx, sub.ID, subscription.RenewalOutcome{
			Result: subscription.OutcomeSuccessful,
			Amount: price,
			PaidAt: o.now(),
		})
		if err != nil {
			return err
		}
		stats.Charged++
		return nil
	}

	if _, err := o.Charge(ctx, subscription.ChargeRequest{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Amount:         price,
		Reason:         subscription.ChargeRenewal,
		PlanID:         sub.PlanID,
		PlanVersion:    sub.PlanVersion,
		BillingPeriod:  sub.BillingPeriod,
	}); err != nil {
		return err
	}
	stats.Charged++
	return nil
}

// hasOpenRenewal reports whether the subscription already has a pending
// renewal charge awaiting payment, to avoid stacking duplicate links.
func (o *Orchestrator) hasOpenRenewal(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	recent, err := o.transactions.ListBySubscription(ctx, subscriptionID, 10)
	if err != nil {
		return false, err
	}
	for _, tx := range recent {
		if tx.Type == TxRenewal && tx.Status == TxPending {
			return true, nil
		}
	}
	return false, nil
}

// ReconcilePending settles pending ledger entries that the webhook
// stream missed. Entries still pending at the gateway past the abandon
// threshold are settled failed, which feeds the failed-renewal path for
// renewal charges.
func (o *Orchestrator) ReconcilePending(ctx context.Context, olderThan time.Duration, batch int) (ReconcileStats, error) {
	var stats ReconcileStats
	if err := o.requireLifecycle(); err != nil {
		return stats, err
	}

	now := o.now()
	pending, err := o.transactions.ListPendingOlderThan(ctx, now.Add(-olderThan), batch)
	if err != nil {
		return stats, fmt.Errorf("list pending transactions: %w", err)
	}
	stats.Checked = len(pending)

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := o.reconcileOne(ctx, tx, now, &stats); err != nil {
			stats.Failed++
			o.log.ErrorContext(ctx, "reconcile failed",
				slog.String("reference", tx.Reference),
				slog.String("error", err.Error()),
			)
		}
	}
	return stats, nil
}

func (o *Orchestrator) reconcileOne(ctx context.Context, tx *Transaction, now time.Time, stats *ReconcileStats) error {
	verification, err := o.verify(ctx, tx.Reference)
	if err != nil {
		return err
	}

	if verification.Status == subscription.OutcomePending {
		if now.Sub(tx.CreatedAt) < o.abandonAfter {
			stats.Skipped++
			return nil
		}
		// The customer never completed the checkout. Settling failed
		// turns an abandoned renewal link into a failed attempt.
		verification = &Verification{
			Status:   subscription.OutcomeFailed,
			Declined: "payment link abandoned",
		}
		if _, err := o.settleAndApply(ctx, tx.Reference, verification); err != nil {
			if errors.Is(err, ErrAlreadySettled) {
				return nil
			}
			return err
		}
		stats.Abandoned++
		return nil
	}

	if _, err := o.settleAndApply(ctx, tx.Reference, verification); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			return nil
		}
		return err
	}
	stats.Settled++
	return nil
}

// SweepGrace expires every grace subscription whose deadline has
// passed. Conflicts are left for the next pass.
func (o *Orchestrator) SweepGrace(ctx context.Context, batch int) (GraceStats, error) {
	var stats GraceStats
	if err := o.requireLifecycle(); err != nil {
		return stats, err
	}

	now := o.now()
	due, err := o.subscriptions.ListGraceExpired(ctx, now, batch)
	if err != nil {
		return stats, fmt.Errorf("list grace expired: %w", err)
	}
	stats.Checked = len(due)

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		updated, err := o.lifecycle.CheckGraceExpiry(ctx, sub.ID)
		if err != nil {
			stats.Failed++
			o.log.ErrorContext(ctx, "grace expiry failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if updated.Status == subscription.StatusExpired {
			stats.Expired++
		}
	}
	return stats, nil
}

// settleAndApply is the single settlement path shared by webhooks,
// explicit confirmation, and reconciliation. Exactly one caller per
// reference wins the settle; only the winner applies the lifecycle
// side effect.
func (o *Orchestrator) settleAndApply(ctx context.Context, reference string, v *Verification) (*Transaction, error) {
	status := TxFailed
	if v.Status == subscription.OutcomeSuccessful {
		status = TxSuccessful
	}
	processedAt := v.PaidAt
	if processedAt.IsZero() {
		processedAt = o.now()
	}

	settled, err := o.transactions.Settle(ctx, reference, status, v.GatewayRef, v.Declined, processedAt)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			existing, getErr := o.transactions.GetByReference(ctx, reference)
			if getErr != nil {
				return nil, getErr
			}
			return existing, nil
		}
		return nil, err
	}

	if err := o.apply(ctx, settled); err != nil {
		// The settlement already won; dropping the transition here
		// would orphan it, so surface the error loudly after retries.
		o.log.ErrorContext(ctx, "settled payment not applied",
			slog.String("reference", reference),
			slog.String("error", err.Error()),
		)
		return settled, err
	}
	return settled, nil
}

// apply routes a settled transaction into the lifecycle. Upgrade and
// downgrade adjustments settle in the ledger only: the plan change was
// already applied synchronously.
func (o *Orchestrator) apply(ctx context.Context, tx *Transaction) error {
	if err := o.requireLifecycle(); err != nil {
		return err
	}
	paidAt := o.now()
	if tx.ProcessedAt != nil {
		paidAt = *tx.ProcessedAt
	}

	switch tx.Type {
	case TxNewSubscription:
		if tx.Status != TxSuccessful {
			// A declined first charge keeps the subscription pending so
			// the customer can retry with a fresh charge.
			return nil
		}
		err := o.withApplyRetries(ctx, func() error {
			_, err := o.lifecycle.Activate(ctx, tx.SubscriptionID, tx.Amount, paidAt)
			return err
		})
		if errors.Is(err, subscription.ErrInvalidState) {
			o.log.InfoContext(ctx, "activation skipped, subscription no longer pending",
				slog.String("subscription_id", tx.SubscriptionID.String()),
			)
			return nil
		}
		return err

	case TxRenewal:
		err := o.withApplyRetries(ctx, func() error {
			_, err := o.lifecycle.ProcessRenewal(ctx, tx.SubscriptionID, subscription.RenewalOutcome{
				Result: tx.Outcome(),
				Amount: tx.Amount,
				PaidAt: paidAt,
			})
			return err
		})
		if errors.Is(err, subscription.ErrInvalidState) {
			o.log.InfoContext(ctx, "renewal result skipped, subscription no longer renewable",
				slog.String("subscription_id", tx.SubscriptionID.String()),
			)
			return nil
		}
		return err

	default:
		return nil
	}
}

// withApplyRetries retries lifecycle writes that lost a revision race.
// Each lifecycle call re-reads the subscription, so a short retry loop
// absorbs transient conflicts without an external queue.
func (o *Orchestrator) withApplyRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < o.applyRetries; attempt++ {
		if err = fn(); !errors.Is(err, subscription.ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func (o *Orchestrator) requireLifecycle() error {
	if o.lifecycle == nil {
		return errors.New("payment: lifecycle not bound, call Bind during wiring")
	}
	return nil
}

// initialize calls the gateway through the circuit breaker. An open
// breaker reports as a gateway error without touching the provider.
func (o *Orchestrator) initialize(ctx context.Context, req InitializeRequest) (*PaymentIntent, error) {
	intent, err := o.initBreaker.Execute(func() (*PaymentIntent, error) {
		return o.gateway.InitializePayment(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return intent, nil
}

func (o *Orchestrator) verify(ctx context.Context, reference string) (*Verification, error) {
	verification, err := o.verifyBreaker.Execute(func() (*Verification, error) {
		return o.gateway.VerifyPayment(ctx, reference)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return verification, nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", ErrPaymentGateway)
	}
	return err
}
