// Package subscription manages the full lifecycle of user subscriptions:
// creation, activation, plan changes with proration, cancellation,
// renewal billing, and grace-period dunning.
//
// The package is built around an explicit state machine. A subscription
// starts in pending, becomes active when the first payment is confirmed,
// drops into grace when a renewal fails, and ends in one of two terminal
// states: cancelled (user intent) or expired (dunning ran out). Terminal
// subscriptions reject every further operation; the records are kept for
// audit and never deleted.
//
// # Architecture
//
// The Service interface is the only entry point for lifecycle mutations.
// It depends on small consumer-defined interfaces so the package stays
// decoupled from any concrete user system, payment gateway, or mailer:
//
//   - Store: persists subscriptions (memory, MongoDB, PostgreSQL included)
//   - Catalog: resolves plan definitions and pinned plan versions
//   - Charger: executes charges and records downgrade credits
//   - Notifier: fire-and-forget lifecycle notifications
//   - UserDirectory: answers "does this user exist"
//
// Every state transition is validated against a fixed transition table
// (see CanTransition) before any write. Writes are guarded by an
// optimistic revision check: each Update is conditional on the revision
// the caller read, so two concurrent operations on the same subscription
// cannot silently overwrite each other. The loser receives ErrConflict
// and is expected to re-read and retry.
//
// # Uniqueness
//
// A user holds at most one subscription in a non-terminal status
// (pending, active, or grace). The invariant is enforced by the store
// in a single atomic insert, never by a check-then-insert sequence:
// MongoStore uses a partial unique index, PgStore a partial unique
// constraint, and MemoryStore a scan under one mutex. Concurrent Create
// calls for the same user therefore produce exactly one winner; the
// rest fail with ErrDuplicateActiveSubscription.
//
// # Quick Start
//
//	import "github.com/dmitrymomot/billingkit/pkg/subscription"
//
//	svc := subscription.NewService(users, catalog, store, charger, notifier,
//		subscription.WithGracePolicy(subscription.GracePolicy{
//			Window:            72 * time.Hour,
//			MaxFailedAttempts: 3,
//		}),
//	)
//
//	result, err := svc.Create(ctx, subscription.CreateParams{
//		UserID:        userID,
//		Email:         "user@example.com",
//		PlanID:        "pro",
//		BillingPeriod: plan.PeriodMonthly,
//	})
//	switch {
//	case errors.Is(err, subscription.ErrDuplicateActiveSubscription):
//		// user already has a live subscription
//	case errors.Is(err, subscription.ErrPaymentDeclined):
//		// gateway rejected the charge, nothing was activated
//	case err != nil:
//		// gateway or store failure, subscription stays pending
//	}
//	if result.PaymentLink != "" {
//		// redirect the user to complete payment
//	}
//
// Free plans skip the gateway entirely and activate immediately.
//
// # Plan Changes
//
// ChangePlan applies an upgrade or downgrade mid-period with prorated
// settlement. The charge delta is computed by pkg/proration from the
// time remaining in the current period:
//
//	change, err := svc.ChangePlan(ctx, subID, "business")
//	// change.Quote.Amount > 0: upgrade, user was charged the difference
//	// change.Quote.Amount < 0: downgrade, credit recorded on the ledger
//
// Upgrades that fail at the gateway leave the subscription untouched on
// its old plan. The billing anchor never moves: the period keeps its
// original start and end regardless of how many plan changes happen
// inside it.
//
// # Renewal and Dunning
//
// ProcessRenewal is driven by a background sweep (see svc/billing) when
// a period ends. Success rolls the period forward from the old end, so
// late processing cannot drift the anchor. Failure moves the
// subscription into grace and starts the dunning window; repeated
// failures inside grace never extend the deadline. When GracePolicy
// limits attempts, exhausting them clamps the deadline so the next
// expiry sweep retires the subscription.
//
// CheckGraceExpiry is the only path into StatusExpired. Payment success
// while in grace restores the subscription to active with a fresh
// period and a reset failure counter.
//
// # Error Handling
//
// All failures are sentinel errors, matched with errors.Is:
//
//	switch {
//	case errors.Is(err, subscription.ErrSubscriptionNotFound):
//	case errors.Is(err, subscription.ErrInvalidState):
//		// operation not legal in the current status
//	case errors.Is(err, subscription.ErrPaymentDeclined):
//		// hard decline, caller may prompt for another payment method
//	case errors.Is(err, subscription.ErrPaymentGateway):
//		// transient gateway failure, safe to retry
//	case errors.Is(err, subscription.ErrConflict):
//		// concurrent modification, re-read and retry
//	}
//
// ErrInvalidState errors carry the offending transition in their
// message ("no transition cancelled -> active") while still matching
// the sentinel.
//
// # Storage
//
// Three Store implementations ship with the package. MemoryStore backs
// tests and local development. MongoStore and PgStore are production
// stores; both require their uniqueness index to exist before first
// use:
//
//	store := subscription.NewMongoStore(db)
//	if err := store.EnsureIndexes(ctx); err != nil {
//		return err
//	}
//
// PgStore relies on the schema created by the goose migrations shipped
// in migrations/.
package subscription
