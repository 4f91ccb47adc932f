package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions. Implementations must provide two atomic
// primitives; everything else is plain indexed lookup:
//
//   - Create is an insert-if-no-non-terminal-subscription-exists. The
//     uniqueness check and the insert are one atomic operation at the
//     storage layer (a constrained insert), never a check-then-insert,
//     so concurrent creates for the same user resolve to exactly one
//     winner.
//   - Update is conditional on the Revision the caller read. Operations
//     on the same subscription linearize through this check across
//     process instances; an in-process lock would not be enough.
type Store interface {
	// Create inserts a new subscription if and only if the user holds
	// no subscription in a non-terminal status. Losers receive
	// ErrDuplicateActiveSubscription.
	Create(ctx context.Context, sub *Subscription) error

	// Get returns a subscription by id, ErrSubscriptionNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByUser returns the user's non-terminal subscription,
	// ErrSubscriptionNotFound if the user has none.
	GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// Update persists sub conditionally on the Revision it was read at
	// and increments Revision. A lost race writes nothing and returns
	// ErrConflict.
	Update(ctx context.Context, sub *Subscription) error

	// ListRenewalsDue returns at most limit subscriptions in active or
	// grace status whose current period has ended at asOf. Ordered by
	// period end ascending so the oldest debt is attempted first.
	ListRenewalsDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)

	// ListGraceExpired returns at most limit grace subscriptions whose
	// grace deadline has passed at asOf.
	ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)

	// ListRenewingSoon returns at most limit active subscriptions that
	// renew within [from, to) and are not flagged to cancel at period
	// end. Feeds renewal reminder notifications.
	ListRenewingSoon(ctx context.Context, from, to time.Time, limit int) ([]*Subscription, error)
}
