package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPlanNotFound         = errors.New("plan not found or inactive")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidState marks an operation that is not valid for the
	// subscription's current status. Never retried automatically.
	ErrInvalidState = errors.New("operation invalid for subscription state")

	// ErrDuplicateActiveSubscription is the loser's result of the atomic
	// one-non-terminal-subscription-per-user insert.
	ErrDuplicateActiveSubscription = errors.New("user already has a non-terminal subscription")

	// ErrConflict marks a lost optimistic concurrency race: the
	// subscription changed between read and write. Callers re-read and
	// decide; sweeps simply retry on the next tick.
	ErrConflict = errors.New("subscription modified concurrently")

	// ErrPaymentGateway covers transport failures and gateway-side
	// errors. Transient: eligible for caller-driven retry with backoff.
	ErrPaymentGateway = errors.New("payment gateway error")

	// ErrPaymentDeclined means the gateway was reached and refused the
	// charge. Terminal for the attempt; feeds the grace path on renewal.
	ErrPaymentDeclined = errors.New("payment declined")

	ErrInvalidBillingPeriod = errors.New("invalid billing period")
)

func invalidState(from, to Status) error {
	return fmt.Errorf("%w: no transition %s -> %s", ErrInvalidState, from, to)
}

func invalidStateOp(status Status, op string) error {
	return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidState, op, status)
}
