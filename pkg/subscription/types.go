package subscription

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusPending   Status = "pending"   // created, awaiting first payment confirmation
	StatusActive    Status = "active"    // paid and current
	StatusGrace     Status = "grace"     // renewal failed, inside the dunning window
	StatusCancelled Status = "cancelled" // terminal
	StatusExpired   Status = "expired"   // terminal, grace window ran out
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusGrace, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// IsActive reports whether the status grants access to paid features.
// Grace counts as active: the customer keeps access while the dunning
// window runs.
func (s Status) IsActive() bool {
	return s == StatusActive || s == StatusGrace
}

// NonTerminalStatuses returns the statuses subject to the one
// subscription per user uniqueness invariant.
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusActive, StatusGrace}
}

// PaymentOutcome is the normalized result of a gateway charge attempt.
// Anything besides OutcomeSuccessful is treated as non-payment.
type PaymentOutcome string

const (
	OutcomeSuccessful PaymentOutcome = "successful"
	OutcomeFailed     PaymentOutcome = "failed"
	OutcomePending    PaymentOutcome = "pending"
)

// ChargeReason tells the payment layer why a charge is being made so it
// can label the ledger entry.
type ChargeReason string

const (
	ChargeNewSubscription ChargeReason = "new_subscription"
	ChargeUpgrade         ChargeReason = "upgrade"
	ChargeRenewal         ChargeReason = "subscription_renewal"
)
