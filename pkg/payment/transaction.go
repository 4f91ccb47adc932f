package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// TransactionStatus is the settlement state of a ledger entry.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxSuccessful TransactionStatus = "successful"
	TxFailed     TransactionStatus = "failed"
)

// Final reports whether the status accepts no further settlement.
func (s TransactionStatus) Final() bool {
	return s == TxSuccessful || s == TxFailed
}

// TransactionType labels why money moved.
type TransactionType string

const (
	TxNewSubscription TransactionType = "new_subscription"
	TxUpgrade         TransactionType = "upgrade"
	TxDowngrade       TransactionType = "downgrade"
	TxRenewal         TransactionType = "subscription_renewal"
)

// typeForReason maps the state machine's charge reasons onto ledger
// transaction types.
func typeForReason(r subscription.ChargeReason) TransactionType {
	switch r {
	case subscription.ChargeUpgrade:
		return TxUpgrade
	case subscription.ChargeRenewal:
		return TxRenewal
	default:
		return TxNewSubscription
	}
}

// Transaction is one row of the append-only payment ledger. Every
// gateway charge and every customer credit gets exactly one entry; the
// only permitted mutation is the atomic pending-to-final settlement
// performed by TransactionStore.Settle.
//
// Amount is signed: negative amounts are customer credits (downgrades)
// that never touch the gateway.
type Transaction struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	Amount         money.Money
	Status         TransactionStatus
	Type           TransactionType
	Reference      string // unique, generated by the orchestrator
	GatewayRef     string // the gateway's own identifier, set at settlement
	Error          string // failure detail when Status is failed
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// Settled reports whether the transaction reached a final status.
func (t *Transaction) Settled() bool {
	return t.Status.Final()
}

// Outcome converts the settlement status into the normalized payment
// outcome the state machine consumes.
func (t *Transaction) Outcome() subscription.PaymentOutcome {
	switch t.Status {
	case TxSuccessful:
		return subscription.OutcomeSuccessful
	case TxFailed:
		return subscription.OutcomeFailed
	default:
		return subscription.OutcomePending
	}
}

// newReference builds a globally unique, human-scannable transaction
// reference. The tx_ prefix keeps gateway dashboards searchable.
func newReference() string {
	return "tx_" + uuid.NewString()
}
