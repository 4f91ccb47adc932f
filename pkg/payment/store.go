package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionStore persists the payment ledger.
//
// Settle is the concurrency primitive of the package: it flips a
// transaction from pending to a final status in one atomic conditional
// write. Whichever of webhook delivery, explicit confirmation, or
// reconciliation reaches it first wins; all later attempts observe
// ErrAlreadySettled and skip their side effects. That single gate is
// what makes payment application at-most-once per reference.
type TransactionStore interface {
	// Create appends a new ledger entry. References are unique;
	// a duplicate insert returns ErrDuplicateReference.
	Create(ctx context.Context, tx *Transaction) error

	// GetByReference returns the entry for a gateway reference,
	// ErrTransactionNotFound if absent.
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	// Settle atomically moves a pending transaction to the given final
	// status and returns the settled entry. Returns ErrAlreadySettled
	// if the transaction is already final, ErrTransactionNotFound if
	// the reference is unknown.
	Settle(ctx context.Context, reference string, status TransactionStatus, gatewayRef, errMsg string, processedAt time.Time) (*Transaction, error)

	// ListBySubscription returns the subscription's ledger entries,
	// newest first, at most limit.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Transaction, error)

	// ListPendingOlderThan returns pending transactions created at or
	// before the cutoff, oldest first, at most limit. Feeds gateway
	// reconciliation.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}
