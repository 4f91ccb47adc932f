package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTransactionStore implements TransactionStore with a
// mutex-guarded map keyed by reference. Settle runs entirely under the
// lock, so the pending-to-final flip is atomic within one process.
// Intended for tests and development.
type MemoryTransactionStore struct {
	mu  sync.Mutex
	txs map[string]*Transaction
}

// NewMemoryTransactionStore creates an empty in-memory ledger.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]*Transaction)}
}

func (s *MemoryTransactionStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.Reference]; exists {
		return ErrDuplicateReference
	}
	s.txs[tx.Reference] = cloneTransaction(tx)
	return nil
}

func (s *MemoryTransactionStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *MemoryTransactionStore) Settle(_ context.Context, reference string, status TransactionStatus, gatewayRef, errMsg string, processedAt time.Time) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if tx.Status.Final() {
		return nil, ErrAlreadySettled
	}
	tx.Status = status
	tx.GatewayRef = gatewayRef
	tx.Error = errMsg
	tx.ProcessedAt = &processedAt
	return cloneTransaction(tx), nil
}

func (s *MemoryTransactionStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Transaction
	for _, tx := range s.txs {
		if tx.SubscriptionID == subscriptionID {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return capTransactions(out, limit), nil
}

func (s *MemoryTransactionStore) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Transaction
	for _, tx := range s.txs {
		if tx.Status == TxPending && !tx.CreatedAt.After(cutoff) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return capTransactions(out, limit), nil
}

func capTransactions(txs []*Transaction, limit int) []*Transaction {
	if limit > 0 && len(txs) > limit {
		return txs[:limit]
	}
	return txs
}

func cloneTransaction(tx *Transaction) *Transaction {
	clone := *tx
	if tx.ProcessedAt != nil {
		t := *tx.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}
