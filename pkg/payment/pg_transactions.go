package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// PgTransactionStore implements TransactionStore on PostgreSQL.
// Settlement atomicity comes from a conditional UPDATE on
// reference+pending; the unique reference constraint lives in the
// transactions migration.
type PgTransactionStore struct {
	db *pgxpool.Pool
}

// NewPgTransactionStore creates a ledger store on the given pool.
func NewPgTransactionStore(db *pgxpool.Pool) *PgTransactionStore {
	if db == nil {
		panic("payment: pgx pool is required")
	}
	return &PgTransactionStore{db: db}
}

const transactionColumns = `id, user_id, subscription_id, amount, currency, status, type,
	reference, gateway_ref, error, processed_at, created_at`

func (s *PgTransactionStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.UserID, tx.SubscriptionID, tx.Amount.Amount, tx.Amount.Currency,
		string(tx.Status), string(tx.Type), tx.Reference, tx.GatewayRef, tx.Error,
		utcTimePtr(tx.ProcessedAt), tx.CreatedAt.UTC(),
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PgTransactionStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	tx, err := scanTransaction(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	return tx, nil
}

func (s *PgTransactionStore) Settle(ctx context.Context, reference string, status TransactionStatus, gatewayRef, errMsg string, processedAt time.Time) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, gateway_ref = $3, error = $4, processed_at = $5
		WHERE reference = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		reference, string(status), gatewayRef, errMsg, processedAt.UTC(),
	)
	tx, err := scanTransaction(row)
	if err != nil {
		if !pg.IsNotFoundError(err) {
			return nil, fmt.Errorf("settle transaction: %w", err)
		}
		// No pending row matched: either the reference is unknown or a
		// concurrent settlement already finalized it.
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE reference = $1)`, reference,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("settle transaction: %w", err)
		}
		if !exists {
			return nil, ErrTransactionNotFound
		}
		return nil, ErrAlreadySettled
	}
	return tx, nil
}

func (s *PgTransactionStore) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Transaction, error) {
	return s.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, subscriptionID, normalizeTxLimit(limit))
}

func (s *PgTransactionStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	return s.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff.UTC(), normalizeTxLimit(limit))
}

func (s *PgTransactionStore) list(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		tx       Transaction
		amount   int64
		currency string
		status   string
		txType   string
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.SubscriptionID, &amount, &currency, &status, &txType,
		&tx.Reference, &tx.GatewayRef, &tx.Error, &tx.ProcessedAt, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Amount = money.Money{Amount: amount, Currency: currency}
	tx.Status = TransactionStatus(status)
	tx.Type = TransactionType(txType)
	return &tx, nil
}

func normalizeTxLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
