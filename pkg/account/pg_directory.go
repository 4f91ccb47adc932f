package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const accountColumns = "user_id, email, created_at, updated_at"

// PGDirectory reads and writes the projection in the billing_accounts
// table. Upsert is a single INSERT ... ON CONFLICT statement, so
// concurrent syncs from the host application cannot race each other into
// duplicate rows.
type PGDirectory struct {
	db *pgxpool.Pool
}

// NewPGDirectory creates a directory backed by the given connection pool.
func NewPGDirectory(db *pgxpool.Pool) *PGDirectory {
	if db == nil {
		panic("account: pgxpool is required")
	}
	return &PGDirectory{db: db}
}

// Upsert records or refreshes the projection for one user.
func (d *PGDirectory) Upsert(ctx context.Context, userID uuid.UUID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}

	_, err := d.db.Exec(ctx, `
		INSERT INTO billing_accounts (user_id, email, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET email = excluded.email, updated_at = now()`,
		userID, email,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// Get returns the full projection for one user.
func (d *PGDirectory) Get(ctx context.Context, userID uuid.UUID) (*Account, error) {
	row := d.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM billing_accounts WHERE user_id = $1",
		userID,
	)

	var acc Account
	err := row.Scan(&acc.UserID, &acc.Email, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &acc, nil
}

// Email resolves a user ID to the address notifications should go to.
func (d *PGDirectory) Email(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := d.db.QueryRow(ctx,
		"SELECT email FROM billing_accounts WHERE user_id = $1",
		userID,
	).Scan(&email)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("select account email: %w", err)
	}
	return email, nil
}

// Exists reports whether a projection is present for the user.
func (d *PGDirectory) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM billing_accounts WHERE user_id = $1)",
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return exists, nil
}
