package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// PgStore implements Store on PostgreSQL.
//
// The uniqueness invariant is enforced by a partial unique index on
// user_id over non-terminal statuses (see the subscriptions migration);
// Create surfaces the constraint violation as
// ErrDuplicateActiveSubscription. Update is a conditional UPDATE on
// id+revision.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a store on the given pool. The subscriptions table
// must exist; run the goose migrations first.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	if db == nil {
		panic("subscription: pgx pool is required")
	}
	return &PgStore{db: db}
}

const subscriptionColumns = `id, user_id, plan_id, plan_version, billing_period, status, is_active,
	current_period_start, current_period_end, cancel_at_period_end, cancelled_at,
	last_payment_at, last_payment_amount, last_payment_currency, failed_payment_attempts,
	grace_period_end, expired_at, created_at, updated_at, revision`

func (s *PgStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		sub.ID, sub.UserID, sub.PlanID, sub.PlanVersion, string(sub.BillingPeriod), string(sub.Status), sub.IsActive,
		sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(), sub.CancelAtPeriodEnd, utcTime(sub.CancelledAt),
		utcTime(sub.LastPaymentAt), sub.LastPaymentAmount.Amount, sub.LastPaymentAmount.Currency, sub.FailedPaymentAttempts,
		utcTime(sub.GracePeriodEnd), utcTime(sub.ExpiredAt), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(), sub.Revision,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateActiveSubscription
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return sub, nil
}

func (s *PgStore) GetByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status IN ('pending', 'active', 'grace')`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription by user: %w", err)
	}
	return sub, nil
}

func (s *PgStore) Update(ctx context.Context, sub *Subscription) error {
	var newRevision int64
	err := s.db.QueryRow(ctx, `
		UPDATE subscriptions SET
			plan_id = $3, plan_version = $4, billing_period = $5, status = $6, is_active = $7,
			current_period_start = $8, current_period_end = $9, cancel_at_period_end = $10,
			cancelled_at = $11, last_payment_at = $12, last_payment_amount = $13,
			last_payment_currency = $14, failed_payment_attempts = $15, grace_period_end = $16,
			expired_at = $17, updated_at = $18, revision = revision + 1
		WHERE id = $1 AND revision = $2
		RETURNING revision`,
		sub.ID, sub.Revision,
		sub.PlanID, sub.PlanVersion, string(sub.BillingPeriod), string(sub.Status), sub.IsActive,
		sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(), sub.CancelAtPeriodEnd,
		utcTime(sub.CancelledAt), utcTime(sub.LastPaymentAt), sub.LastPaymentAmount.Amount,
		sub.LastPaymentAmount.Currency, sub.FailedPaymentAttempts, utcTime(sub.GracePeriodEnd),
		utcTime(sub.ExpiredAt), sub.UpdatedAt.UTC(),
	).Scan(&newRevision)
	if err != nil {
		if !pg.IsNotFoundError(err) {
			return fmt.Errorf("update subscription: %w", err)
		}
		// No row matched: distinguish a missing document from a lost race.
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if !exists {
			return ErrSubscriptionNotFound
		}
		return ErrConflict
	}
	sub.Revision = newRevision
	return nil
}

func (s *PgStore) ListRenewalsDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'grace') AND current_period_end <= $1
		ORDER BY current_period_end ASC
		LIMIT $2`, asOf.UTC(), normalizeLimit(limit))
}

func (s *PgStore) ListGraceExpired(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'grace' AND grace_period_end IS NOT NULL AND grace_period_end <= $1
		ORDER BY grace_period_end ASC
		LIMIT $2`, asOf.UTC(), normalizeLimit(limit))
}

func (s *PgStore) ListRenewingSoon(ctx context.Context, from, to time.Time, limit int) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND cancel_at_period_end = FALSE
			AND current_period_end >= $1 AND current_period_end < $2
		ORDER BY current_period_end ASC
		LIMIT $3`, from.UTC(), to.UTC(), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PgStore) list(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub           Subscription
		billingPeriod string
		status        string
		amount        int64
		currency      string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PlanVersion, &billingPeriod, &status, &sub.IsActive,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CancelledAt,
		&sub.LastPaymentAt, &amount, &currency, &sub.FailedPaymentAttempts,
		&sub.GracePeriodEnd, &sub.ExpiredAt, &sub.CreatedAt, &sub.UpdatedAt, &sub.Revision,
	)
	if err != nil {
		return nil, err
	}
	sub.BillingPeriod = plan.BillingPeriod(billingPeriod)
	sub.Status = Status(status)
	sub.LastPaymentAmount = money.Money{Amount: amount, Currency: currency}
	return &sub, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
