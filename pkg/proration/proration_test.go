package proration_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/money"
	"github.com/dmitrymomot/billingkit/pkg/proration"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	t.Run("upgrade at half period", func(t *testing.T) {
		t.Parallel()

		// $9.99 -> $29.99 at day 15 of 30.
		q, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(2999, "USD"),
			start, end, start.AddDate(0, 0, 15),
		)
		require.NoError(t, err)

		assert.True(t, q.RemainingFraction.Equal(decimal.RequireFromString("0.5")))
		assert.Equal(t, int64(500), q.UnusedCredit.Amount)
		assert.Equal(t, int64(1500), q.NewCharge.Amount)
		assert.Equal(t, int64(1000), q.Amount.Amount)
		assert.True(t, q.IsUpgrade)
	})

	t.Run("downgrade credits the customer", func(t *testing.T) {
		t.Parallel()

		q, err := proration.Calculate(
			money.MustNew(2999, "USD"),
			money.MustNew(999, "USD"),
			start, end, start.AddDate(0, 0, 15),
		)
		require.NoError(t, err)

		assert.Equal(t, int64(-1000), q.Amount.Amount)
		assert.True(t, q.Amount.IsNegative())
		assert.False(t, q.IsUpgrade)
	})

	t.Run("symmetric round trip nets zero", func(t *testing.T) {
		t.Parallel()

		a := money.MustNew(999, "USD")
		b := money.MustNew(2999, "USD")
		// An awkward instant that forces fractional cents.
		now := start.Add(7*24*time.Hour + 13*time.Minute + 29*time.Second)

		up, err := proration.Calculate(a, b, start, end, now)
		require.NoError(t, err)
		down, err := proration.Calculate(b, a, start, end, now)
		require.NoError(t, err)

		net, err := up.Amount.Add(down.Amount)
		require.NoError(t, err)
		assert.True(t, net.IsZero(), "net adjustment %s", net)
	})

	t.Run("fraction clamped to zero after period end", func(t *testing.T) {
		t.Parallel()

		q, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(2999, "USD"),
			start, end, end.AddDate(0, 0, 1),
		)
		require.NoError(t, err)

		assert.True(t, q.RemainingFraction.IsZero())
		assert.True(t, q.Amount.IsZero())
		assert.True(t, q.UnusedCredit.IsZero())
		assert.True(t, q.NewCharge.IsZero())
	})

	t.Run("fraction clamped to one before period start", func(t *testing.T) {
		t.Parallel()

		q, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(2999, "USD"),
			start, end, start.Add(-time.Hour),
		)
		require.NoError(t, err)

		assert.True(t, q.RemainingFraction.Equal(decimal.NewFromInt(1)))
		assert.Equal(t, int64(2000), q.Amount.Amount)
	})

	t.Run("degenerate period is not a division by zero", func(t *testing.T) {
		t.Parallel()

		q, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(2999, "USD"),
			start, start, start,
		)
		require.NoError(t, err)

		assert.True(t, q.RemainingFraction.IsZero())
		assert.True(t, q.Amount.IsZero())
	})

	t.Run("rejects inverted period", func(t *testing.T) {
		t.Parallel()

		_, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(2999, "USD"),
			end, start, start,
		)
		require.ErrorIs(t, err, proration.ErrInvalidPeriod)
	})

	t.Run("rejects currency mismatch", func(t *testing.T) {
		t.Parallel()

		_, err := proration.Calculate(
			money.MustNew(999, "USD"),
			money.MustNew(999, "EUR"),
			start, end, start,
		)
		require.ErrorIs(t, err, money.ErrCurrencyMismatch)
	})

	t.Run("same price change nets zero", func(t *testing.T) {
		t.Parallel()

		p := money.MustNew(1299, "USD")
		q, err := proration.Calculate(p, p, start, end, start.AddDate(0, 0, 10))
		require.NoError(t, err)

		assert.True(t, q.Amount.IsZero())
		assert.False(t, q.IsUpgrade)
	})
}
