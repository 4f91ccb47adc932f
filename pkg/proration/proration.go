package proration

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/money"
)

// ErrInvalidPeriod is returned when the period end precedes its start.
var ErrInvalidPeriod = errors.New("billing period end precedes start")

// Quote is the outcome of prorating a plan change at a point in time.
// Amount is the signed net adjustment: positive means the customer owes
// more, negative means the customer is credited.
type Quote struct {
	OldPrice          money.Money
	NewPrice          money.Money
	RemainingFraction decimal.Decimal
	UnusedCredit      money.Money
	NewCharge         money.Money
	Amount            money.Money
	IsUpgrade         bool
}

// Calculate computes the proration quote for switching from oldPrice to
// newPrice with the billing period [periodStart, periodEnd) evaluated at
// now. Both prices must share a currency.
//
// The remaining fraction is clamped to [0, 1]; a consumed or degenerate
// period yields a zero quote rather than a division by zero. All
// arithmetic happens in decimal space and is rounded half away from
// zero only at the edges, so the net Amount of A→B followed by B→A at
// the same instant is exactly zero.
func Calculate(oldPrice, newPrice money.Money, periodStart, periodEnd, now time.Time) (Quote, error) {
	if oldPrice.Currency != newPrice.Currency {
		return Quote{}, fmt.Errorf("%w: %s vs %s", money.ErrCurrencyMismatch, oldPrice.Currency, newPrice.Currency)
	}
	if periodEnd.Before(periodStart) {
		return Quote{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidPeriod, periodStart, periodEnd)
	}

	frac := remainingFraction(periodStart, periodEnd, now)

	creditD := oldPrice.Decimal().Mul(frac)
	chargeD := newPrice.Decimal().Mul(frac)
	// The net is rounded from the exact decimal difference, not from the
	// two already-rounded legs, to keep A→B→A symmetric.
	netD := newPrice.Decimal().Sub(oldPrice.Decimal()).Mul(frac)

	currency := oldPrice.Currency
	credit, err := money.FromDecimal(creditD, currency)
	if err != nil {
		return Quote{}, err
	}
	charge, err := money.FromDecimal(chargeD, currency)
	if err != nil {
		return Quote{}, err
	}
	amount, err := money.FromDecimal(netD, currency)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		OldPrice:          oldPrice,
		NewPrice:          newPrice,
		RemainingFraction: frac,
		UnusedCredit:      credit,
		NewCharge:         charge,
		Amount:            amount,
		IsUpgrade:         newPrice.Amount > oldPrice.Amount,
	}, nil
}

func remainingFraction(start, end, now time.Time) decimal.Decimal {
	total := end.Sub(start)
	if total <= 0 {
		return decimal.Zero
	}
	remaining := end.Sub(now)
	if remaining <= 0 {
		return decimal.Zero
	}
	if remaining >= total {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
}
