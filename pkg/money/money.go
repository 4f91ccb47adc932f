package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
// Amounts are always integers; fractional arithmetic happens in
// decimal space and is rounded back at the edges.
type Money struct {
	Amount   int64  `json:"amount" bson:"amount"`
	Currency string `json:"currency" bson:"currency"`
}

// New validates the currency code against ISO 4217 and returns a Money
// value with the canonical uppercase code.
func New(amount int64, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return Money{Amount: amount, Currency: unit.String()}, nil
}

// MustNew is like New but panics on an invalid currency code.
// Intended for static plan definitions evaluated at startup.
func MustNew(amount int64, code string) Money {
	m, err := New(amount, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency without validation.
func Zero(code string) Money {
	return Money{Amount: 0, Currency: code}
}

// Add returns m+other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m-other. Both values must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Cmp compares two amounts of the same currency.
// Returns -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Abs returns the absolute amount in the same currency.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return Money{Amount: -m.Amount, Currency: m.Currency}
	}
	return m
}

// Neg returns the negated amount in the same currency.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Decimal returns the amount in minor units as an exact decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount)
}

// FromDecimal converts a minor-unit decimal back into Money, rounding
// half away from zero to an integer number of minor units.
func FromDecimal(d decimal.Decimal, code string) (Money, error) {
	return New(d.Round(0).IntPart(), code)
}

// String renders the amount using the currency's minor unit scale,
// e.g. "10.99 USD" or "500 JPY". Unknown currencies fall back to the
// raw minor-unit integer.
func (m Money) String() string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	scale, _ := currency.Standard.Rounding(unit)
	if scale == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	pow := int64(1)
	for i := 0; i < scale; i++ {
		pow *= 10
	}
	major := m.Amount / pow
	minor := m.Amount % pow
	if minor < 0 {
		minor = -minor
	}
	if m.Amount < 0 && major == 0 {
		return fmt.Sprintf("-0.%0*d %s", scale, minor, m.Currency)
	}
	return fmt.Sprintf("%d.%0*d %s", major, scale, minor, m.Currency)
}
