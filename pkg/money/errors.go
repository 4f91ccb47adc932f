package money

import "errors"

var (
	ErrInvalidCurrency  = errors.New("invalid ISO 4217 currency code")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)
