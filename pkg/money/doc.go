// Package money provides fixed-point monetary values for billing code.
//
// Amounts are stored as int64 in the smallest currency unit (cents,
// kobo, yen) and never pass through floating point. Currency codes are
// validated against ISO 4217 and normalized to uppercase.
//
// # Usage
//
//	price := money.MustNew(2999, "USD") // $29.99
//	credit, err := price.Sub(money.MustNew(999, "USD"))
//	if err != nil {
//		// currencies differ
//	}
//	fmt.Println(credit) // "20.00 USD"
//
// Fractional arithmetic (proration, percentages) is done on the
// decimal bridge:
//
//	d := price.Decimal().Mul(fraction)
//	rounded, err := money.FromDecimal(d, price.Currency)
//
// FromDecimal rounds half away from zero so that symmetric
// calculations net to exactly zero.
package money
