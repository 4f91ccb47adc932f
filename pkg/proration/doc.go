// Package proration computes mid-cycle plan change adjustments.
//
// The calculator is a pure function over two prices and three
// timestamps. It owns no clock and touches no storage; callers pass
// "now" explicitly. Monetary math runs on shopspring/decimal and is
// rounded to integer minor units only at the edges.
package proration
