/*
Package recon provides the till, safe and keycard reconciliation engine.

PURPOSE:
  Answers two questions for any moment and any completed local day:
  how much cash and how many keycards should be present, and does the
  counted amount match? Everything here is recomputed from the raw event
  streams on every call. Nothing is cached and nothing is persisted.

KEY CONCEPTS IN THIS FILE (money.go):
  - Tolerance: the shared mismatch threshold (0.009) for every variance,
    read-only
  - Exceeds: |d| > Tolerance
  - Sum helpers used by the aggregators

PIPELINE:
  events -> Zone (local day buckets) -> PartitionSafeCounts / KeycardTransfers
         -> CalculateSafeTotals -> Calculate*Variance -> report

DESIGN PRINCIPLES:
  1. Precision: money and keycard counts are decimal.Decimal, never float64
  2. Determinism: same event lists + same instant = same answer
  3. Purity: only the window search touches I/O, through an interface

SEE ALSO:
  - events.go: event variants
  - time.go: fixed-offset local day bucketing
  - variance.go: the three variance calculators
*/
package recon

import "github.com/shopspring/decimal"

// tolerance is the equality threshold shared by every variance check.
// Differences at or below it are not mismatches.
var tolerance = decimal.New(9, -3)

// Tolerance returns the mismatch threshold, 0.009.
func Tolerance() decimal.Decimal { return tolerance }

// Exceeds reports whether |d| is strictly greater than Tolerance().
func Exceeds(d decimal.Decimal) bool {
	return d.Abs().GreaterThan(tolerance)
}

// Or returns the value of n, or zero when n is not set.
func Or(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}

// Some wraps d as a set NullDecimal.
func Some(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// D is shorthand for decimal.NewFromFloat, used for literals.
func D(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// MaxZero returns d, or zero when d is negative.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
