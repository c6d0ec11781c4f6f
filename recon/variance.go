/*
variance.go - Expected versus counted, for cash, keycards and the safe

PURPOSE:
  Three independent pure functions. Each takes explicit scalar inputs
  (no hidden state) and returns the expectation, the variance and the
  mismatch flag. All three compare against the shared Tolerance().

CASH:
  netDrawerToSafe = max(0, drawerToSafe - safeToDrawer)
  expectedCash    = opening + salesCash + float - tenderRemoval - netDrawerToSafe
  variance        = closing - expectedCash

  Only a net movement out of the drawer reduces expected drawer cash. A
  net movement the other way is already in float (cash put back into the
  drawer), so it must not be subtracted twice.

KEYCARDS:
  expected = opening + safeInflows - safeOutflows - loaned + returned + reconcileAdjustment
  variance = closing - expected

SAFE:
  safeVariance         = ending - beginning
  expectedSafeVariance = inflows - outflows + drawerToSafe - safeToDrawer
  drawerInflows        = deposits + drawerToSafe - safeToDrawer
  safeInflowsMismatch  = |drawerInflows - tenderRemoval| > Tolerance()

  The last check confirms that cash removed from the till shows up on
  the safe side the same day.
*/
package recon

import "github.com/shopspring/decimal"

// =============================================================================
// CASH
// =============================================================================

// CashVarianceInput holds the day's till cash totals.
type CashVarianceInput struct {
	OpeningCash                decimal.Decimal
	SalesCashTotal             decimal.Decimal
	FloatTotal                 decimal.Decimal
	TenderRemovalTotal         decimal.Decimal
	ClosingCash                decimal.Decimal
	DrawerToSafeExchangesTotal decimal.Decimal
	SafeToDrawerExchangesTotal decimal.Decimal
}

// CashVariance is the till cash expectation for one day and how far the
// closing count is from it.
type CashVariance struct {
	NetDrawerToSafe decimal.Decimal
	ExpectedCash    decimal.Decimal
	Variance        decimal.Decimal
	Mismatch        bool
}

// CalculateCashVariance computes expected drawer cash and flags a closing
// count that differs from it by more than Tolerance().
func CalculateCashVariance(in CashVarianceInput) CashVariance {
	net := MaxZero(in.DrawerToSafeExchangesTotal.Sub(in.SafeToDrawerExchangesTotal))
	expected := in.OpeningCash.
		Add(in.SalesCashTotal).
		Add(in.FloatTotal).
		Sub(in.TenderRemovalTotal).
		Sub(net)
	variance := in.ClosingCash.Sub(expected)
	return CashVariance{
		NetDrawerToSafe: net,
		ExpectedCash:    expected,
		Variance:        variance,
		Mismatch:        Exceeds(variance),
	}
}

// =============================================================================
// KEYCARDS
// =============================================================================

// KeycardVarianceInput holds the day's combined till and safe keycard
// totals.
type KeycardVarianceInput struct {
	OpeningKeycards            decimal.Decimal
	SafeKeycardInflowsTotal    decimal.Decimal
	SafeKeycardOutflowsTotal   decimal.Decimal
	KeycardsLoaned             decimal.Decimal
	KeycardsReturned           decimal.Decimal
	KeycardReconcileAdjustment decimal.Decimal
	ClosingKeycards            decimal.Decimal
}

// KeycardVariance is the expected keycard total and the closing variance.
type KeycardVariance struct {
	ExpectedKeycards decimal.Decimal
	KeycardVariance  decimal.Decimal
	Mismatch         bool
}

// CalculateKeycardVariance computes expected keycards from the opening
// count and the day's movements.
func CalculateKeycardVariance(in KeycardVarianceInput) KeycardVariance {
	expected := in.OpeningKeycards.
		Add(in.SafeKeycardInflowsTotal).
		Sub(in.SafeKeycardOutflowsTotal).
		Sub(in.KeycardsLoaned).
		Add(in.KeycardsReturned).
		Add(in.KeycardReconcileAdjustment)
	variance := in.ClosingKeycards.Sub(expected)
	return KeycardVariance{
		ExpectedKeycards: expected,
		KeycardVariance:  variance,
		Mismatch:         Exceeds(variance),
	}
}

// =============================================================================
// SAFE
// =============================================================================

// SafeVarianceInput holds the safe balances and flows of one day.
type SafeVarianceInput struct {
	BeginningSafeBalance       decimal.Decimal
	EndingSafeBalance          decimal.Decimal
	SafeInflowsTotal           decimal.Decimal
	SafeOutflowsTotal          decimal.Decimal
	DepositsTotal              decimal.Decimal
	TenderRemovalTotal         decimal.Decimal
	DrawerToSafeExchangesTotal decimal.Decimal
	SafeToDrawerExchangesTotal decimal.Decimal
}

// SafeVariance carries both safe checks: balance movement against
// recorded flows, and drawer inflows against till tender removals.
type SafeVariance struct {
	SafeVariance         decimal.Decimal
	ExpectedSafeVariance decimal.Decimal
	SafeVarianceMismatch bool
	DrawerInflows        decimal.Decimal
	SafeInflowsMismatch  bool
}

// CalculateSafeVariance runs both safe checks.
func CalculateSafeVariance(in SafeVarianceInput) SafeVariance {
	actual := in.EndingSafeBalance.Sub(in.BeginningSafeBalance)
	expected := in.SafeInflowsTotal.
		Sub(in.SafeOutflowsTotal).
		Add(in.DrawerToSafeExchangesTotal).
		Sub(in.SafeToDrawerExchangesTotal)
	drawerInflows := in.DepositsTotal.
		Add(in.DrawerToSafeExchangesTotal).
		Sub(in.SafeToDrawerExchangesTotal)
	return SafeVariance{
		SafeVariance:         actual,
		ExpectedSafeVariance: expected,
		SafeVarianceMismatch: Exceeds(expected.Sub(actual)),
		DrawerInflows:        drawerInflows,
		SafeInflowsMismatch:  Exceeds(drawerInflows.Sub(in.TenderRemovalTotal)),
	}
}
