package till

import (
	"github.com/shopspring/decimal"
	"github.com/warp/till-engine/recon"
)

// =============================================================================
// SHIFT FIGURES
// =============================================================================

// History is a point-in-time snapshot of the streams a shift reads.
type History struct {
	Cash         []recon.CashCountEvent
	Safe         []recon.SafeCountEvent
	Transactions []recon.TillTransaction
}

// Figures are the expected totals for the open shift.
type Figures struct {
	SalesCash          decimal.Decimal
	FloatTotal         decimal.Decimal
	TenderRemovalTotal decimal.Decimal
	DrawerToSafe       decimal.Decimal
	SafeToDrawer       decimal.Decimal
	ExpectedCash       decimal.Decimal

	KeycardsLoaned   decimal.Decimal
	KeycardsReturned decimal.Decimal
	ExpectedKeycards decimal.Decimal

	// Card payments taken since the shift opened.
	CardTransactions int
}

// Calculate derives the shift's expected cash and keycards.
//
//	expectedCash     = opening + cash sales + floats - tender removals - max(0, d2s - s2d)
//	expectedKeycards = opening keycards - loaned + returned
//
// Everything is counted from the session's BaselineAt. A closed session
// has zero figures.
func Calculate(sess Session, h History) Figures {
	f := Figures{
		SalesCash:          decimal.Zero,
		FloatTotal:         decimal.Zero,
		TenderRemovalTotal: decimal.Zero,
		DrawerToSafe:       decimal.Zero,
		SafeToDrawer:       decimal.Zero,
		ExpectedCash:       decimal.Zero,
		KeycardsLoaned:     decimal.Zero,
		KeycardsReturned:   decimal.Zero,
		ExpectedKeycards:   decimal.Zero,
	}
	if !sess.IsOpen() {
		return f
	}

	since := recon.Span{From: sess.BaselineAt}
	f.SalesCash = recon.TotalsByMethod(h.Transactions, since).Cash
	f.FloatTotal, f.TenderRemovalTotal = recon.CashMovements(h.Cash, since)
	f.DrawerToSafe, f.SafeToDrawer = recon.ExchangeTotals(h.Safe, since)

	f.ExpectedCash = recon.CalculateCashVariance(recon.CashVarianceInput{
		OpeningCash:                sess.OpeningCash,
		SalesCashTotal:             f.SalesCash,
		FloatTotal:                 f.FloatTotal,
		TenderRemovalTotal:         f.TenderRemovalTotal,
		DrawerToSafeExchangesTotal: f.DrawerToSafe,
		SafeToDrawerExchangesTotal: f.SafeToDrawer,
	}).ExpectedCash

	f.KeycardsLoaned, f.KeycardsReturned = recon.KeycardMovements(h.Transactions, since)
	f.ExpectedKeycards = sess.OpeningKeycards.Sub(f.KeycardsLoaned).Add(f.KeycardsReturned)

	f.CardTransactions = recon.CardTransactionCount(h.Transactions, recon.Span{From: sess.OpenTime})
	return f
}

// =============================================================================
// DRAWER LIMIT
// =============================================================================

// DrawerStatus is one evaluation of the drawer against the cash limit.
type DrawerStatus struct {
	Open                        bool
	ExpectedCash                decimal.Decimal
	Limit                       decimal.Decimal
	OverLimit                   bool
	PinRequiredForTenderRemoval bool
}

// EvaluateDrawer compares expected cash to the limit. A non-positive
// limit disables the check.
func EvaluateDrawer(sess Session, f Figures, s recon.TillSettings) DrawerStatus {
	over := sess.IsOpen() && s.DrawerLimit.IsPositive() && f.ExpectedCash.GreaterThan(s.DrawerLimit)
	return DrawerStatus{
		Open:                        sess.IsOpen(),
		ExpectedCash:                f.ExpectedCash,
		Limit:                       s.DrawerLimit,
		OverLimit:                   over,
		PinRequiredForTenderRemoval: s.PinRequiredAboveLimit && over,
	}
}
