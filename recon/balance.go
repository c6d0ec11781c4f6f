package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SAFE BALANCE LOOKBACK
// =============================================================================

// SafeBalanceAt replays every event at or before at in chronological order
// (stable on ties) and returns the running safe balance.
//
// Absolute events reset the total: opening, safeReset, and safeReconcile
// when Count is set. Everything else is a delta:
//
//	deposit, bankWithdrawal               +amount
//	withdrawal, bankDeposit, petty        -amount
//	exchange drawerToSafe / safeToDrawer  +amount / -amount
//	safeReconcile without Count           +difference
//
// Exchanges with an unknown direction are skipped.
func SafeBalanceAt(events []SafeCountEvent, at time.Time) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range SortSafeCounts(events) {
		if e.Timestamp.After(at) {
			break
		}
		balance = applySafeEvent(balance, e)
	}
	return balance
}

func applySafeEvent(balance decimal.Decimal, e SafeCountEvent) decimal.Decimal {
	switch e.Type {
	case SafeOpening, SafeReset:
		if e.Count.Valid {
			return e.Count.Decimal
		}
	case SafeReconcile:
		if e.Count.Valid {
			return e.Count.Decimal
		}
		return balance.Add(Or(e.Difference))
	case SafeDeposit, SafeBankWithdrawal:
		return balance.Add(Or(e.Amount))
	case SafeWithdrawal, SafeBankDeposit, SafePettyWithdrawal:
		return balance.Sub(Or(e.Amount))
	case SafeExchange:
		switch e.Direction {
		case DrawerToSafe:
			return balance.Add(Or(e.Amount))
		case SafeToDrawer:
			return balance.Sub(Or(e.Amount))
		}
	}
	return balance
}

// SafeKeycardsAt replays keycard counts the same way: baselines with a
// KeycardCount reset the total, every other event adds its
// KeycardDifference.
func SafeKeycardsAt(events []SafeCountEvent, at time.Time) decimal.Decimal {
	keycards := decimal.Zero
	for _, e := range SortSafeCounts(events) {
		if e.Timestamp.After(at) {
			break
		}
		if e.Type.IsBaseline() && e.KeycardCount.Valid {
			keycards = e.KeycardCount.Decimal
			continue
		}
		keycards = keycards.Add(Or(e.KeycardDifference))
	}
	return keycards
}

// BeginningSafeBalance resolves a day's opening safe balance: the first
// same-day baseline Count, else the latest baseline Count before the day,
// else the replayed balance at local midnight.
func BeginningSafeBalance(zone Zone, events []SafeCountEvent, day DayWindow) decimal.Decimal {
	var prior *SafeCountEvent
	sorted := SortSafeCounts(events)
	for i := range sorted {
		e := sorted[i]
		if !e.Type.IsBaseline() || !e.Count.Valid {
			continue
		}
		if zone.IsSameLocalDate(e.Timestamp, day.Date) {
			return e.Count.Decimal
		}
		if e.Timestamp.Before(day.Start) {
			prior = &sorted[i]
		}
	}
	if prior != nil {
		return prior.Count.Decimal
	}
	return SafeBalanceAt(events, day.Start)
}
