package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TILL TRANSACTION TOTALS
// =============================================================================

// MethodTotals sums till transactions per payment method. Refunds count
// negative.
type MethodTotals struct {
	Cash  decimal.Decimal
	Card  decimal.Decimal
	Other decimal.Decimal
}

// Total is the sum over all methods.
func (m MethodTotals) Total() decimal.Decimal {
	return m.Cash.Add(m.Card).Add(m.Other)
}

// Span is an inclusive time range. A zero To is open-ended.
type Span struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t is inside the span.
func (s Span) Contains(t time.Time) bool {
	if t.Before(s.From) {
		return false
	}
	return s.To.IsZero() || !t.After(s.To)
}

// SpanOf converts a day window to a span.
func SpanOf(w DayWindow) Span {
	return Span{From: w.Start, To: w.Last}
}

func signedAmount(t TillTransaction) decimal.Decimal {
	if t.Kind == KindRefund {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TotalsByMethod sums the transactions inside span.
func TotalsByMethod(txs []TillTransaction, span Span) MethodTotals {
	m := MethodTotals{Cash: decimal.Zero, Card: decimal.Zero, Other: decimal.Zero}
	for _, t := range txs {
		if !span.Contains(t.Timestamp) {
			continue
		}
		switch t.Method {
		case MethodCash:
			m.Cash = m.Cash.Add(signedAmount(t))
		case MethodCard:
			m.Card = m.Card.Add(signedAmount(t))
		default:
			m.Other = m.Other.Add(signedAmount(t))
		}
	}
	return m
}

// KeycardMovements returns keycards loaned out and refunded back inside span.
func KeycardMovements(txs []TillTransaction, span Span) (loaned, returned decimal.Decimal) {
	loaned, returned = decimal.Zero, decimal.Zero
	for _, t := range txs {
		if !t.IsKeycard || !span.Contains(t.Timestamp) {
			continue
		}
		switch t.Kind {
		case KindLoan:
			loaned = loaned.Add(t.Count)
		case KindRefund:
			returned = returned.Add(t.Count)
		}
	}
	return loaned, returned
}

// CardTransactionCount counts card payments inside span.
func CardTransactionCount(txs []TillTransaction, span Span) int {
	n := 0
	for _, t := range txs {
		if t.Method == MethodCard && span.Contains(t.Timestamp) {
			n++
		}
	}
	return n
}

// =============================================================================
// TILL-SIDE CASH MOVEMENTS
// =============================================================================

// CashMovements sums float and tender removal Amounts inside span.
func CashMovements(events []CashCountEvent, span Span) (floats, tenderRemovals decimal.Decimal) {
	floats, tenderRemovals = decimal.Zero, decimal.Zero
	for _, e := range events {
		if !span.Contains(e.Timestamp) {
			continue
		}
		switch e.Type {
		case CashFloat:
			floats = floats.Add(Or(e.Amount))
		case CashTenderRemoval:
			tenderRemovals = tenderRemovals.Add(Or(e.Amount))
		}
	}
	return floats, tenderRemovals
}

// ExchangeTotals sums exchange Amounts per direction inside span.
func ExchangeTotals(events []SafeCountEvent, span Span) (drawerToSafe, safeToDrawer decimal.Decimal) {
	drawerToSafe, safeToDrawer = decimal.Zero, decimal.Zero
	for _, e := range events {
		if e.Type != SafeExchange || !span.Contains(e.Timestamp) {
			continue
		}
		switch e.Direction {
		case DrawerToSafe:
			drawerToSafe = drawerToSafe.Add(Or(e.Amount))
		case SafeToDrawer:
			safeToDrawer = safeToDrawer.Add(Or(e.Amount))
		}
	}
	return drawerToSafe, safeToDrawer
}
