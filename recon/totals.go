package recon

import "github.com/shopspring/decimal"

// =============================================================================
// CATEGORY TOTALS AGGREGATOR
// =============================================================================

// CategoryTotal is the sum of one bucket.
type CategoryTotal struct {
	Amount   decimal.Decimal
	Keycards decimal.Decimal
}

// SumCategory totals Amount and KeycardDifference over rows. Missing
// fields count as zero.
func SumCategory(rows []SafeCountEvent) CategoryTotal {
	t := CategoryTotal{Amount: decimal.Zero, Keycards: decimal.Zero}
	for _, r := range rows {
		t.Amount = t.Amount.Add(Or(r.Amount))
		t.Keycards = t.Keycards.Add(Or(r.KeycardDifference))
	}
	return t
}

// SafeTotals is the per-category and net-flow view of one day's partition.
//
// Net flows exclude the drawer<->safe exchanges. Exchanges are internal
// transfers, checked against till-side tender removals and floats instead,
// so folding them in here would count the same cash twice. The keycard
// flows do include exchange keycards.
type SafeTotals struct {
	BankDrops             CategoryTotal
	BankWithdrawals       CategoryTotal
	Deposits              CategoryTotal
	Withdrawals           CategoryTotal
	PettyWithdrawals      CategoryTotal
	SafeReconciles        CategoryTotal
	DrawerToSafeExchanges CategoryTotal
	SafeToDrawerExchanges CategoryTotal

	// Sum of Difference over the day's safe reconciles.
	ReconcilesTotal decimal.Decimal

	// Deposits + bank withdrawals (cash coming into the safe from the bank).
	SafeInflowsTotal decimal.Decimal
	// Withdrawals + bank drops + petty withdrawals.
	SafeOutflowsTotal decimal.Decimal

	SafeKeycardInflowsTotal  decimal.Decimal
	SafeKeycardOutflowsTotal decimal.Decimal
}

// CalculateSafeTotals sums each bucket and derives the net flows.
func CalculateSafeTotals(p SafePartition) SafeTotals {
	t := SafeTotals{
		BankDrops:             SumCategory(p.BankDrops),
		BankWithdrawals:       SumCategory(p.BankWithdrawals),
		Deposits:              SumCategory(p.Deposits),
		Withdrawals:           SumCategory(p.Withdrawals),
		PettyWithdrawals:      SumCategory(p.PettyWithdrawals),
		SafeReconciles:        SumCategory(p.SafeReconciles),
		DrawerToSafeExchanges: SumCategory(p.DrawerToSafeExchanges),
		SafeToDrawerExchanges: SumCategory(p.SafeToDrawerExchanges),
		ReconcilesTotal:       decimal.Zero,
	}
	for _, r := range p.SafeReconciles {
		t.ReconcilesTotal = t.ReconcilesTotal.Add(Or(r.Difference))
	}

	t.SafeInflowsTotal = t.Deposits.Amount.Add(t.BankWithdrawals.Amount)
	t.SafeOutflowsTotal = t.Withdrawals.Amount.
		Add(t.BankDrops.Amount).
		Add(t.PettyWithdrawals.Amount)

	t.SafeKeycardInflowsTotal = t.Deposits.Keycards.
		Add(t.BankWithdrawals.Keycards).
		Add(t.DrawerToSafeExchanges.Keycards)
	t.SafeKeycardOutflowsTotal = t.Withdrawals.Keycards.
		Add(t.BankDrops.Keycards).
		Add(t.PettyWithdrawals.Keycards).
		Add(t.SafeToDrawerExchanges.Keycards)
	return t
}

// KeycardReconcileAdjustment sums KeycardDifference over the given
// reconcile and reset rows. Manual corrections fold into the expectation.
func KeycardReconcileAdjustment(reconciles, resets []SafeCountEvent) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range reconciles {
		sum = sum.Add(Or(r.KeycardDifference))
	}
	for _, r := range resets {
		sum = sum.Add(Or(r.KeycardDifference))
	}
	return sum
}
