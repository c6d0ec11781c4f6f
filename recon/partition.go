package recon

// =============================================================================
// EVENT PARTITIONER
// =============================================================================

// SafePartition holds one local day's safe events split by category.
// Every bucket is chronologically sorted. Unclassified collects the rest
// of the input (other days, openings, resets, exchanges without a known
// direction) so that buckets + Unclassified is exactly the input.
type SafePartition struct {
	BankDrops             []SafeCountEvent
	BankWithdrawals       []SafeCountEvent
	Deposits              []SafeCountEvent
	Withdrawals           []SafeCountEvent
	PettyWithdrawals      []SafeCountEvent
	SafeReconciles        []SafeCountEvent
	DrawerToSafeExchanges []SafeCountEvent
	SafeToDrawerExchanges []SafeCountEvent

	Unclassified []SafeCountEvent
}

// PartitionSafeCounts buckets the events that fall on dateStr.
// safeReset and opening are never bucketed; the baseline logic reads them
// separately.
func PartitionSafeCounts(zone Zone, events []SafeCountEvent, dateStr string) SafePartition {
	var p SafePartition
	for _, e := range SortSafeCounts(events) {
		if !zone.IsSameLocalDate(e.Timestamp, dateStr) {
			p.Unclassified = append(p.Unclassified, e)
			continue
		}
		switch e.Type {
		case SafeBankDeposit:
			p.BankDrops = append(p.BankDrops, e)
		case SafeBankWithdrawal:
			p.BankWithdrawals = append(p.BankWithdrawals, e)
		case SafeDeposit:
			p.Deposits = append(p.Deposits, e)
		case SafeWithdrawal:
			p.Withdrawals = append(p.Withdrawals, e)
		case SafePettyWithdrawal:
			p.PettyWithdrawals = append(p.PettyWithdrawals, e)
		case SafeReconcile:
			p.SafeReconciles = append(p.SafeReconciles, e)
		case SafeExchange:
			switch e.Direction {
			case DrawerToSafe:
				p.DrawerToSafeExchanges = append(p.DrawerToSafeExchanges, e)
			case SafeToDrawer:
				p.SafeToDrawerExchanges = append(p.SafeToDrawerExchanges, e)
			default:
				p.Unclassified = append(p.Unclassified, e)
			}
		default:
			p.Unclassified = append(p.Unclassified, e)
		}
	}
	return p
}

// Classified returns the number of events placed in the eight buckets.
func (p SafePartition) Classified() int {
	return len(p.BankDrops) + len(p.BankWithdrawals) + len(p.Deposits) +
		len(p.Withdrawals) + len(p.PettyWithdrawals) + len(p.SafeReconciles) +
		len(p.DrawerToSafeExchanges) + len(p.SafeToDrawerExchanges)
}

// SafeEventsOn returns the events of one type that fall on dateStr,
// chronologically. Used for resets and openings, which are not bucketed.
func SafeEventsOn(zone Zone, events []SafeCountEvent, typ SafeCountType, dateStr string) []SafeCountEvent {
	var out []SafeCountEvent
	for _, e := range SortSafeCounts(events) {
		if e.Type == typ && zone.IsSameLocalDate(e.Timestamp, dateStr) {
			out = append(out, e)
		}
	}
	return out
}
