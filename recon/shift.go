package recon

// =============================================================================
// SHIFT BOUNDARY RESOLVER
// =============================================================================

// FindOpenShift returns the opening that has no later close, or nil.
//
// Events are sorted by timestamp (stable on ties) and scanned forward:
// an opening sets the pointer, a close clears it, anything else (including
// reconcile) leaves it alone. Two openings without a close in between is
// not an error; the later one wins.
func FindOpenShift(events []CashCountEvent) *CashCountEvent {
	var current *CashCountEvent
	sorted := SortCashCounts(events)
	for i := range sorted {
		switch sorted[i].Type {
		case CashOpening:
			current = &sorted[i]
		case CashClose:
			current = nil
		}
	}
	return current
}

// GetLastClose returns the chronologically last close, or nil.
func GetLastClose(events []CashCountEvent) *CashCountEvent {
	var last *CashCountEvent
	sorted := SortCashCounts(events)
	for i := range sorted {
		if sorted[i].Type == CashClose {
			last = &sorted[i]
		}
	}
	return last
}
