package recon

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KEYCARD TRANSFER AGGREGATOR
// =============================================================================

// TransferTable mirrors a category table: the rows and their total count.
type TransferTable struct {
	Rows  []KeycardTransferEvent
	Total decimal.Decimal
}

// KeycardTransferTotals splits one day's transfers by direction.
type KeycardTransferTotals struct {
	ToSafe   TransferTable
	FromSafe TransferTable
}

// KeycardTransfers filters transfers to dateStr, splits them by direction
// and sums Count per side. Rows are chronological.
func KeycardTransfers(zone Zone, transfers []KeycardTransferEvent, dateStr string) KeycardTransferTotals {
	out := KeycardTransferTotals{
		ToSafe:   TransferTable{Total: decimal.Zero},
		FromSafe: TransferTable{Total: decimal.Zero},
	}
	sorted := append([]KeycardTransferEvent(nil), transfers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	for _, t := range sorted {
		if !zone.IsSameLocalDate(t.Timestamp, dateStr) {
			continue
		}
		switch t.Direction {
		case ToSafe:
			out.ToSafe.Rows = append(out.ToSafe.Rows, t)
			out.ToSafe.Total = out.ToSafe.Total.Add(t.Count)
		case FromSafe:
			out.FromSafe.Rows = append(out.FromSafe.Rows, t)
			out.FromSafe.Total = out.FromSafe.Total.Add(t.Count)
		}
	}
	return out
}
