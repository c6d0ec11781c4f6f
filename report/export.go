package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// XLSX EXPORT
// =============================================================================

const (
	SheetSummary        = "Summary"
	SheetSafe           = "Safe"
	SheetTransfers      = "Keycard Transfers"
	SheetDiscrepancies  = "Discrepancies"
	SheetIrregularities = "Irregularities"
)

var safeHeader = []any{"Category", "Time", "User", "Amount", "Keycards", "Difference", "Keycard Difference"}

// Export writes eod as an xlsx workbook: a Summary sheet, one Safe sheet
// with a Category column, then the keycard transfer, discrepancy and
// irregularity sheets.
func Export(w io.Writer, eod *EndOfDay) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeRows(f, SheetSummary, summaryRows(eod)); err != nil {
		return err
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{SheetSafe, safeRows(eod)},
		{SheetTransfers, transferRows(eod)},
		{SheetDiscrepancies, discrepancyRows(eod)},
		{SheetIrregularities, irregularityRows(eod)},
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("create sheet %s: %w", s.name, err)
		}
		if err := writeRows(f, s.name, s.rows); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// Money cells are written as float64 so spreadsheets can sum them.
func num(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func summaryRows(r *EndOfDay) [][]any {
	yes := func(b bool) string {
		if b {
			return "MISMATCH"
		}
		return "ok"
	}
	return [][]any{
		{"End of day", r.Date},
		{},
		{"Sales"},
		{"Cash", num(r.Totals.Cash)},
		{"Card", num(r.Totals.Card)},
		{"Other", num(r.Totals.Other)},
		{"Total", num(r.Totals.Total())},
		{},
		{"Till cash"},
		{"Opening cash", num(r.OpeningCash)},
		{"Floats", num(r.FloatTotal)},
		{"Tender removals", num(r.TenderRemovalTotal)},
		{"Net drawer to safe", num(r.Cash.NetDrawerToSafe)},
		{"Expected cash", num(r.Cash.ExpectedCash)},
		{"Closing cash", num(r.ClosingCash)},
		{"Cash variance", num(r.Cash.Variance), yes(r.Cash.Mismatch)},
		{},
		{"Keycards"},
		{"Opening keycards", num(r.OpeningKeycards)},
		{"Safe keycard inflows", num(r.SafeKeycardInflowsTotal)},
		{"Safe keycard outflows", num(r.SafeKeycardOutflowsTotal)},
		{"Loaned", num(r.KeycardsLoaned)},
		{"Returned", num(r.KeycardsReturned)},
		{"Reconcile adjustment", num(r.KeycardReconcileAdjustment)},
		{"Expected keycards", num(r.Keycards.ExpectedKeycards)},
		{"Closing keycards", num(r.ClosingKeycards)},
		{"Keycard variance", num(r.Keycards.KeycardVariance), yes(r.Keycards.Mismatch)},
		{},
		{"Safe"},
		{"Beginning balance", num(r.BeginningSafeBalance)},
		{"Inflows", num(r.SafeInflowsTotal)},
		{"Outflows", num(r.SafeOutflowsTotal)},
		{"Ending balance", num(r.EndingSafeBalance)},
		{"Safe variance", num(r.Safe.SafeVariance)},
		{"Expected safe variance", num(r.Safe.ExpectedSafeVariance), yes(r.Safe.SafeVarianceMismatch)},
		{"Drawer inflows", num(r.Safe.DrawerInflows), yes(r.Safe.SafeInflowsMismatch)},
		{"Reconciles total", num(r.ReconcilesTotal)},
		{},
		{"Window", r.Window.From.Format(recon.DateLayout), r.Window.To.Format(recon.DateLayout), r.Window.LookbackDays},
	}
}

func safeRows(r *EndOfDay) [][]any {
	rows := [][]any{safeHeader}
	add := func(category string, events []recon.SafeCountEvent) {
		for _, e := range events {
			rows = append(rows, []any{
				category,
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.User,
				num(recon.Or(e.Amount)),
				num(recon.Or(e.KeycardCount)),
				num(recon.Or(e.Difference)),
				num(recon.Or(e.KeycardDifference)),
			})
		}
	}
	add("Bank drop", r.BankDrops.Rows)
	add("Bank withdrawal", r.BankWithdrawals.Rows)
	add("Deposit", r.Deposits.Rows)
	add("Withdrawal", r.Withdrawals.Rows)
	add("Petty withdrawal", r.PettyWithdrawals.Rows)
	add("Drawer to safe", r.DrawerToSafeExchanges.Rows)
	add("Safe to drawer", r.SafeToDrawerExchanges.Rows)
	add("Reconcile", r.SafeReconciles)
	add("Reset", r.SafeResets)
	return rows
}

func transferRows(r *EndOfDay) [][]any {
	rows := [][]any{{"Direction", "Time", "User", "Count"}}
	add := func(t TransferTable) {
		for _, e := range t.Rows {
			rows = append(rows, []any{string(e.Direction), e.Timestamp.Format("2006-01-02 15:04:05"), e.User, num(e.Count)})
		}
	}
	add(r.KeycardTransfersToSafe)
	add(r.KeycardTransfersFromSafe)
	return rows
}

func discrepancyRows(r *EndOfDay) [][]any {
	rows := [][]any{{"Kind", "User", "Time", "Amount"}}

	users := make([]string, 0, len(r.DiscrepancySummary))
	for u := range r.DiscrepancySummary {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		rows = append(rows, []any{"cash", u, "", num(r.DiscrepancySummary[u])})
	}
	for _, d := range r.KeycardDiscrepancies {
		rows = append(rows, []any{"keycard", d.User, d.Timestamp.Format("2006-01-02 15:04:05"), num(d.Amount)})
	}
	return rows
}

func irregularityRows(r *EndOfDay) [][]any {
	rows := [][]any{{"Time", "User", "Action", "Missing receipts"}}
	for _, i := range r.Irregularities {
		rows = append(rows, []any{i.Timestamp.Format("2006-01-02 15:04:05"), i.User, i.Action, i.MissingCount})
	}
	return rows
}
