/*
builder.go - End-of-day report assembly

PURPOSE:
  Builds the full end-of-day picture for one local day: sales by method,
  the safe's category tables, keycard flows, discrepancies, and the three
  variances (cash, keycards, safe).

FLOW:
  1. ResolveSafeWindow bounds the safe history (doubling lookback).
     A failed probe aborts the build; no partial report is returned.
  2. Load the safe events inside that window and the full till streams.
  3. Bucket everything by local day and run the recon calculators.

KEYCARD FLOWS:
  The keycard in/outflow totals are the safe category keycards plus the
  day's keycard transfers (toSafe in, fromSafe out). Exchange keycards
  are already part of the category totals and are not added again.

SEE ALSO:
  - recon/window.go: the lookback search
  - export.go: xlsx rendering of an EndOfDay
*/
package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/till-engine/recon"
)

// Sources is what a report reads.
type Sources interface {
	recon.EventStore
	recon.AuditSource
}

type Options struct {
	InitialLookbackDays int
	MaxLookbackDays     int
	Logger              *zap.Logger
}

type Builder struct {
	src  Sources
	zone recon.Zone
	opts Options
	log  *zap.Logger
}

func NewBuilder(src Sources, zone recon.Zone, opts Options) *Builder {
	if opts.InitialLookbackDays <= 0 {
		opts.InitialLookbackDays = recon.DefaultInitialLookbackDays
	}
	if opts.MaxLookbackDays <= 0 {
		opts.MaxLookbackDays = recon.DefaultMaxLookbackDays
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Builder{src: src, zone: zone, opts: opts, log: opts.Logger.Named("report")}
}

// =============================================================================
// REPORT SHAPE
// =============================================================================

// SafeTable is one safe category: its rows and their total.
type SafeTable struct {
	Rows     []recon.SafeCountEvent `json:"rows"`
	Total    decimal.Decimal        `json:"total"`
	Keycards decimal.Decimal        `json:"keycards"`
}

type TransferTable struct {
	Rows  []recon.KeycardTransferEvent `json:"rows"`
	Total decimal.Decimal              `json:"total"`
}

type EndOfDay struct {
	Date   string           `json:"date"`
	Window recon.SafeWindow `json:"-"`

	Totals recon.MethodTotals `json:"totals"`

	BankDrops             SafeTable `json:"bankDrops"`
	BankWithdrawals       SafeTable `json:"bankWithdrawals"`
	Deposits              SafeTable `json:"deposits"`
	Withdrawals           SafeTable `json:"withdrawals"`
	PettyWithdrawals      SafeTable `json:"pettyWithdrawals"`
	DrawerToSafeExchanges SafeTable `json:"drawerToSafeExchanges"`
	SafeToDrawerExchanges SafeTable `json:"safeToDrawerExchanges"`

	SafeReconciles  []recon.SafeCountEvent `json:"safeReconciles"`
	SafeResets      []recon.SafeCountEvent `json:"safeResets"`
	ReconcilesTotal decimal.Decimal        `json:"reconcilesTotal"`

	SafeInflowsTotal         decimal.Decimal `json:"safeInflowsTotal"`
	SafeOutflowsTotal        decimal.Decimal `json:"safeOutflowsTotal"`
	SafeKeycardInflowsTotal  decimal.Decimal `json:"safeKeycardInflowsTotal"`
	SafeKeycardOutflowsTotal decimal.Decimal `json:"safeKeycardOutflowsTotal"`

	KeycardTransfersToSafe   TransferTable `json:"keycardTransfersToSafe"`
	KeycardTransfersFromSafe TransferTable `json:"keycardTransfersFromSafe"`

	Irregularities          []recon.Irregularity       `json:"irregularities"`
	DiscrepancySummary      map[string]decimal.Decimal `json:"discrepancySummary"`
	KeycardDiscrepancies    []recon.Discrepancy        `json:"keycardDiscrepancies"`
	KeycardDiscrepancyTotal decimal.Decimal            `json:"keycardDiscrepancyTotal"`

	OpeningCash        decimal.Decimal    `json:"openingCash"`
	ClosingCash        decimal.Decimal    `json:"closingCash"`
	FloatTotal         decimal.Decimal    `json:"floatTotal"`
	TenderRemovalTotal decimal.Decimal    `json:"tenderRemovalTotal"`
	Cash               recon.CashVariance `json:"cash"`

	OpeningKeycards            decimal.Decimal       `json:"openingKeycards"`
	ClosingKeycards            decimal.Decimal       `json:"closingKeycards"`
	KeycardsLoaned             decimal.Decimal       `json:"keycardsLoaned"`
	KeycardsReturned           decimal.Decimal       `json:"keycardsReturned"`
	KeycardReconcileAdjustment decimal.Decimal       `json:"keycardReconcileAdjustment"`
	Keycards                   recon.KeycardVariance `json:"keycards"`

	BeginningSafeBalance decimal.Decimal    `json:"beginningSafeBalance"`
	EndingSafeBalance    decimal.Decimal    `json:"endingSafeBalance"`
	Safe                 recon.SafeVariance `json:"safe"`
}

// Mismatches lists the variance checks that failed, by name.
func (r *EndOfDay) Mismatches() []string {
	var out []string
	if r.Cash.Mismatch {
		out = append(out, "cash")
	}
	if r.Keycards.Mismatch {
		out = append(out, "keycards")
	}
	if r.Safe.SafeVarianceMismatch {
		out = append(out, "safe")
	}
	if r.Safe.SafeInflowsMismatch {
		out = append(out, "safeInflows")
	}
	return out
}

func table(rows []recon.SafeCountEvent, t recon.CategoryTotal) SafeTable {
	return SafeTable{Rows: rows, Total: t.Amount, Keycards: t.Keycards}
}

// =============================================================================
// BUILD
// =============================================================================

// Build assembles the report for the local day date with the configured
// initial lookback.
func (b *Builder) Build(ctx context.Context, date string) (*EndOfDay, error) {
	return b.BuildWithLookback(ctx, date, b.opts.InitialLookbackDays)
}

// BuildWithLookback starts the window search at initialDays.
func (b *Builder) BuildWithLookback(ctx context.Context, date string, initialDays int) (*EndOfDay, error) {
	day, err := b.zone.Day(date)
	if err != nil {
		return nil, err
	}

	window, err := recon.ResolveSafeWindow(ctx, b.src, b.zone, date, initialDays, b.opts.MaxLookbackDays)
	if err != nil {
		b.log.Warn("safe window search failed", zap.String("date", date), zap.Error(err))
		return nil, err
	}

	safe, err := b.src.SafeCountsInRange(ctx, window.From, window.To)
	if err != nil {
		return nil, upstream("safe counts", err)
	}
	cash, err := b.src.CashCounts(ctx)
	if err != nil {
		return nil, upstream("cash counts", err)
	}
	txs, err := b.src.Transactions(ctx)
	if err != nil {
		return nil, upstream("transactions", err)
	}
	transfers, err := b.src.KeycardTransfers(ctx)
	if err != nil {
		return nil, upstream("keycard transfers", err)
	}
	cashDisc, err := b.src.CashDiscrepancies(ctx, day.Start, day.Last)
	if err != nil {
		return nil, upstream("cash discrepancies", err)
	}
	keyDisc, err := b.src.KeycardDiscrepancies(ctx, day.Start, day.Last)
	if err != nil {
		return nil, upstream("keycard discrepancies", err)
	}
	irregularities, err := b.src.Irregularities(ctx, day.Start, day.Last)
	if err != nil {
		return nil, upstream("irregularities", err)
	}

	r := Assemble(b.zone, day, Input{
		Safe:                 safe,
		Cash:                 cash,
		Transactions:         txs,
		Transfers:            transfers,
		CashDiscrepancies:    cashDisc,
		KeycardDiscrepancies: keyDisc,
		Irregularities:       irregularities,
	})
	r.Window = window

	b.log.Info("end of day built",
		zap.String("date", date),
		zap.Int("lookback_days", window.LookbackDays),
		zap.Int("safe_events", len(safe)),
		zap.Strings("mismatches", r.Mismatches()))
	return r, nil
}

func upstream(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", recon.ErrQueryFailed, what, err)
}

// Input is the raw material for one day.
type Input struct {
	Safe                 []recon.SafeCountEvent
	Cash                 []recon.CashCountEvent
	Transactions         []recon.TillTransaction
	Transfers            []recon.KeycardTransferEvent
	CashDiscrepancies    []recon.Discrepancy
	KeycardDiscrepancies []recon.Discrepancy
	Irregularities       []recon.Irregularity
}

// Assemble computes the report from already-loaded streams. Pure.
func Assemble(zone recon.Zone, day recon.DayWindow, in Input) *EndOfDay {
	span := recon.SpanOf(day)
	r := &EndOfDay{Date: day.Date}

	r.Totals = recon.TotalsByMethod(in.Transactions, span)

	// Safe categories
	p := recon.PartitionSafeCounts(zone, in.Safe, day.Date)
	totals := recon.CalculateSafeTotals(p)
	r.BankDrops = table(p.BankDrops, totals.BankDrops)
	r.BankWithdrawals = table(p.BankWithdrawals, totals.BankWithdrawals)
	r.Deposits = table(p.Deposits, totals.Deposits)
	r.Withdrawals = table(p.Withdrawals, totals.Withdrawals)
	r.PettyWithdrawals = table(p.PettyWithdrawals, totals.PettyWithdrawals)
	r.DrawerToSafeExchanges = table(p.DrawerToSafeExchanges, totals.DrawerToSafeExchanges)
	r.SafeToDrawerExchanges = table(p.SafeToDrawerExchanges, totals.SafeToDrawerExchanges)
	r.SafeReconciles = p.SafeReconciles
	r.SafeResets = recon.SafeEventsOn(zone, in.Safe, recon.SafeReset, day.Date)
	r.ReconcilesTotal = totals.ReconcilesTotal
	r.SafeInflowsTotal = totals.SafeInflowsTotal
	r.SafeOutflowsTotal = totals.SafeOutflowsTotal

	// Keycard transfers fold into the keycard flows
	kt := recon.KeycardTransfers(zone, in.Transfers, day.Date)
	r.KeycardTransfersToSafe = TransferTable{Rows: kt.ToSafe.Rows, Total: kt.ToSafe.Total}
	r.KeycardTransfersFromSafe = TransferTable{Rows: kt.FromSafe.Rows, Total: kt.FromSafe.Total}
	r.SafeKeycardInflowsTotal = totals.SafeKeycardInflowsTotal.Add(kt.ToSafe.Total)
	r.SafeKeycardOutflowsTotal = totals.SafeKeycardOutflowsTotal.Add(kt.FromSafe.Total)

	// Audit records
	for _, i := range in.Irregularities {
		if span.Contains(i.Timestamp) {
			r.Irregularities = append(r.Irregularities, i)
		}
	}
	r.DiscrepancySummary = map[string]decimal.Decimal{}
	for _, d := range in.CashDiscrepancies {
		if span.Contains(d.Timestamp) {
			r.DiscrepancySummary[d.User] = r.DiscrepancySummary[d.User].Add(d.Amount)
		}
	}
	r.KeycardDiscrepancyTotal = decimal.Zero
	for _, d := range in.KeycardDiscrepancies {
		if span.Contains(d.Timestamp) {
			r.KeycardDiscrepancies = append(r.KeycardDiscrepancies, d)
			r.KeycardDiscrepancyTotal = r.KeycardDiscrepancyTotal.Add(d.Amount)
		}
	}

	// Till cash
	r.OpeningCash, r.ClosingCash = decimal.Zero, decimal.Zero
	tillOpenKeys, tillCloseKeys := decimal.Zero, decimal.Zero
	seenOpenCash, seenOpenKeys := false, false
	for _, c := range recon.SortCashCounts(in.Cash) {
		if !span.Contains(c.Timestamp) {
			continue
		}
		switch c.Type {
		case recon.CashOpening:
			if c.Count.Valid && !seenOpenCash {
				r.OpeningCash, seenOpenCash = c.Count.Decimal, true
			}
			if c.KeycardCount.Valid && !seenOpenKeys {
				tillOpenKeys, seenOpenKeys = c.KeycardCount.Decimal, true
			}
		case recon.CashClose:
			if c.Count.Valid {
				r.ClosingCash = c.Count.Decimal
			}
			if c.KeycardCount.Valid {
				tillCloseKeys = c.KeycardCount.Decimal
			}
		}
	}
	r.FloatTotal, r.TenderRemovalTotal = recon.CashMovements(in.Cash, span)

	r.Cash = recon.CalculateCashVariance(recon.CashVarianceInput{
		OpeningCash:                r.OpeningCash,
		SalesCashTotal:             r.Totals.Cash,
		FloatTotal:                 r.FloatTotal,
		TenderRemovalTotal:         r.TenderRemovalTotal,
		ClosingCash:                r.ClosingCash,
		DrawerToSafeExchangesTotal: totals.DrawerToSafeExchanges.Amount,
		SafeToDrawerExchangesTotal: totals.SafeToDrawerExchanges.Amount,
	})

	// Keycards: till plus safe baselines on the day
	safeOpenKeys, safeCloseKeys := decimal.Zero, decimal.Zero
	seenSafeKeys := false
	for _, e := range recon.SortSafeCounts(in.Safe) {
		if !span.Contains(e.Timestamp) || !e.Type.IsBaseline() || !e.KeycardCount.Valid {
			continue
		}
		if !seenSafeKeys {
			safeOpenKeys, seenSafeKeys = e.KeycardCount.Decimal, true
		}
		safeCloseKeys = e.KeycardCount.Decimal
	}
	r.OpeningKeycards = tillOpenKeys.Add(safeOpenKeys)
	r.ClosingKeycards = tillCloseKeys.Add(safeCloseKeys)
	r.KeycardsLoaned, r.KeycardsReturned = recon.KeycardMovements(in.Transactions, span)
	r.KeycardReconcileAdjustment = recon.KeycardReconcileAdjustment(r.SafeReconciles, r.SafeResets)

	r.Keycards = recon.CalculateKeycardVariance(recon.KeycardVarianceInput{
		OpeningKeycards:            r.OpeningKeycards,
		SafeKeycardInflowsTotal:    r.SafeKeycardInflowsTotal,
		SafeKeycardOutflowsTotal:   r.SafeKeycardOutflowsTotal,
		KeycardsLoaned:             r.KeycardsLoaned,
		KeycardsReturned:           r.KeycardsReturned,
		KeycardReconcileAdjustment: r.KeycardReconcileAdjustment,
		ClosingKeycards:            r.ClosingKeycards,
	})

	// Safe balance
	r.BeginningSafeBalance = recon.BeginningSafeBalance(zone, in.Safe, day)
	r.EndingSafeBalance = recon.SafeBalanceAt(in.Safe, day.Last)
	r.Safe = recon.CalculateSafeVariance(recon.SafeVarianceInput{
		BeginningSafeBalance:       r.BeginningSafeBalance,
		EndingSafeBalance:          r.EndingSafeBalance,
		SafeInflowsTotal:           r.SafeInflowsTotal,
		SafeOutflowsTotal:          r.SafeOutflowsTotal,
		DepositsTotal:              totals.Deposits.Amount,
		TenderRemovalTotal:         r.TenderRemovalTotal,
		DrawerToSafeExchangesTotal: totals.DrawerToSafeExchanges.Amount,
		SafeToDrawerExchangesTotal: totals.SafeToDrawerExchanges.Amount,
	})
	return r
}
