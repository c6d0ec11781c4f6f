package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func nd(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(v)) }

func TestEvents_RoundTrip(t *testing.T) {
	// GIVEN: One event per stream with optional fields set and unset
	s := newStore(t)
	ctx := context.Background()

	cash := recon.CashCountEvent{
		ID: "c1", User: "anna", Timestamp: base, Type: recon.CashClose,
		Count: recon.Some(decimal.RequireFromString("70.25")), KeycardCount: nd(5), Difference: nd(-3),
		ShiftID: "shift-1", SignedOffBy: "maria", SignoffNote: "coins miscounted",
	}
	safe := recon.SafeCountEvent{
		ID: "s1", User: "anna", Timestamp: base, Type: recon.SafeExchange,
		Amount: nd(20), Direction: recon.DrawerToSafe,
	}
	transfer := recon.KeycardTransferEvent{ID: "k1", User: "bob", Timestamp: base, Count: decimal.NewFromInt(3), Direction: recon.FromSafe}
	tx := recon.TillTransaction{
		ID: "t1", User: "anna", Timestamp: base, Amount: decimal.RequireFromString("12.5"),
		Method: recon.MethodCard, Kind: recon.KindLoan, IsKeycard: true, Count: decimal.NewFromInt(2),
	}

	// WHEN: Writing and reading back
	require.NoError(t, s.AppendCashCount(ctx, cash))
	require.NoError(t, s.AppendSafeCount(ctx, safe))
	require.NoError(t, s.AppendKeycardTransfer(ctx, transfer))
	require.NoError(t, s.AppendTransaction(ctx, tx))

	// THEN: Each stream returns its own event unchanged
	gotCash, err := s.CashCounts(ctx)
	require.NoError(t, err)
	require.Len(t, gotCash, 1)
	c := gotCash[0]
	assert.Equal(t, "shift-1", c.ShiftID)
	assert.Equal(t, "maria", c.SignedOffBy)
	assert.True(t, c.Timestamp.Equal(base))
	assert.True(t, decimal.RequireFromString("70.25").Equal(c.Count.Decimal))
	assert.False(t, c.Amount.Valid, "unset optional stays unset")

	gotSafe, err := s.SafeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, gotSafe, 1)
	assert.Equal(t, recon.DrawerToSafe, gotSafe[0].Direction)
	assert.False(t, gotSafe[0].Count.Valid)

	gotTransfers, err := s.KeycardTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, gotTransfers, 1)
	assert.Equal(t, recon.FromSafe, gotTransfers[0].Direction)
	assert.True(t, decimal.NewFromInt(3).Equal(gotTransfers[0].Count))

	gotTxs, err := s.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, gotTxs, 1)
	assert.True(t, gotTxs[0].IsKeycard)
	assert.Equal(t, recon.KindLoan, gotTxs[0].Kind)
	assert.True(t, decimal.RequireFromString("12.5").Equal(gotTxs[0].Amount))
}

func TestEvents_ChronologicalWithStableTies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "b", User: "u", Timestamp: base.Add(time.Hour)}))
	require.NoError(t, s.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "a", User: "u", Timestamp: base}))
	require.NoError(t, s.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "c", User: "u", Timestamp: base}))

	got, err := s.SafeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

	inRange, err := s.SafeCountsInRange(ctx, base, base)
	require.NoError(t, err)
	assert.Len(t, inRange, 2, "bounds are inclusive")
}

func TestEvents_DuplicateIDAcrossStreams(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendCashCount(ctx, recon.CashCountEvent{ID: "x", User: "u", Timestamp: base}))
	err := s.AppendTransaction(ctx, recon.TillTransaction{ID: "x", User: "u", Timestamp: base})

	assert.ErrorIs(t, err, recon.ErrDuplicateEvent)
}

func TestWithTx_RollsBackAndSeesOwnWrites(t *testing.T) {
	// GIVEN: A transaction that writes, reads its own write, then fails
	s := newStore(t)
	ctx := context.Background()

	var seen int
	err := s.WithTx(ctx, func(tx recon.Store) error {
		if err := tx.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "s1", User: "u", Timestamp: base}); err != nil {
			return err
		}
		events, err := tx.SafeCounts(ctx)
		if err != nil {
			return err
		}
		seen = len(events)
		return errors.New("boom")
	})

	// THEN: The write was visible inside and is gone outside
	require.Error(t, err)
	assert.Equal(t, 1, seen)
	events, err := s.SafeCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAudit_RangeFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	day := base.Truncate(24 * time.Hour)
	last := day.Add(24*time.Hour - time.Millisecond)

	require.NoError(t, s.PostCashDiscrepancy(ctx, recon.Discrepancy{User: "anna", Timestamp: base, Amount: decimal.NewFromInt(-5)}))
	require.NoError(t, s.PostCashDiscrepancy(ctx, recon.Discrepancy{User: "anna", Timestamp: base.AddDate(0, 0, 1), Amount: decimal.NewFromInt(2)}))
	require.NoError(t, s.PostKeycardDiscrepancy(ctx, recon.Discrepancy{User: "bob", Timestamp: base, Amount: decimal.NewFromInt(-1)}))
	require.NoError(t, s.PostIrregularity(ctx, recon.Irregularity{Action: "close", MissingCount: 2, Timestamp: base, User: "anna"}))
	require.NoError(t, s.PostDrawerAlert(ctx, recon.DrawerAlert{
		User: "anna", Timestamp: base, ExpectedCash: decimal.NewFromInt(610), Limit: decimal.NewFromInt(500), ShiftID: "shift-1",
	}))

	cash, err := s.CashDiscrepancies(ctx, day, last)
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.True(t, decimal.NewFromInt(-5).Equal(cash[0].Amount))

	keys, err := s.KeycardDiscrepancies(ctx, day, last)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "bob", keys[0].User)

	irr, err := s.Irregularities(ctx, day, last)
	require.NoError(t, err)
	require.Len(t, irr, 1)
	assert.Equal(t, 2, irr[0].MissingCount)

	alerts, err := s.DrawerAlerts(ctx, day, last)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, decimal.NewFromInt(500).Equal(alerts[0].Limit))
}

func TestSettings_SeedDoesNotOverwrite(t *testing.T) {
	// GIVEN: No stored settings
	s := newStore(t)
	ctx := context.Background()

	got, err := s.TillSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.DrawerLimit.IsZero())

	// WHEN: Seeding, then saving, then seeding again
	require.NoError(t, s.SeedTillSettings(ctx, recon.TillSettings{DrawerLimit: decimal.NewFromInt(500)}))
	require.NoError(t, s.SaveTillSettings(ctx, recon.TillSettings{DrawerLimit: decimal.NewFromInt(300), PinRequiredAboveLimit: true}))
	require.NoError(t, s.SeedTillSettings(ctx, recon.TillSettings{DrawerLimit: decimal.NewFromInt(900)}))

	// THEN: The saved value wins
	got, err = s.TillSettings(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(got.DrawerLimit))
	assert.True(t, got.PinRequiredAboveLimit)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendCashCount(ctx, recon.CashCountEvent{ID: "c1", User: "u", Timestamp: base}))

	require.NoError(t, s.Reset(ctx))

	cash, err := s.CashCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, cash)
}
