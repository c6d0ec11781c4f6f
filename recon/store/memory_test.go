package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/recon/store"
)

func TestMemory_AppendKeepsChronologicalOrder(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "b", Timestamp: base.Add(time.Hour)}))
	require.NoError(t, m.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "a", Timestamp: base}))
	require.NoError(t, m.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "c", Timestamp: base}))

	got, err := m.SafeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

	inRange, err := m.SafeCountsInRange(ctx, base, base)
	require.NoError(t, err)
	assert.Len(t, inRange, 2)
}

func TestMemory_DuplicateIDRejected(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendCashCount(ctx, recon.CashCountEvent{ID: "x"}))
	err := m.AppendTransaction(ctx, recon.TillTransaction{ID: "x"})
	assert.ErrorIs(t, err, recon.ErrDuplicateEvent)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes two events and then fails
	m := store.NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(s recon.Store) error {
		if err := s.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "s1"}); err != nil {
			return err
		}
		if err := s.AppendCashCount(ctx, recon.CashCountEvent{ID: "c1"}); err != nil {
			return err
		}
		return errors.New("boom")
	})

	// THEN: Neither write survives, and the ids are free again
	require.Error(t, err)
	safe, _ := m.SafeCounts(ctx)
	cash, _ := m.CashCounts(ctx)
	assert.Empty(t, safe)
	assert.Empty(t, cash)
	assert.NoError(t, m.AppendSafeCount(ctx, recon.SafeCountEvent{ID: "s1"}))
}

func TestMemory_Settings(t *testing.T) {
	m := store.NewMemoryWithSettings(recon.TillSettings{DrawerLimit: decimal.NewFromInt(500)})
	ctx := context.Background()

	s, err := m.TillSettings(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(s.DrawerLimit))

	require.NoError(t, m.SaveTillSettings(ctx, recon.TillSettings{DrawerLimit: decimal.NewFromInt(300), PinRequiredAboveLimit: true}))
	s, _ = m.TillSettings(ctx)
	assert.True(t, s.PinRequiredAboveLimit)
}
