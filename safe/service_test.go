package safe_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/recon/store"
	"github.com/warp/till-engine/safe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*safe.Service, *store.Memory, *time.Time) {
	t.Helper()
	mem := store.NewMemory()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	n := 0
	svc := safe.NewService(mem, safe.Config{
		Clock: func() time.Time { now = now.Add(time.Minute); return now },
		NewID: func() string { n++; return fmt.Sprintf("id-%d", n) },
	})
	return svc, mem, &now
}

func TestDeposit_WritesTillTenderRemoval(t *testing.T) {
	// GIVEN: An empty store
	svc, mem, _ := newService(t)
	ctx := context.Background()

	// WHEN: Depositing 80 from the drawer
	e, err := svc.Record(ctx, safe.OpDeposit, safe.Request{User: "anna", Amount: d("80"), ShiftID: "s-1"})

	// THEN: Both sides are recorded
	require.NoError(t, err)
	assert.Equal(t, recon.SafeDeposit, e.Type)

	cash, _ := mem.CashCounts(ctx)
	require.Len(t, cash, 1)
	assert.Equal(t, recon.CashTenderRemoval, cash[0].Type)
	assert.True(t, d("80").Equal(cash[0].Amount.Decimal))
	assert.Equal(t, "s-1", cash[0].ShiftID)
}

func TestExchange_CounterpartFollowsDirection(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Exchange(ctx, safe.Request{User: "anna", Amount: d("20"), Direction: recon.DrawerToSafe})
	require.NoError(t, err)
	_, err = svc.Exchange(ctx, safe.Request{User: "anna", Amount: d("5"), Direction: recon.SafeToDrawer})
	require.NoError(t, err)

	cash, _ := mem.CashCounts(ctx)
	require.Len(t, cash, 2)
	assert.Equal(t, recon.CashTenderRemoval, cash[0].Type)
	assert.Equal(t, recon.CashFloat, cash[1].Type)

	_, err = svc.Exchange(ctx, safe.Request{User: "anna", Amount: d("5"), Direction: "sideways"})
	assert.ErrorIs(t, err, recon.ErrInvalidEvent)
}

func TestPairedWriteIsAtomic(t *testing.T) {
	// GIVEN: The till-side id collides with an existing event
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.AppendCashCount(ctx, recon.CashCountEvent{ID: "taken"}))

	ids := []string{"safe-1", "taken"}
	svc := safe.NewService(mem, safe.Config{NewID: func() string { id := ids[0]; ids = ids[1:]; return id }})

	// WHEN: Recording a withdrawal
	_, err := svc.Withdrawal(ctx, safe.Request{User: "anna", Amount: d("10")})

	// THEN: The safe event is rolled back with the failed float
	assert.ErrorIs(t, err, recon.ErrDuplicateEvent)
	events, _ := mem.SafeCounts(ctx)
	assert.Empty(t, events)
}

func TestReconcile_DifferenceAgainstReplay(t *testing.T) {
	svc, _, now := newService(t)
	ctx := context.Background()

	_, err := svc.Opening(ctx, safe.Request{User: "anna", Amount: d("500"), Keycards: d("30")})
	require.NoError(t, err)
	_, err = svc.BankWithdrawal(ctx, safe.Request{User: "anna", Amount: d("100")})
	require.NoError(t, err)
	_, err = svc.PettyWithdrawal(ctx, safe.Request{User: "anna", Amount: d("15")})
	require.NoError(t, err)

	e, err := svc.Reconcile(ctx, safe.Request{User: "anna", Amount: d("580"), Keycards: d("29")})
	require.NoError(t, err)
	assert.True(t, d("-5").Equal(e.Difference.Decimal), "difference %s", e.Difference.Decimal)
	assert.True(t, d("-1").Equal(e.KeycardDifference.Decimal))

	pos, err := svc.Balance(ctx, *now)
	require.NoError(t, err)
	assert.True(t, d("580").Equal(pos.Balance))
	assert.True(t, d("29").Equal(pos.Keycards))
}

func TestValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, safe.OpDeposit, safe.Request{Amount: d("10")})
	assert.ErrorIs(t, err, recon.ErrUnauthenticated)

	_, err = svc.Record(ctx, safe.OpBankDeposit, safe.Request{User: "anna", Amount: d("0")})
	assert.ErrorIs(t, err, recon.ErrInvalidAmount)

	_, err = svc.Record(ctx, "teleport", safe.Request{User: "anna", Amount: d("1")})
	assert.True(t, recon.IsValidation(err))
}

func TestTransferKeycards(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, safe.OpKeycardsToSafe, safe.Request{User: "anna", Keycards: d("3")})
	require.NoError(t, err)

	transfers, _ := mem.KeycardTransfers(ctx)
	require.Len(t, transfers, 1)
	assert.Equal(t, recon.ToSafe, transfers[0].Direction)
}

func TestOperationValid(t *testing.T) {
	assert.True(t, safe.OpBankDeposit.Valid())
	assert.True(t, safe.OpKeycardsFromSafe.Valid())
	assert.False(t, safe.Operation("borrow").Valid())
	assert.False(t, safe.Operation("").Valid())
}
