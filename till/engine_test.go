package till_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/recon/store"
	"github.com/warp/till-engine/till"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

type fixture struct {
	engine *till.Engine
	mem    *store.Memory
	clock  *clock
	ctx    context.Context
}

func newFixture(t *testing.T, settings recon.TillSettings, cfg till.Config) *fixture {
	t.Helper()
	mem := store.NewMemoryWithSettings(settings)
	return newFixtureWithStore(t, mem, mem, cfg)
}

func newFixtureWithStore(t *testing.T, mem *store.Memory, s recon.Store, cfg till.Config) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
	n := 0
	cfg.Clock = clk.Now
	cfg.NewID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return &fixture{engine: till.NewEngine(s, cfg), mem: mem, clock: clk, ctx: context.Background()}
}

func (f *fixture) open(t *testing.T, user, cash, keycards string) till.Session {
	t.Helper()
	sess, _, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: user, Cash: d(cash), Keycards: d(keycards)})
	require.NoError(t, err)
	return sess
}

func (f *fixture) sale(t *testing.T, method recon.PaymentMethod, amount string) {
	t.Helper()
	f.clock.Advance(time.Minute)
	require.NoError(t, f.mem.AppendTransaction(f.ctx, recon.TillTransaction{
		ID: fmt.Sprintf("tx-%d", f.clock.t.Unix()), User: "anna", Timestamp: f.clock.t,
		Amount: d(amount), Method: method, Kind: recon.KindSale,
	}))
}

func (f *fixture) discrepancies(t *testing.T) (cash, keycards []recon.Discrepancy) {
	t.Helper()
	from, to := time.Time{}, f.clock.t.Add(time.Hour)
	cash, err := f.mem.CashDiscrepancies(f.ctx, from, to)
	require.NoError(t, err)
	keycards, err = f.mem.KeycardDiscrepancies(f.ctx, from, to)
	require.NoError(t, err)
	return cash, keycards
}

// =============================================================================
// OPEN
// =============================================================================

func TestOpen_PostsDifferenceAgainstLastClose(t *testing.T) {
	// GIVEN: The last shift closed with 100 and 10 keycards
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "100", "10")
	f.clock.Advance(time.Hour)
	_, _, err := f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("100"), Keycards: d("10")})
	require.NoError(t, err)

	// WHEN: Bob opens with 95 and 11 keycards
	f.clock.Advance(time.Hour)
	sess, res, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: "bob", Cash: d("95"), Keycards: d("11")})

	// THEN: Differences -5 and +1 are posted
	require.NoError(t, err)
	eq(t, "-5", res.Difference)
	eq(t, "1", res.KeycardDifference)
	assert.Equal(t, "bob", sess.Owner)
	assert.True(t, sess.IsOpen())

	cash, keycards := f.discrepancies(t)
	require.Len(t, cash, 2) // the first open from zero, then -5
	eq(t, "-5", cash[1].Amount)
	require.Len(t, keycards, 2)
	eq(t, "1", keycards[1].Amount)
}

func TestOpen_Unauthenticated(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	_, _, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{Cash: d("100")})
	assert.ErrorIs(t, err, recon.ErrUnauthenticated)
	assert.True(t, recon.IsValidation(err))
}

func TestOpen_RejectedWhenAnotherUserHoldsTheTill(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	f.open(t, "anna", "100", "0")

	_, _, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: "bob", Cash: d("100")})
	assert.ErrorIs(t, err, recon.ErrShiftOwnedByOther)

	cash, _ := f.mem.CashCounts(f.ctx)
	assert.Len(t, cash, 1, "nothing written")
}

func TestOpen_SameOwner(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "100", "0")

	// Session still open: rejected
	_, _, err := f.engine.Open(f.ctx, sess, till.OpenRequest{User: "anna", Cash: d("100")})
	assert.ErrorIs(t, err, recon.ErrShiftAlreadyOpen)

	// Session lost (stale close): allowed
	f.clock.Advance(time.Minute)
	sess2, _, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: "anna", Cash: d("100")})
	require.NoError(t, err)
	assert.NotEqual(t, sess.ShiftID, sess2.ShiftID)
}

// =============================================================================
// CLOSE
// =============================================================================

func TestClose_EndToEndNoVariance(t *testing.T) {
	// GIVEN: opening 100, cash sale 50, tender removal 10
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "100", "0")
	f.sale(t, recon.MethodCash, "50")
	f.clock.Advance(time.Minute)
	sess, err := f.engine.TenderRemoval(f.ctx, sess, "anna", d("10"), false)
	require.NoError(t, err)

	// WHEN: Closing with 140
	f.clock.Advance(time.Minute)
	next, res, err := f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("140")})

	// THEN: Expected 140, no variance, session closed, no new discrepancy
	require.NoError(t, err)
	eq(t, "140", res.ExpectedCash)
	assert.True(t, res.Difference.IsZero())
	assert.False(t, next.IsOpen())

	cash, _ := f.discrepancies(t)
	assert.Len(t, cash, 1, "only the opening difference from zero")

	events, _ := f.mem.CashCounts(f.ctx)
	assert.Nil(t, recon.FindOpenShift(events))
	last := recon.GetLastClose(events)
	require.NotNil(t, last)
	eq(t, "140", last.Count.Decimal)
}

func TestClose_Guards(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})

	_, _, err := f.engine.Close(f.ctx, till.Session{}, till.CloseRequest{User: "anna"})
	assert.ErrorIs(t, err, recon.ErrNoOpenShift)

	sess := f.open(t, "anna", "100", "0")
	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{User: "bob", Cash: d("100")})
	assert.ErrorIs(t, err, recon.ErrNotShiftOwner)

	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{Cash: d("100")})
	assert.ErrorIs(t, err, recon.ErrUnauthenticated)
}

func TestClose_DrawerLimit(t *testing.T) {
	// GIVEN: A 500 limit and a drawer expected at 600
	f := newFixture(t, recon.TillSettings{DrawerLimit: d("500")}, till.Config{})
	sess := f.open(t, "anna", "400", "0")
	f.sale(t, recon.MethodCash, "200")

	// WHEN: Closing
	_, _, err := f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("600")})

	// THEN: Refused as a policy violation, nothing written
	var limitErr *recon.DrawerLimitError
	require.ErrorAs(t, err, &limitErr)
	eq(t, "600", limitErr.Expected)
	assert.True(t, recon.IsPolicyViolation(err))
	events, _ := f.mem.CashCounts(f.ctx)
	assert.Len(t, events, 1)

	// Reconcile skips the limit
	_, _, err = f.engine.Reconcile(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("600")})
	assert.NoError(t, err)
}

func TestClose_DrawerLimitIsReReadEveryCall(t *testing.T) {
	f := newFixture(t, recon.TillSettings{DrawerLimit: d("500")}, till.Config{})
	sess := f.open(t, "anna", "400", "0")
	f.sale(t, recon.MethodCash, "200")

	_, _, err := f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("600")})
	require.ErrorIs(t, err, recon.ErrDrawerLimitExceeded)

	require.NoError(t, f.mem.SaveTillSettings(f.ctx, recon.TillSettings{DrawerLimit: d("1000")}))
	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("600")})
	assert.NoError(t, err)
}

func TestClose_SignoffRequired(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{SignoffThreshold: d("20")})
	sess := f.open(t, "anna", "100", "0")

	// Within threshold: no sign-off needed
	sess, _, err := f.engine.Reconcile(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("90")})
	require.NoError(t, err)

	// Above threshold: refused without a sign-off
	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("60")})
	assert.ErrorIs(t, err, recon.ErrSignoffRequired)

	// Caller flag forces it
	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("90"), SignoffRequired: true})
	assert.ErrorIs(t, err, recon.ErrSignoffRequired)

	// Given: accepted and recorded
	_, _, err = f.engine.Close(f.ctx, sess, till.CloseRequest{
		User: "anna", Cash: d("60"),
		Signoff: &till.Signoff{SignedOffBy: "pete", Note: "counted twice"},
	})
	require.NoError(t, err)
	events, _ := f.mem.CashCounts(f.ctx)
	last := recon.GetLastClose(events)
	require.NotNil(t, last)
	assert.Equal(t, "pete", last.SignedOffBy)
}

func TestClose_UnconfirmedCardReceiptsPostIrregularity(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "100", "0")
	f.sale(t, recon.MethodCard, "30")
	f.sale(t, recon.MethodCard, "20")

	_, res, err := f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("100")})
	require.NoError(t, err)
	assert.True(t, res.IrregularityPosted)

	irr, err := f.mem.Irregularities(f.ctx, time.Time{}, f.clock.t)
	require.NoError(t, err)
	require.Len(t, irr, 1)
	assert.Equal(t, 2, irr[0].MissingCount)
	assert.Equal(t, "close", irr[0].Action)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_RebaselinesWithoutClosing(t *testing.T) {
	// GIVEN: An open shift with a 50 cash sale
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "100", "5")
	openedAt := sess.OpenTime
	f.sale(t, recon.MethodCash, "50")

	// WHEN: Reconciling with 148 counted
	f.clock.Advance(time.Minute)
	next, res, err := f.engine.Reconcile(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("148"), Keycards: d("5")})

	// THEN: A -2 discrepancy, the shift stays open on a new baseline
	require.NoError(t, err)
	eq(t, "-2", res.Difference)
	assert.True(t, next.IsOpen())
	assert.Equal(t, "anna", next.Owner)
	assert.Equal(t, openedAt, next.OpenTime)
	assert.Equal(t, res.NextShiftID, next.ShiftID)
	assert.NotEqual(t, sess.ShiftID, next.ShiftID)
	eq(t, "148", next.OpeningCash)

	events, _ := f.mem.CashCounts(f.ctx)
	open := recon.FindOpenShift(events)
	require.NotNil(t, open)
	assert.Equal(t, next.ShiftID, open.ShiftID)

	// The earlier sale is not counted again
	fig, err := f.engine.Figures(f.ctx, next)
	require.NoError(t, err)
	eq(t, "148", fig.ExpectedCash)

	// Resume keeps the original start
	resumed, err := f.engine.Resume(f.ctx)
	require.NoError(t, err)
	assert.True(t, resumed.OpenTime.Equal(openedAt))
	assert.Equal(t, next.ShiftID, resumed.ShiftID)
	eq(t, "148", resumed.OpeningCash)
}

// =============================================================================
// KEYCARDS
// =============================================================================

func TestReturnKeycards_MoreThanHeld(t *testing.T) {
	// GIVEN: 3 keycards held
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "0", "3")
	_, before := f.discrepancies(t)

	// WHEN: Returning 5
	next, err := f.engine.ReturnKeycards(f.ctx, sess, "anna", d("5"))

	// THEN: Refused, still 3, a -2 discrepancy posted
	var short *recon.KeycardShortfallError
	require.ErrorAs(t, err, &short)
	assert.ErrorIs(t, err, recon.ErrInsufficientKeycards)
	eq(t, "3", next.OpeningKeycards)

	_, after := f.discrepancies(t)
	require.Len(t, after, len(before)+1)
	eq(t, "-2", after[len(after)-1].Amount)
}

func TestAddAndReturnKeycards(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "0", "3")

	sess, err := f.engine.AddKeycards(sess, d("4"))
	require.NoError(t, err)
	eq(t, "7", sess.OpeningKeycards)

	sess, err = f.engine.ReturnKeycards(f.ctx, sess, "anna", d("7"))
	require.NoError(t, err)
	assert.True(t, sess.OpeningKeycards.IsZero())

	_, err = f.engine.AddKeycards(till.Session{}, d("1"))
	assert.ErrorIs(t, err, recon.ErrNoOpenShift)
}

func TestKeycardReconcile(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{})
	sess := f.open(t, "anna", "0", "10")
	f.clock.Advance(time.Minute)
	require.NoError(t, f.mem.AppendTransaction(f.ctx, recon.TillTransaction{
		ID: "loan-1", Timestamp: f.clock.t, Method: recon.MethodCash, Kind: recon.KindLoan,
		Amount: d("10"), IsKeycard: true, Count: d("2"),
	}))

	res, err := f.engine.KeycardReconcile(f.ctx, sess, "anna", d("7"))
	require.NoError(t, err)
	eq(t, "8", res.Expected)
	eq(t, "-1", res.Difference)

	_, keycards := f.discrepancies(t)
	eq(t, "-1", keycards[len(keycards)-1].Amount)

	_, err = f.engine.KeycardReconcile(f.ctx, sess, "", d("7"))
	assert.ErrorIs(t, err, recon.ErrUnauthenticated)
}

// =============================================================================
// DRAWER LIMIT ALERTS
// =============================================================================

func TestDrawer_AlertIsEdgeTriggered(t *testing.T) {
	f := newFixture(t, recon.TillSettings{DrawerLimit: d("500"), PinRequiredAboveLimit: true}, till.Config{})
	sess := f.open(t, "anna", "400", "0")

	sess, status, err := f.engine.Drawer(f.ctx, sess)
	require.NoError(t, err)
	assert.False(t, status.OverLimit)

	f.sale(t, recon.MethodCash, "200")
	sess, status, err = f.engine.Drawer(f.ctx, sess)
	require.NoError(t, err)
	assert.True(t, status.OverLimit)
	assert.True(t, status.PinRequiredForTenderRemoval)

	sess, _, err = f.engine.Drawer(f.ctx, sess)
	require.NoError(t, err)

	alerts, err := f.mem.DrawerAlerts(f.ctx, time.Time{}, f.clock.t)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "one alert per crossing")

	// Tender removal needs the PIN now
	_, err = f.engine.TenderRemoval(f.ctx, sess, "anna", d("150"), false)
	assert.ErrorIs(t, err, recon.ErrPinRequired)
	_, err = f.engine.TenderRemoval(f.ctx, sess, "anna", d("150"), true)
	assert.NoError(t, err)
}

// =============================================================================
// SECONDARY WRITES
// =============================================================================

type failingSink struct {
	*store.Memory
}

func (failingSink) PostCashDiscrepancy(context.Context, recon.Discrepancy) error {
	return errors.New("sink offline")
}

func TestOpen_DiscrepancyFailureDoesNotRollBack(t *testing.T) {
	mem := store.NewMemory()
	f := newFixtureWithStore(t, mem, failingSink{mem}, till.Config{})

	sess, res, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: "anna", Cash: d("100")})

	require.NoError(t, err)
	eq(t, "100", res.Difference)
	assert.True(t, sess.IsOpen())
	events, _ := mem.CashCounts(f.ctx)
	assert.Len(t, events, 1)
}

func TestMonthlyDiscrepancyLimitWarns(t *testing.T) {
	f := newFixture(t, recon.TillSettings{}, till.Config{MonthlyDiscrepancyLimit: 2})

	sess, res, err := f.engine.Open(f.ctx, till.Session{}, till.OpenRequest{User: "anna", Cash: d("100")})
	require.NoError(t, err)
	assert.False(t, res.MonthlyLimitExceeded)

	f.clock.Advance(time.Minute)
	sess, closeRes, err := f.engine.Reconcile(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("99")})
	require.NoError(t, err)
	assert.False(t, closeRes.MonthlyLimitExceeded)

	f.clock.Advance(time.Minute)
	_, closeRes, err = f.engine.Close(f.ctx, sess, till.CloseRequest{User: "anna", Cash: d("98")})
	require.NoError(t, err, "the warning never blocks")
	assert.True(t, closeRes.MonthlyLimitExceeded)
}
