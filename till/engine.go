/*
engine.go - Shift lifecycle engine

PURPOSE:
  Orchestrates the till's open / close / reconcile transitions, keycard
  loans to and from the safe, and drawer-limit alerting. Every call
  reloads the history and settings, checks its guards against that
  snapshot, then writes.

GUARDS:
  Open:      authenticated; no open shift owned by someone else; not
             already open in this session
  Close:     authenticated; open shift; caller is the owner; expected
             cash within the drawer limit; sign-off present when required
  Reconcile: as Close, without the drawer limit

  A failed guard writes nothing. The one exception is a keycard return
  larger than what is held: it is refused, and the attempt is posted as
  a keycard discrepancy.

SECONDARY WRITES:
  Discrepancies, irregularities and drawer alerts are best effort. A
  failure is logged at Warn and the transition still succeeds.

CONCURRENCY:
  At most one writer owns an open shift. That is enforced by the owner
  guard, not by a lock: a second terminal opening over someone else's
  shift is rejected.

SEE ALSO:
  - session.go: the Session value threaded through every call
  - calculations.go: expected cash and keycards
*/
package till

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/till-engine/recon"
)

// DefaultMonthlyDiscrepancyLimit is the number of cash discrepancies a
// user may post in a calendar month before a warning is raised.
const DefaultMonthlyDiscrepancyLimit = 3

// Config holds the engine's static policy. The drawer limit and PIN flag
// are not here: they are read from the SettingsStore on every evaluation.
type Config struct {
	Zone recon.Zone

	// MonthlyDiscrepancyLimit <= 0 disables the warning.
	MonthlyDiscrepancyLimit int

	// SignoffThreshold forces a sign-off when |counted - expected| is
	// above it. Zero disables.
	SignoffThreshold decimal.Decimal

	Logger *zap.Logger
	Clock  func() time.Time
	NewID  func() string
}

type Engine struct {
	store recon.Store
	cfg   Config
	log   *zap.Logger
}

func NewEngine(store recon.Store, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Engine{store: store, cfg: cfg, log: cfg.Logger.Named("till")}
}

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

type OpenRequest struct {
	User     string
	Cash     decimal.Decimal
	Keycards decimal.Decimal
}

type OpenResult struct {
	ShiftID           string
	PreviousCloseCash decimal.Decimal
	Difference        decimal.Decimal
	KeycardDifference decimal.Decimal

	// MonthlyLimitExceeded is a warning only. The open succeeded.
	MonthlyLimitExceeded bool
}

// Signoff is a manager's acceptance of a close variance.
type Signoff struct {
	SignedOffBy string
	Note        string
}

type CloseRequest struct {
	User                 string
	Cash                 decimal.Decimal
	Keycards             decimal.Decimal
	AllReceiptsConfirmed bool

	// SignoffRequired forces a sign-off regardless of the threshold.
	SignoffRequired bool
	Signoff         *Signoff
}

type CloseResult struct {
	ShiftID           string
	ExpectedCash      decimal.Decimal
	Difference        decimal.Decimal
	ExpectedKeycards  decimal.Decimal
	KeycardDifference decimal.Decimal

	// NextShiftID is set by Reconcile: the id of the synthetic opening.
	NextShiftID string

	IrregularityPosted   bool
	MonthlyLimitExceeded bool
}

type KeycardReconcileResult struct {
	Expected   decimal.Decimal
	Counted    decimal.Decimal
	Difference decimal.Decimal
}

// =============================================================================
// READS
// =============================================================================

func queryErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", recon.ErrQueryFailed, what, err)
}

func (e *Engine) history(ctx context.Context) (History, error) {
	cash, err := e.store.CashCounts(ctx)
	if err != nil {
		return History{}, queryErr("cash counts", err)
	}
	safe, err := e.store.SafeCounts(ctx)
	if err != nil {
		return History{}, queryErr("safe counts", err)
	}
	txs, err := e.store.Transactions(ctx)
	if err != nil {
		return History{}, queryErr("transactions", err)
	}
	return History{Cash: cash, Safe: safe, Transactions: txs}, nil
}

// Resume rebuilds the session from stored history, e.g. after a restart.
func (e *Engine) Resume(ctx context.Context) (Session, error) {
	cash, err := e.store.CashCounts(ctx)
	if err != nil {
		return Session{}, queryErr("cash counts", err)
	}
	return SessionFromHistory(cash), nil
}

// Figures returns the expected totals for sess.
func (e *Engine) Figures(ctx context.Context, sess Session) (Figures, error) {
	h, err := e.history(ctx)
	if err != nil {
		return Figures{}, err
	}
	return Calculate(sess, h), nil
}

// Drawer evaluates the drawer against the current settings and posts an
// alert when the drawer has just gone over the limit.
func (e *Engine) Drawer(ctx context.Context, sess Session) (Session, DrawerStatus, error) {
	settings, err := e.store.TillSettings(ctx)
	if err != nil {
		return sess, DrawerStatus{}, queryErr("till settings", err)
	}
	f, err := e.Figures(ctx, sess)
	if err != nil {
		return sess, DrawerStatus{}, err
	}

	status := EvaluateDrawer(sess, f, settings)
	if status.OverLimit && !sess.OverLimit {
		e.postDrawerAlert(ctx, recon.DrawerAlert{
			User:         sess.Owner,
			Timestamp:    e.cfg.Clock(),
			ExpectedCash: status.ExpectedCash,
			Limit:        status.Limit,
			ShiftID:      sess.ShiftID,
		})
	}
	sess.OverLimit = status.OverLimit
	return sess, status, nil
}

// =============================================================================
// OPEN
// =============================================================================

// Open starts a shift. The difference against the last close count is
// posted as a discrepancy.
func (e *Engine) Open(ctx context.Context, sess Session, req OpenRequest) (Session, *OpenResult, error) {
	if req.User == "" {
		return sess, nil, recon.ErrUnauthenticated
	}
	if req.Cash.IsNegative() || req.Keycards.IsNegative() {
		return sess, nil, fmt.Errorf("%w: opening counts must not be negative", recon.ErrInvalidAmount)
	}

	cash, err := e.store.CashCounts(ctx)
	if err != nil {
		return sess, nil, queryErr("cash counts", err)
	}
	if open := recon.FindOpenShift(cash); open != nil {
		if open.User != req.User {
			return sess, nil, fmt.Errorf("%w (%s)", recon.ErrShiftOwnedByOther, open.User)
		}
		// Same owner with no local session: the previous close has not
		// propagated yet. Allowed.
		if sess.IsOpen() {
			return sess, nil, recon.ErrShiftAlreadyOpen
		}
	}

	prevCash, prevKeycards := decimal.Zero, decimal.Zero
	if last := recon.GetLastClose(cash); last != nil {
		prevCash = recon.Or(last.Count)
		prevKeycards = recon.Or(last.KeycardCount)
	}
	diff := req.Cash.Sub(prevCash)
	keycardDiff := req.Keycards.Sub(prevKeycards)

	now := e.cfg.Clock()
	shiftID := e.cfg.NewID()
	opening := recon.CashCountEvent{
		ID:           e.cfg.NewID(),
		User:         req.User,
		Timestamp:    now,
		Type:         recon.CashOpening,
		Count:        recon.Some(req.Cash),
		KeycardCount: recon.Some(req.Keycards),
		Difference:   recon.Some(diff),
		ShiftID:      shiftID,
	}
	if err := e.store.AppendCashCount(ctx, opening); err != nil {
		return sess, nil, fmt.Errorf("append opening: %w", err)
	}

	res := &OpenResult{
		ShiftID:           shiftID,
		PreviousCloseCash: prevCash,
		Difference:        diff,
		KeycardDifference: keycardDiff,
	}
	if !keycardDiff.IsZero() {
		e.postKeycardDiscrepancy(ctx, req.User, keycardDiff, now)
	}
	if !diff.IsZero() {
		res.MonthlyLimitExceeded = e.postCashDiscrepancy(ctx, req.User, diff, now)
	}

	e.log.Info("shift opened",
		zap.String("user", req.User),
		zap.String("shift_id", shiftID),
		zap.String("cash", req.Cash.String()),
		zap.String("difference", diff.String()))

	return Session{
		OpenTime:        now,
		Owner:           req.User,
		ShiftID:         shiftID,
		OpeningCash:     req.Cash,
		OpeningKeycards: req.Keycards,
		BaselineAt:      now,
	}, res, nil
}

// =============================================================================
// CLOSE / RECONCILE
// =============================================================================

type variant string

const (
	variantClose     variant = "close"
	variantReconcile variant = "reconcile"
)

// Close ends the shift. The returned session is closed.
func (e *Engine) Close(ctx context.Context, sess Session, req CloseRequest) (Session, *CloseResult, error) {
	return e.finish(ctx, sess, req, variantClose)
}

// Reconcile counts the drawer mid-shift and re-baselines the session on
// the counted figures. The shift stays open under the same owner.
func (e *Engine) Reconcile(ctx context.Context, sess Session, req CloseRequest) (Session, *CloseResult, error) {
	return e.finish(ctx, sess, req, variantReconcile)
}

func (e *Engine) finish(ctx context.Context, sess Session, req CloseRequest, v variant) (Session, *CloseResult, error) {
	if req.User == "" {
		return sess, nil, recon.ErrUnauthenticated
	}
	if !sess.IsOpen() {
		return sess, nil, recon.ErrNoOpenShift
	}
	if req.User != sess.Owner {
		return sess, nil, recon.ErrNotShiftOwner
	}
	if req.Cash.IsNegative() || req.Keycards.IsNegative() {
		return sess, nil, fmt.Errorf("%w: counts must not be negative", recon.ErrInvalidAmount)
	}

	h, err := e.history(ctx)
	if err != nil {
		return sess, nil, err
	}
	if recon.FindOpenShift(h.Cash) == nil {
		return sess, nil, recon.ErrNoOpenShift
	}
	f := Calculate(sess, h)

	if v == variantClose {
		settings, err := e.store.TillSettings(ctx)
		if err != nil {
			return sess, nil, queryErr("till settings", err)
		}
		if settings.DrawerLimit.IsPositive() && f.ExpectedCash.GreaterThan(settings.DrawerLimit) {
			return sess, nil, &recon.DrawerLimitError{Expected: f.ExpectedCash, Limit: settings.DrawerLimit}
		}
	}

	diff := req.Cash.Sub(f.ExpectedCash)
	keycardDiff := req.Keycards.Sub(f.ExpectedKeycards)
	if e.signoffRequired(req, diff) && req.Signoff == nil {
		return sess, nil, recon.ErrSignoffRequired
	}

	now := e.cfg.Clock()
	res := &CloseResult{
		ShiftID:           sess.ShiftID,
		ExpectedCash:      f.ExpectedCash,
		Difference:        diff,
		ExpectedKeycards:  f.ExpectedKeycards,
		KeycardDifference: keycardDiff,
	}
	if res.ShiftID == "" {
		res.ShiftID = e.cfg.NewID()
	}

	if f.CardTransactions > 0 && !req.AllReceiptsConfirmed {
		res.IrregularityPosted = e.postIrregularity(ctx, recon.Irregularity{
			Action:       string(v),
			MissingCount: f.CardTransactions,
			Timestamp:    now,
			User:         req.User,
		})
	}

	count := recon.CashCountEvent{
		ID:           e.cfg.NewID(),
		User:         req.User,
		Timestamp:    now,
		Type:         recon.CashClose,
		Count:        recon.Some(req.Cash),
		KeycardCount: recon.Some(req.Keycards),
		Difference:   recon.Some(diff),
		ShiftID:      res.ShiftID,
	}
	if req.Signoff != nil {
		count.SignedOffBy = req.Signoff.SignedOffBy
		count.SignoffNote = req.Signoff.Note
	}

	if v == variantClose {
		if err := e.store.AppendCashCount(ctx, count); err != nil {
			return sess, nil, fmt.Errorf("append close: %w", err)
		}
	} else {
		count.Type = recon.CashReconcile
		res.NextShiftID = e.cfg.NewID()
		opening := recon.CashCountEvent{
			ID:           e.cfg.NewID(),
			User:         req.User,
			Timestamp:    now,
			Type:         recon.CashOpening,
			Count:        recon.Some(req.Cash),
			KeycardCount: recon.Some(req.Keycards),
			Difference:   recon.Some(decimal.Zero),
			ShiftID:      res.NextShiftID,
		}
		if err := e.appendAll(ctx, count, opening); err != nil {
			return sess, nil, fmt.Errorf("append reconcile: %w", err)
		}
	}

	if !diff.IsZero() {
		res.MonthlyLimitExceeded = e.postCashDiscrepancy(ctx, req.User, diff, now)
	}
	if !keycardDiff.IsZero() {
		e.postKeycardDiscrepancy(ctx, req.User, keycardDiff, now)
	}

	e.log.Info("shift "+string(v),
		zap.String("user", req.User),
		zap.String("shift_id", res.ShiftID),
		zap.String("expected", f.ExpectedCash.String()),
		zap.String("counted", req.Cash.String()),
		zap.String("difference", diff.String()))

	if v == variantClose {
		return Session{}, res, nil
	}
	sess.ShiftID = res.NextShiftID
	sess.OpeningCash = req.Cash
	sess.OpeningKeycards = req.Keycards
	sess.BaselineAt = now
	sess.OverLimit = false
	return sess, res, nil
}

func (e *Engine) signoffRequired(req CloseRequest, diff decimal.Decimal) bool {
	if req.SignoffRequired {
		return true
	}
	return e.cfg.SignoffThreshold.IsPositive() && diff.Abs().GreaterThan(e.cfg.SignoffThreshold)
}

// appendAll writes the events atomically when the store supports it.
func (e *Engine) appendAll(ctx context.Context, events ...recon.CashCountEvent) error {
	write := func(s recon.Store) error {
		for _, ev := range events {
			if err := s.AppendCashCount(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}
	if tx, ok := e.store.(recon.TxStore); ok {
		return tx.WithTx(ctx, write)
	}
	return write(e.store)
}

// =============================================================================
// KEYCARDS
// =============================================================================

// KeycardReconcile compares a manual keycard count with the expectation
// and records the count. It does not need an open shift.
func (e *Engine) KeycardReconcile(ctx context.Context, sess Session, user string, counted decimal.Decimal) (*KeycardReconcileResult, error) {
	if user == "" {
		return nil, recon.ErrUnauthenticated
	}
	if counted.IsNegative() {
		return nil, fmt.Errorf("%w: keycard count must not be negative", recon.ErrInvalidAmount)
	}

	f, err := e.Figures(ctx, sess)
	if err != nil {
		return nil, err
	}
	diff := counted.Sub(f.ExpectedKeycards)
	now := e.cfg.Clock()

	if !diff.IsZero() {
		e.postKeycardDiscrepancy(ctx, user, diff, now)
	}
	if err := e.store.AppendCashCount(ctx, recon.CashCountEvent{
		ID:           e.cfg.NewID(),
		User:         user,
		Timestamp:    now,
		Type:         recon.CashReconcile,
		KeycardCount: recon.Some(counted),
		ShiftID:      sess.ShiftID,
	}); err != nil {
		return nil, fmt.Errorf("append keycard count: %w", err)
	}

	return &KeycardReconcileResult{Expected: f.ExpectedKeycards, Counted: counted, Difference: diff}, nil
}

// AddKeycards takes keycards from the safe into the open shift. No
// discrepancy is posted.
func (e *Engine) AddKeycards(sess Session, count decimal.Decimal) (Session, error) {
	if !sess.IsOpen() {
		return sess, recon.ErrNoOpenShift
	}
	if count.IsNegative() {
		return sess, fmt.Errorf("%w: keycard count must not be negative", recon.ErrInvalidAmount)
	}
	sess.OpeningKeycards = sess.OpeningKeycards.Add(count)
	return sess, nil
}

// ReturnKeycards hands keycards back to the safe. Returning more than the
// shift holds is refused, leaves the session as it was, and posts the
// shortfall as a keycard discrepancy.
func (e *Engine) ReturnKeycards(ctx context.Context, sess Session, user string, count decimal.Decimal) (Session, error) {
	if user == "" {
		return sess, recon.ErrUnauthenticated
	}
	if !sess.IsOpen() {
		return sess, recon.ErrNoOpenShift
	}
	if count.IsNegative() {
		return sess, fmt.Errorf("%w: keycard count must not be negative", recon.ErrInvalidAmount)
	}
	if count.GreaterThan(sess.OpeningKeycards) {
		short := &recon.KeycardShortfallError{Held: sess.OpeningKeycards, Requested: count}
		e.postKeycardDiscrepancy(ctx, user, short.Shortfall(), e.cfg.Clock())
		return sess, short
	}
	sess.OpeningKeycards = sess.OpeningKeycards.Sub(count)
	return sess, nil
}

// =============================================================================
// DRAWER MOVEMENTS
// =============================================================================

// Float records cash put into the drawer.
func (e *Engine) Float(ctx context.Context, sess Session, user string, amount decimal.Decimal) error {
	if err := e.checkMovement(sess, user, amount); err != nil {
		return err
	}
	return e.appendMovement(ctx, sess, user, recon.CashFloat, amount)
}

// TenderRemoval records cash taken out of the drawer. When the drawer is
// over its limit and the policy asks for it, pinConfirmed must be set.
func (e *Engine) TenderRemoval(ctx context.Context, sess Session, user string, amount decimal.Decimal, pinConfirmed bool) (Session, error) {
	if err := e.checkMovement(sess, user, amount); err != nil {
		return sess, err
	}
	sess, status, err := e.Drawer(ctx, sess)
	if err != nil {
		return sess, err
	}
	if status.PinRequiredForTenderRemoval && !pinConfirmed {
		return sess, recon.ErrPinRequired
	}
	return sess, e.appendMovement(ctx, sess, user, recon.CashTenderRemoval, amount)
}

func (e *Engine) checkMovement(sess Session, user string, amount decimal.Decimal) error {
	if user == "" {
		return recon.ErrUnauthenticated
	}
	if !sess.IsOpen() {
		return recon.ErrNoOpenShift
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", recon.ErrInvalidAmount)
	}
	return nil
}

func (e *Engine) appendMovement(ctx context.Context, sess Session, user string, typ recon.CashCountType, amount decimal.Decimal) error {
	err := e.store.AppendCashCount(ctx, recon.CashCountEvent{
		ID:        e.cfg.NewID(),
		User:      user,
		Timestamp: e.cfg.Clock(),
		Type:      typ,
		Amount:    recon.Some(amount),
		ShiftID:   sess.ShiftID,
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", typ, err)
	}
	return nil
}

// =============================================================================
// SECONDARY WRITES - Best effort
// =============================================================================

// postCashDiscrepancy reports whether the user is now over the monthly
// discrepancy limit.
func (e *Engine) postCashDiscrepancy(ctx context.Context, user string, amount decimal.Decimal, at time.Time) bool {
	exceeded := false
	if limit := e.cfg.MonthlyDiscrepancyLimit; limit > 0 {
		prior, err := e.store.CashDiscrepancies(ctx, e.cfg.Zone.StartOfMonth(at), at)
		if err != nil {
			e.log.Warn("monthly discrepancy count failed", zap.String("user", user), zap.Error(err))
		} else {
			n := 0
			for _, d := range prior {
				if d.User == user {
					n++
				}
			}
			exceeded = n+1 > limit
		}
	}

	if err := e.store.PostCashDiscrepancy(ctx, recon.Discrepancy{User: user, Timestamp: at, Amount: amount}); err != nil {
		e.log.Warn("cash discrepancy not recorded",
			zap.String("user", user), zap.String("amount", amount.String()), zap.Error(err))
	}
	if exceeded {
		e.log.Warn("monthly discrepancy limit exceeded",
			zap.String("user", user), zap.Int("limit", e.cfg.MonthlyDiscrepancyLimit))
	}
	return exceeded
}

func (e *Engine) postKeycardDiscrepancy(ctx context.Context, user string, amount decimal.Decimal, at time.Time) {
	if err := e.store.PostKeycardDiscrepancy(ctx, recon.Discrepancy{User: user, Timestamp: at, Amount: amount}); err != nil {
		e.log.Warn("keycard discrepancy not recorded",
			zap.String("user", user), zap.String("amount", amount.String()), zap.Error(err))
	}
}

func (e *Engine) postIrregularity(ctx context.Context, irr recon.Irregularity) bool {
	if err := e.store.PostIrregularity(ctx, irr); err != nil {
		e.log.Warn("irregularity not recorded",
			zap.String("user", irr.User), zap.String("action", irr.Action), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) postDrawerAlert(ctx context.Context, a recon.DrawerAlert) {
	if err := e.store.PostDrawerAlert(ctx, a); err != nil {
		e.log.Warn("drawer alert not recorded",
			zap.String("user", a.User), zap.String("expected", a.ExpectedCash.String()), zap.Error(err))
		return
	}
	e.log.Info("drawer over limit",
		zap.String("user", a.User),
		zap.String("expected", a.ExpectedCash.String()),
		zap.String("limit", a.Limit.String()))
}
