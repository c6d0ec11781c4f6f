/*
service.go - Safe operations

PURPOSE:
  Records back-office safe events. Several operations move cash between
  the drawer and the safe; those write the safe event and its till-side
  counterpart in one store transaction so that either both land or
  neither does.

OPERATIONS:
  deposit          safe +amount, till tenderRemoval
  withdrawal       safe -amount, till float
  exchange         drawerToSafe: till tenderRemoval; safeToDrawer: till float
  bankDeposit      safe -amount (cash dropped at the bank)
  bankWithdrawal   safe +amount (cash brought from the bank)
  pettyWithdrawal  safe -amount
  opening, reset   absolute count and keycards
  reconcile        counted vs replayed balance, stored as differences
  keycard transfer toSafe / fromSafe

SEE ALSO:
  - recon/balance.go: the replay Balance reads
*/
package safe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/till-engine/recon"
)

type Config struct {
	Logger *zap.Logger
	Clock  func() time.Time
	NewID  func() string
}

type Service struct {
	store recon.TxStore
	log   *zap.Logger
	clock func() time.Time
	newID func() string
}

func NewService(store recon.TxStore, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Service{store: store, log: cfg.Logger.Named("safe"), clock: cfg.Clock, newID: cfg.NewID}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Operation names a safe operation. The values double as route segments.
type Operation string

const (
	OpDeposit          Operation = "deposit"
	OpWithdrawal       Operation = "withdrawal"
	OpExchange         Operation = "exchange"
	OpBankDeposit      Operation = "bankDeposit"
	OpBankWithdrawal   Operation = "bankWithdrawal"
	OpPettyWithdrawal  Operation = "pettyWithdrawal"
	OpOpening          Operation = "opening"
	OpReset            Operation = "reset"
	OpReconcile        Operation = "reconcile"
	OpKeycardsToSafe   Operation = "keycardsToSafe"
	OpKeycardsFromSafe Operation = "keycardsFromSafe"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpDeposit, OpWithdrawal, OpExchange, OpBankDeposit, OpBankWithdrawal, OpPettyWithdrawal,
		OpOpening, OpReset, OpReconcile, OpKeycardsToSafe, OpKeycardsFromSafe:
		return true
	}
	return false
}

// Request carries the inputs of any operation. Which fields matter
// depends on the operation.
type Request struct {
	User      string
	Amount    decimal.Decimal
	Keycards  decimal.Decimal
	Direction recon.ExchangeDirection

	// ShiftID tags the till-side counterpart, if a shift is open.
	ShiftID string
}

// Record dispatches op.
func (s *Service) Record(ctx context.Context, op Operation, req Request) (*recon.SafeCountEvent, error) {
	if req.User == "" {
		return nil, recon.ErrUnauthenticated
	}
	switch op {
	case OpDeposit:
		return s.Deposit(ctx, req)
	case OpWithdrawal:
		return s.Withdrawal(ctx, req)
	case OpExchange:
		return s.Exchange(ctx, req)
	case OpBankDeposit:
		return s.BankDeposit(ctx, req)
	case OpBankWithdrawal:
		return s.BankWithdrawal(ctx, req)
	case OpPettyWithdrawal:
		return s.PettyWithdrawal(ctx, req)
	case OpOpening:
		return s.Opening(ctx, req)
	case OpReset:
		return s.Reset(ctx, req)
	case OpReconcile:
		return s.Reconcile(ctx, req)
	case OpKeycardsToSafe:
		return nil, s.TransferKeycards(ctx, req.User, req.Keycards, recon.ToSafe)
	case OpKeycardsFromSafe:
		return nil, s.TransferKeycards(ctx, req.User, req.Keycards, recon.FromSafe)
	default:
		return nil, &recon.EventValidationError{Kind: "safe operation", Type: string(op), Field: "operation", Msg: "is unknown"}
	}
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", recon.ErrInvalidAmount)
	}
	return nil
}

func (s *Service) event(req Request, typ recon.SafeCountType) recon.SafeCountEvent {
	return recon.SafeCountEvent{
		ID:        s.newID(),
		User:      req.User,
		Timestamp: s.clock(),
		Type:      typ,
	}
}

func (s *Service) tillEvent(req Request, typ recon.CashCountType, at time.Time) recon.CashCountEvent {
	return recon.CashCountEvent{
		ID:        s.newID(),
		User:      req.User,
		Timestamp: at,
		Type:      typ,
		Amount:    recon.Some(req.Amount),
		ShiftID:   req.ShiftID,
	}
}

// paired writes the safe event and the till event atomically.
func (s *Service) paired(ctx context.Context, e recon.SafeCountEvent, c recon.CashCountEvent) error {
	err := s.store.WithTx(ctx, func(tx recon.Store) error {
		if err := tx.AppendSafeCount(ctx, e); err != nil {
			return err
		}
		return tx.AppendCashCount(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Type, err)
	}
	s.logged(e)
	return nil
}

func (s *Service) single(ctx context.Context, e recon.SafeCountEvent) error {
	if err := s.store.AppendSafeCount(ctx, e); err != nil {
		return fmt.Errorf("record %s: %w", e.Type, err)
	}
	s.logged(e)
	return nil
}

func (s *Service) logged(e recon.SafeCountEvent) {
	s.log.Info("safe event recorded",
		zap.String("type", string(e.Type)),
		zap.String("user", e.User),
		zap.String("amount", recon.Or(e.Amount).String()),
		zap.String("direction", string(e.Direction)))
}

// Deposit moves cash from the drawer into the safe. A non-zero
// req.Keycards is stored as the deposit's keycard difference.
func (s *Service) Deposit(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	e := s.event(req, recon.SafeDeposit)
	e.Amount = recon.Some(req.Amount)
	if !req.Keycards.IsZero() {
		e.KeycardDifference = recon.Some(req.Keycards)
	}
	if err := s.paired(ctx, e, s.tillEvent(req, recon.CashTenderRemoval, e.Timestamp)); err != nil {
		return nil, err
	}
	return &e, nil
}

// Withdrawal moves cash from the safe into the drawer.
func (s *Service) Withdrawal(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	e := s.event(req, recon.SafeWithdrawal)
	e.Amount = recon.Some(req.Amount)
	if err := s.paired(ctx, e, s.tillEvent(req, recon.CashFloat, e.Timestamp)); err != nil {
		return nil, err
	}
	return &e, nil
}

// Exchange swaps cash between drawer and safe in req.Direction.
func (s *Service) Exchange(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	if !req.Direction.Valid() {
		return nil, &recon.EventValidationError{Kind: "safe event", Type: string(recon.SafeExchange), Field: "direction", Msg: "must be drawerToSafe or safeToDrawer"}
	}
	e := s.event(req, recon.SafeExchange)
	e.Amount = recon.Some(req.Amount)
	e.Direction = req.Direction

	counterpart := recon.CashTenderRemoval
	if req.Direction == recon.SafeToDrawer {
		counterpart = recon.CashFloat
	}
	if err := s.paired(ctx, e, s.tillEvent(req, counterpart, e.Timestamp)); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) simple(ctx context.Context, req Request, typ recon.SafeCountType) (*recon.SafeCountEvent, error) {
	if err := positive(req.Amount); err != nil {
		return nil, err
	}
	e := s.event(req, typ)
	e.Amount = recon.Some(req.Amount)
	if err := s.single(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// BankDeposit records cash taken from the safe to the bank.
func (s *Service) BankDeposit(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	return s.simple(ctx, req, recon.SafeBankDeposit)
}

// BankWithdrawal records cash brought from the bank into the safe.
func (s *Service) BankWithdrawal(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	return s.simple(ctx, req, recon.SafeBankWithdrawal)
}

// PettyWithdrawal records petty cash taken from the safe.
func (s *Service) PettyWithdrawal(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	return s.simple(ctx, req, recon.SafePettyWithdrawal)
}

// =============================================================================
// BASELINES
// =============================================================================

func nonNegative(req Request) error {
	if req.Amount.IsNegative() || req.Keycards.IsNegative() {
		return fmt.Errorf("%w: counts must not be negative", recon.ErrInvalidAmount)
	}
	return nil
}

// Opening sets the safe's absolute count and keycards.
func (s *Service) Opening(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	if err := nonNegative(req); err != nil {
		return nil, err
	}
	e := s.event(req, recon.SafeOpening)
	e.Count = recon.Some(req.Amount)
	e.KeycardCount = recon.Some(req.Keycards)
	if err := s.single(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Reset overwrites the count and keycards, recording both differences
// against the replayed state.
func (s *Service) Reset(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	return s.rebase(ctx, req, recon.SafeReset)
}

// Reconcile records a counted safe. Difference = counted - replayed
// balance; KeycardDifference = counted keycards - replayed keycards.
func (s *Service) Reconcile(ctx context.Context, req Request) (*recon.SafeCountEvent, error) {
	return s.rebase(ctx, req, recon.SafeReconcile)
}

func (s *Service) rebase(ctx context.Context, req Request, typ recon.SafeCountType) (*recon.SafeCountEvent, error) {
	if err := nonNegative(req); err != nil {
		return nil, err
	}
	e := s.event(req, typ)

	events, err := s.store.SafeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: safe counts: %w", recon.ErrQueryFailed, err)
	}
	balance := recon.SafeBalanceAt(events, e.Timestamp)
	keycards := recon.SafeKeycardsAt(events, e.Timestamp)

	e.Count = recon.Some(req.Amount)
	e.Difference = recon.Some(req.Amount.Sub(balance))
	e.KeycardCount = recon.Some(req.Keycards)
	e.KeycardDifference = recon.Some(req.Keycards.Sub(keycards))
	if err := s.single(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// KEYCARDS AND BALANCE
// =============================================================================

// TransferKeycards moves keycards between the desk and the safe.
func (s *Service) TransferKeycards(ctx context.Context, user string, count decimal.Decimal, dir recon.TransferDirection) error {
	if user == "" {
		return recon.ErrUnauthenticated
	}
	if err := positive(count); err != nil {
		return err
	}
	t := recon.KeycardTransferEvent{
		ID:        s.newID(),
		User:      user,
		Timestamp: s.clock(),
		Count:     count,
		Direction: dir,
	}
	if err := s.store.AppendKeycardTransfer(ctx, t); err != nil {
		return fmt.Errorf("record keycard transfer: %w", err)
	}
	s.log.Info("keycards transferred",
		zap.String("user", user), zap.String("count", count.String()), zap.String("direction", string(dir)))
	return nil
}

// Position is the safe's replayed state at one instant.
type Position struct {
	At       time.Time
	Balance  decimal.Decimal
	Keycards decimal.Decimal
}

// Balance replays the stored safe history up to at.
func (s *Service) Balance(ctx context.Context, at time.Time) (Position, error) {
	events, err := s.store.SafeCounts(ctx)
	if err != nil {
		return Position{}, fmt.Errorf("%w: safe counts: %w", recon.ErrQueryFailed, err)
	}
	return Position{
		At:       at,
		Balance:  recon.SafeBalanceAt(events, at),
		Keycards: recon.SafeKeycardsAt(events, at),
	}, nil
}
