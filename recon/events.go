package recon

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CASH COUNT EVENTS - Till side
// =============================================================================

type CashCountType string

const (
	CashOpening       CashCountType = "opening"
	CashClose         CashCountType = "close"
	CashFloat         CashCountType = "float"
	CashTenderRemoval CashCountType = "tenderRemoval"
	CashReconcile     CashCountType = "reconcile"
)

// CashCountEvent is one till-side event. Appended on user action, never
// mutated, replayed in full on every query.
//
// Which optional fields are meaningful depends on Type:
//   - opening, close, reconcile: Count (absolute cash), KeycardCount
//   - float, tenderRemoval:      Amount (delta)
type CashCountEvent struct {
	ID           string              `json:"id"`
	User         string              `json:"user"`
	Timestamp    time.Time           `json:"timestamp"`
	Type         CashCountType       `json:"type"`
	Count        decimal.NullDecimal `json:"count"`
	Amount       decimal.NullDecimal `json:"amount"`
	KeycardCount decimal.NullDecimal `json:"keycardCount"`
	Difference   decimal.NullDecimal `json:"difference"`
	ShiftID      string              `json:"shiftId,omitempty"`

	// Set on close/reconcile when a variance sign-off was given.
	SignedOffBy string `json:"signedOffBy,omitempty"`
	SignoffNote string `json:"signoffNote,omitempty"`
}

// =============================================================================
// SAFE COUNT EVENTS - Back office side
// =============================================================================

type SafeCountType string

const (
	SafeBankDeposit     SafeCountType = "bankDeposit"
	SafeBankWithdrawal  SafeCountType = "bankWithdrawal"
	SafeDeposit         SafeCountType = "deposit"
	SafeWithdrawal      SafeCountType = "withdrawal"
	SafePettyWithdrawal SafeCountType = "pettyWithdrawal"
	SafeReconcile       SafeCountType = "safeReconcile"
	SafeReset           SafeCountType = "safeReset"
	SafeOpening         SafeCountType = "opening"
	SafeExchange        SafeCountType = "exchange"
)

// IsBaseline reports whether the type carries an absolute count that can
// anchor a balance replay.
func (t SafeCountType) IsBaseline() bool {
	return t == SafeOpening || t == SafeReset || t == SafeReconcile
}

type ExchangeDirection string

const (
	DrawerToSafe ExchangeDirection = "drawerToSafe"
	SafeToDrawer ExchangeDirection = "safeToDrawer"
)

// Valid reports whether d is one of the two known directions.
func (d ExchangeDirection) Valid() bool {
	return d == DrawerToSafe || d == SafeToDrawer
}

// SafeCountEvent is one safe-side event.
//
//   - deposit, withdrawal, bank*, pettyWithdrawal: Amount
//   - opening, safeReset, safeReconcile:           Count, KeycardCount
//   - safeReconcile, safeReset:                    Difference, KeycardDifference
//   - exchange:                                    Amount, Direction
//
// An exchange with an unknown Direction is unclassifiable, not an error.
type SafeCountEvent struct {
	ID                string              `json:"id"`
	User              string              `json:"user"`
	Timestamp         time.Time           `json:"timestamp"`
	Type              SafeCountType       `json:"type"`
	Amount            decimal.NullDecimal `json:"amount"`
	Count             decimal.NullDecimal `json:"count"`
	Difference        decimal.NullDecimal `json:"difference"`
	KeycardCount      decimal.NullDecimal `json:"keycardCount"`
	KeycardDifference decimal.NullDecimal `json:"keycardDifference"`
	Direction         ExchangeDirection   `json:"direction,omitempty"`
}

// =============================================================================
// KEYCARD TRANSFERS
// =============================================================================

type TransferDirection string

const (
	ToSafe   TransferDirection = "toSafe"
	FromSafe TransferDirection = "fromSafe"
)

// KeycardTransferEvent moves keycards between the desk and the safe.
// Count is never negative.
type KeycardTransferEvent struct {
	ID        string            `json:"id"`
	User      string            `json:"user"`
	Timestamp time.Time         `json:"timestamp"`
	Count     decimal.Decimal   `json:"count"`
	Direction TransferDirection `json:"direction"`
}

// =============================================================================
// TILL TRANSACTIONS - Sales, keycard loans and refunds
// =============================================================================

type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodCard  PaymentMethod = "card"
	MethodOther PaymentMethod = "other"
)

type TransactionKind string

const (
	KindSale   TransactionKind = "sale"
	KindLoan   TransactionKind = "loan"
	KindRefund TransactionKind = "refund"
)

// TillTransaction is a payment taken at the till. Keycard loans and refunds
// carry IsKeycard and a Count.
type TillTransaction struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	Kind      TransactionKind `json:"kind"`
	IsKeycard bool            `json:"isKeycard,omitempty"`
	Count     decimal.Decimal `json:"count"`
}

// =============================================================================
// DISCREPANCY / AUDIT RECORDS
// =============================================================================

// Discrepancy is a posted unexplained mismatch. Cash and keycard
// discrepancies share the shape but go to separate sinks.
type Discrepancy struct {
	User      string          `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
}

// Irregularity records card receipts left unconfirmed at close.
type Irregularity struct {
	Action       string    `json:"action"`
	MissingCount int       `json:"missingCount"`
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user"`
}

// DrawerAlert records the drawer going over its cash limit.
type DrawerAlert struct {
	User         string          `json:"user"`
	Timestamp    time.Time       `json:"timestamp"`
	ExpectedCash decimal.Decimal `json:"expectedCash"`
	Limit        decimal.Decimal `json:"limit"`
	ShiftID      string          `json:"shiftId,omitempty"`
}

// =============================================================================
// ORDERING
// =============================================================================

// SortCashCounts returns a chronologically sorted copy, stable on ties.
func SortCashCounts(events []CashCountEvent) []CashCountEvent {
	out := append([]CashCountEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SortSafeCounts returns a chronologically sorted copy, stable on ties.
func SortSafeCounts(events []SafeCountEvent) []SafeCountEvent {
	out := append([]SafeCountEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
