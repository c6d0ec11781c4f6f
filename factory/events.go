/*
Package factory converts loosely-typed JSON event records into validated
recon events.

PURPOSE:
  Legacy exports store each stream as an object keyed by event id, with
  every numeric field optional and numbers sometimes quoted. The factory
  turns those records into the tagged event types, checking that each
  record carries the fields its type needs.

JSON SCHEMA:
  {
    "cashCounts": {
      "-Nab1": {"user": "anna", "timestamp": "2025-03-10T08:00:00Z",
                "type": "opening", "count": 100, "keycardCount": 10}
    },
    "safeCounts": {
      "-Nab2": {"user": "anna", "timestamp": "2025-03-10T12:00:00Z",
                "type": "exchange", "amount": "20", "direction": "drawerToSafe"}
    },
    "keycardTransfers": {
      "-Nab3": {"user": "bob", "timestamp": "...", "count": 3, "direction": "toSafe"}
    },
    "transactions": {
      "-Nab4": {"user": "anna", "timestamp": "...", "amount": 12.5,
                "method": "cash", "kind": "sale"}
    }
  }

REQUIRED FIELDS BY TYPE:
  cash opening, close, reconcile     count
  cash float, tenderRemoval          amount != 0 (signed; negatives undo)
  safe opening, safeReset            count
  safe safeReconcile                 count or difference
  safe deposit, withdrawal, bank*,
       pettyWithdrawal, exchange     amount > 0
  keycard transfer                   count >= 0, direction
  transaction                        amount, method

  An exchange with an unknown direction is accepted; it stays
  unclassified in reports.

SEE ALSO:
  - recon/events.go: the event types produced here
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RecordJSON is one legacy record. Which fields matter depends on the
// stream and type.
type RecordJSON struct {
	User              string              `json:"user"`
	Timestamp         string              `json:"timestamp"`
	Type              string              `json:"type,omitempty"`
	Count             decimal.NullDecimal `json:"count"`
	Amount            decimal.NullDecimal `json:"amount"`
	KeycardCount      decimal.NullDecimal `json:"keycardCount"`
	Difference        decimal.NullDecimal `json:"difference"`
	KeycardDifference decimal.NullDecimal `json:"keycardDifference"`
	Direction         string              `json:"direction,omitempty"`
	ShiftID           string              `json:"shiftId,omitempty"`
	Method            string              `json:"method,omitempty"`
	Kind              string              `json:"kind,omitempty"`
	IsKeycard         bool                `json:"isKeycard,omitempty"`
}

// ExportJSON is the whole legacy export.
type ExportJSON struct {
	CashCounts       map[string]RecordJSON `json:"cashCounts"`
	SafeCounts       map[string]RecordJSON `json:"safeCounts"`
	KeycardTransfers map[string]RecordJSON `json:"keycardTransfers"`
	Transactions     map[string]RecordJSON `json:"transactions"`
}

// Batch holds parsed events, each stream in chronological order.
type Batch struct {
	CashCounts       []recon.CashCountEvent
	SafeCounts       []recon.SafeCountEvent
	KeycardTransfers []recon.KeycardTransferEvent
	Transactions     []recon.TillTransaction
}

func (b Batch) Len() int {
	return len(b.CashCounts) + len(b.SafeCounts) + len(b.KeycardTransfers) + len(b.Transactions)
}

// AppendTo writes every event of the batch. Callers wanting all-or-nothing
// pass the store view handed out by WithTx.
func (b Batch) AppendTo(ctx context.Context, s recon.EventStore) error {
	for _, e := range b.CashCounts {
		if err := s.AppendCashCount(ctx, e); err != nil {
			return fmt.Errorf("cash count %s: %w", e.ID, err)
		}
	}
	for _, e := range b.SafeCounts {
		if err := s.AppendSafeCount(ctx, e); err != nil {
			return fmt.Errorf("safe count %s: %w", e.ID, err)
		}
	}
	for _, e := range b.KeycardTransfers {
		if err := s.AppendKeycardTransfer(ctx, e); err != nil {
			return fmt.Errorf("keycard transfer %s: %w", e.ID, err)
		}
	}
	for _, t := range b.Transactions {
		if err := s.AppendTransaction(ctx, t); err != nil {
			return fmt.Errorf("transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// ParseExport parses a whole export. Every invalid record is reported;
// no partial batch is returned.
func ParseExport(data []byte) (*Batch, error) {
	var ej ExportJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return nil, fmt.Errorf("%w: failed to parse export JSON: %v", recon.ErrInvalidEvent, err)
	}
	return FromJSON(ej)
}

func FromJSON(ej ExportJSON) (*Batch, error) {
	var (
		b    Batch
		errs []error
	)
	for _, id := range sortedKeys(ej.CashCounts) {
		e, err := CashCount(id, ej.CashCounts[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.CashCounts = append(b.CashCounts, e)
	}
	for _, id := range sortedKeys(ej.SafeCounts) {
		e, err := SafeCount(id, ej.SafeCounts[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.SafeCounts = append(b.SafeCounts, e)
	}
	for _, id := range sortedKeys(ej.KeycardTransfers) {
		e, err := KeycardTransfer(id, ej.KeycardTransfers[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.KeycardTransfers = append(b.KeycardTransfers, e)
	}
	for _, id := range sortedKeys(ej.Transactions) {
		t, err := Transaction(id, ej.Transactions[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.Transactions = append(b.Transactions, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	b.CashCounts = recon.SortCashCounts(b.CashCounts)
	b.SafeCounts = recon.SortSafeCounts(b.SafeCounts)
	sort.SliceStable(b.KeycardTransfers, func(i, j int) bool {
		return b.KeycardTransfers[i].Timestamp.Before(b.KeycardTransfers[j].Timestamp)
	})
	sort.SliceStable(b.Transactions, func(i, j int) bool {
		return b.Transactions[i].Timestamp.Before(b.Transactions[j].Timestamp)
	})
	return &b, nil
}

// Map keys sorted so that ties in timestamp come out in id order.
func sortedKeys(m map[string]RecordJSON) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func invalid(kind, typ, field, msg string) error {
	return &recon.EventValidationError{Kind: kind, Type: typ, Field: field, Msg: msg}
}

func common(kind, id string, r RecordJSON) (time.Time, error) {
	if id == "" {
		return time.Time{}, invalid(kind, r.Type, "id", "is empty")
	}
	if r.User == "" {
		return time.Time{}, invalid(kind, r.Type, "user", "is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, invalid(kind, r.Type, "timestamp", fmt.Sprintf("%q is not RFC 3339", r.Timestamp))
	}
	return ts, nil
}

func positive(kind, typ, field string, v decimal.NullDecimal) error {
	if !v.Valid {
		return invalid(kind, typ, field, "is required")
	}
	if !v.Decimal.IsPositive() {
		return invalid(kind, typ, field, "must be positive")
	}
	return nil
}

func nonZero(kind, typ, field string, v decimal.NullDecimal) error {
	if !v.Valid {
		return invalid(kind, typ, field, "is required")
	}
	if v.Decimal.IsZero() {
		return invalid(kind, typ, field, "must not be zero")
	}
	return nil
}

func present(kind, typ, field string, v decimal.NullDecimal) error {
	if !v.Valid {
		return invalid(kind, typ, field, "is required")
	}
	return nil
}

// CashCount validates one till-side record.
func CashCount(id string, r RecordJSON) (recon.CashCountEvent, error) {
	const kind = "cash count"
	ts, err := common(kind, id, r)
	if err != nil {
		return recon.CashCountEvent{}, err
	}
	typ := recon.CashCountType(r.Type)
	switch typ {
	case recon.CashOpening, recon.CashClose, recon.CashReconcile:
		err = present(kind, r.Type, "count", r.Count)
	case recon.CashFloat, recon.CashTenderRemoval:
		err = nonZero(kind, r.Type, "amount", r.Amount)
	default:
		err = invalid(kind, r.Type, "type", "is unknown")
	}
	if err != nil {
		return recon.CashCountEvent{}, err
	}
	return recon.CashCountEvent{
		ID:           id,
		User:         r.User,
		Timestamp:    ts,
		Type:         typ,
		Count:        r.Count,
		Amount:       r.Amount,
		KeycardCount: r.KeycardCount,
		Difference:   r.Difference,
		ShiftID:      r.ShiftID,
	}, nil
}

// SafeCount validates one safe-side record.
func SafeCount(id string, r RecordJSON) (recon.SafeCountEvent, error) {
	const kind = "safe count"
	ts, err := common(kind, id, r)
	if err != nil {
		return recon.SafeCountEvent{}, err
	}
	typ := recon.SafeCountType(r.Type)
	switch typ {
	case recon.SafeOpening, recon.SafeReset:
		err = present(kind, r.Type, "count", r.Count)
	case recon.SafeReconcile:
		if !r.Count.Valid && !r.Difference.Valid {
			err = invalid(kind, r.Type, "count", "or difference is required")
		}
	case recon.SafeDeposit, recon.SafeWithdrawal, recon.SafeBankDeposit,
		recon.SafeBankWithdrawal, recon.SafePettyWithdrawal, recon.SafeExchange:
		err = positive(kind, r.Type, "amount", r.Amount)
	default:
		err = invalid(kind, r.Type, "type", "is unknown")
	}
	if err != nil {
		return recon.SafeCountEvent{}, err
	}
	return recon.SafeCountEvent{
		ID:                id,
		User:              r.User,
		Timestamp:         ts,
		Type:              typ,
		Amount:            r.Amount,
		Count:             r.Count,
		Difference:        r.Difference,
		KeycardCount:      r.KeycardCount,
		KeycardDifference: r.KeycardDifference,
		Direction:         recon.ExchangeDirection(r.Direction),
	}, nil
}

// KeycardTransfer validates one transfer record.
func KeycardTransfer(id string, r RecordJSON) (recon.KeycardTransferEvent, error) {
	const kind = "keycard transfer"
	ts, err := common(kind, id, r)
	if err != nil {
		return recon.KeycardTransferEvent{}, err
	}
	if err := present(kind, r.Direction, "count", r.Count); err != nil {
		return recon.KeycardTransferEvent{}, err
	}
	if r.Count.Decimal.IsNegative() {
		return recon.KeycardTransferEvent{}, invalid(kind, r.Direction, "count", "must not be negative")
	}
	dir := recon.TransferDirection(r.Direction)
	if dir != recon.ToSafe && dir != recon.FromSafe {
		return recon.KeycardTransferEvent{}, invalid(kind, r.Direction, "direction", "is unknown")
	}
	return recon.KeycardTransferEvent{
		ID:        id,
		User:      r.User,
		Timestamp: ts,
		Count:     r.Count.Decimal,
		Direction: dir,
	}, nil
}

// Transaction validates one till transaction. Kind defaults to sale.
func Transaction(id string, r RecordJSON) (recon.TillTransaction, error) {
	const kind = "transaction"
	ts, err := common(kind, id, r)
	if err != nil {
		return recon.TillTransaction{}, err
	}
	if err := present(kind, r.Kind, "amount", r.Amount); err != nil {
		return recon.TillTransaction{}, err
	}
	method := recon.PaymentMethod(r.Method)
	switch method {
	case recon.MethodCash, recon.MethodCard, recon.MethodOther:
	default:
		return recon.TillTransaction{}, invalid(kind, r.Kind, "method", "is unknown")
	}
	k := recon.TransactionKind(r.Kind)
	switch k {
	case "":
		k = recon.KindSale
	case recon.KindSale, recon.KindLoan, recon.KindRefund:
	default:
		return recon.TillTransaction{}, invalid(kind, r.Kind, "kind", "is unknown")
	}
	count := recon.Or(r.Count)
	if r.IsKeycard && !count.IsPositive() {
		return recon.TillTransaction{}, invalid(kind, r.Kind, "count", "must be positive for keycards")
	}
	return recon.TillTransaction{
		ID:        id,
		User:      r.User,
		Timestamp: ts,
		Amount:    r.Amount.Decimal,
		Method:    method,
		Kind:      k,
		IsKeycard: r.IsKeycard,
		Count:     count,
	}, nil
}
