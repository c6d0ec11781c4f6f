/*
store.go - Persistence interfaces for the event streams

PURPOSE:
  The engine is a computation layer. Everything it reads and writes goes
  through these interfaces; SQLite and in-memory implementations live in
  store/sqlite and recon/store.

APPEND-ONLY CONTRACT:
  Events are never updated or deleted. Corrections are new events
  (a reconcile, a reset, a discrepancy). An event id that already exists
  is rejected with ErrDuplicateEvent.

KEY INTERFACES:
  EventStore:    the four input streams
  AuditSink:     discrepancy, irregularity and drawer alert writes
  AuditSource:   reading those records back for reports
  SettingsStore: hot-reloadable till policy
  TxStore:       all of the above plus atomic multi-write

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - recon/store/memory.go: in-memory implementation for tests
*/
package recon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENT STREAMS
// =============================================================================

type EventStore interface {
	SafeRangeQuerier

	AppendCashCount(ctx context.Context, e CashCountEvent) error
	AppendSafeCount(ctx context.Context, e SafeCountEvent) error
	AppendKeycardTransfer(ctx context.Context, e KeycardTransferEvent) error
	AppendTransaction(ctx context.Context, t TillTransaction) error

	// Reads return chronological order.
	CashCounts(ctx context.Context) ([]CashCountEvent, error)
	SafeCounts(ctx context.Context) ([]SafeCountEvent, error)
	KeycardTransfers(ctx context.Context) ([]KeycardTransferEvent, error)
	Transactions(ctx context.Context) ([]TillTransaction, error)
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

// AuditSink accepts the secondary writes. Cash and keycard discrepancies
// are separate sinks.
type AuditSink interface {
	PostCashDiscrepancy(ctx context.Context, d Discrepancy) error
	PostKeycardDiscrepancy(ctx context.Context, d Discrepancy) error
	PostIrregularity(ctx context.Context, i Irregularity) error
	PostDrawerAlert(ctx context.Context, a DrawerAlert) error
}

// AuditSource reads audit records with from <= timestamp <= to.
type AuditSource interface {
	CashDiscrepancies(ctx context.Context, from, to time.Time) ([]Discrepancy, error)
	KeycardDiscrepancies(ctx context.Context, from, to time.Time) ([]Discrepancy, error)
	Irregularities(ctx context.Context, from, to time.Time) ([]Irregularity, error)
	DrawerAlerts(ctx context.Context, from, to time.Time) ([]DrawerAlert, error)
}

// =============================================================================
// SETTINGS - Re-read on every evaluation
// =============================================================================

// TillSettings is the externally supplied till policy.
type TillSettings struct {
	DrawerLimit           decimal.Decimal
	PinRequiredAboveLimit bool
}

type SettingsStore interface {
	TillSettings(ctx context.Context) (TillSettings, error)
	SaveTillSettings(ctx context.Context, s TillSettings) error
}

// =============================================================================
// COMBINED
// =============================================================================

type Store interface {
	EventStore
	AuditSink
	AuditSource
	SettingsStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write inside it is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
