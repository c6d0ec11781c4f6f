/*
Package sqlite provides a SQLite-backed implementation of the recon store
interfaces.

PURPOSE:
  Persists the four event streams, the audit sinks and the till settings.
  Implements recon.TxStore, so the till engine, the safe service and the
  report builder run against it unchanged.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE on events, discrepancies, irregularities, drawer_alerts
  - Corrections are new events (reconcile, reset)
  - till_settings is the only mutable row

KEY TABLES:
  events:         All four streams, one row per event, keyed by id.
                  The shared primary key rejects an id reused across
                  streams.
  discrepancies:  Cash and keycard discrepancies (kind column)
  irregularities: Unconfirmed card receipts at close
  drawer_alerts:  Drawer over its cash limit
  till_settings:  Single row, re-read on every drawer evaluation

ORDERING:
  Timestamps are stored as UTC unix nanoseconds (ts_ns). Reads order by
  ts_ns, then rowid, so ties keep insertion order.

CONCURRENCY:
  One connection, guarded by sync.RWMutex. A single terminal writes at a
  time; ":memory:" databases need the single connection anyway.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/till.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := till.NewEngine(store, till.Config{...})

SEE ALSO:
  - recon/store.go: Interface definitions
  - recon/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/recon"
)

// Stream names stored in events.stream.
const (
	streamCash        = "cash"
	streamSafe        = "safe"
	streamTransfer    = "transfer"
	streamTransaction = "transaction"
)

// Store implements recon.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ recon.TxStore = (*Store)(nil)
	_ recon.Store   = (*txStore)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Event streams (append-only)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		stream TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ts_ns INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		count TEXT,
		amount TEXT,
		keycard_count TEXT,
		difference TEXT,
		keycard_difference TEXT,
		direction TEXT NOT NULL DEFAULT '',
		shift_id TEXT NOT NULL DEFAULT '',
		signed_off_by TEXT NOT NULL DEFAULT '',
		signoff_note TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		is_keycard INTEGER NOT NULL DEFAULT 0
	);

	-- Stream replay and the safe window probes (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_stream_ts
		ON events(stream, ts_ns);

	-- Audit records
	CREATE TABLE IF NOT EXISTS discrepancies (
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ts_ns INTEGER NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_discrepancies_kind_ts
		ON discrepancies(kind, ts_ns);

	CREATE TABLE IF NOT EXISTS irregularities (
		action TEXT NOT NULL,
		missing_count INTEGER NOT NULL,
		ts_ns INTEGER NOT NULL,
		user_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_irregularities_ts
		ON irregularities(ts_ns);

	CREATE TABLE IF NOT EXISTS drawer_alerts (
		user_id TEXT NOT NULL,
		ts_ns INTEGER NOT NULL,
		expected_cash TEXT NOT NULL,
		limit_amount TEXT NOT NULL,
		shift_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_drawer_alerts_ts
		ON drawer_alerts(ts_ns);

	-- Settings (single row)
	CREATE TABLE IF NOT EXISTS till_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		drawer_limit TEXT NOT NULL,
		pin_required_above_limit INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// EVENT STREAMS (recon.EventStore interface)
// =============================================================================

// eventRow is the column set shared by every stream.
type eventRow struct {
	ID                string
	Stream            string
	User              string
	At                time.Time
	Type              string
	Count             decimal.NullDecimal
	Amount            decimal.NullDecimal
	KeycardCount      decimal.NullDecimal
	Difference        decimal.NullDecimal
	KeycardDifference decimal.NullDecimal
	Direction         string
	ShiftID           string
	SignedOffBy       string
	SignoffNote       string
	Method            string
	Kind              string
	IsKeycard         bool
}

const eventColumns = `id, stream, user_id, ts_ns, type, count, amount, keycard_count, difference,
	keycard_difference, direction, shift_id, signed_off_by, signoff_note, method, kind, is_keycard`

func insertEvent(ctx context.Context, db dbtx, r eventRow) error {
	query := `INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		r.ID, r.Stream, r.User, r.At.UnixNano(), r.Type,
		nullDecimal(r.Count), nullDecimal(r.Amount), nullDecimal(r.KeycardCount),
		nullDecimal(r.Difference), nullDecimal(r.KeycardDifference),
		r.Direction, r.ShiftID, r.SignedOffBy, r.SignoffNote, r.Method, r.Kind, r.IsKeycard,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", recon.ErrDuplicateEvent, r.ID)
		}
		return fmt.Errorf("failed to append %s event: %w", r.Stream, err)
	}
	return nil
}

func queryEvents(ctx context.Context, db dbtx, where string, args ...any) ([]eventRow, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where + ` ORDER BY ts_ns, rowid`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []eventRow
	for rows.Next() {
		var (
			r                                   eventRow
			tsNs                                int64
			count, amount, keys, diff, keysDiff sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Stream, &r.User, &tsNs, &r.Type,
			&count, &amount, &keys, &diff, &keysDiff,
			&r.Direction, &r.ShiftID, &r.SignedOffBy, &r.SignoffNote, &r.Method, &r.Kind, &r.IsKeycard,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.At = fromNanos(tsNs)
		for _, f := range []struct {
			src sql.NullString
			dst *decimal.NullDecimal
		}{
			{count, &r.Count}, {amount, &r.Amount}, {keys, &r.KeycardCount},
			{diff, &r.Difference}, {keysDiff, &r.KeycardDifference},
		} {
			if *f.dst, err = parseNullDecimal(f.src); err != nil {
				return nil, fmt.Errorf("event %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func cashRow(e recon.CashCountEvent) eventRow {
	return eventRow{
		ID: e.ID, Stream: streamCash, User: e.User, At: e.Timestamp, Type: string(e.Type),
		Count: e.Count, Amount: e.Amount, KeycardCount: e.KeycardCount, Difference: e.Difference,
		ShiftID: e.ShiftID, SignedOffBy: e.SignedOffBy, SignoffNote: e.SignoffNote,
	}
}

func (r eventRow) cash() recon.CashCountEvent {
	return recon.CashCountEvent{
		ID: r.ID, User: r.User, Timestamp: r.At, Type: recon.CashCountType(r.Type),
		Count: r.Count, Amount: r.Amount, KeycardCount: r.KeycardCount, Difference: r.Difference,
		ShiftID: r.ShiftID, SignedOffBy: r.SignedOffBy, SignoffNote: r.SignoffNote,
	}
}

func safeRow(e recon.SafeCountEvent) eventRow {
	return eventRow{
		ID: e.ID, Stream: streamSafe, User: e.User, At: e.Timestamp, Type: string(e.Type),
		Count: e.Count, Amount: e.Amount, KeycardCount: e.KeycardCount, Difference: e.Difference,
		KeycardDifference: e.KeycardDifference, Direction: string(e.Direction),
	}
}

func (r eventRow) safe() recon.SafeCountEvent {
	return recon.SafeCountEvent{
		ID: r.ID, User: r.User, Timestamp: r.At, Type: recon.SafeCountType(r.Type),
		Count: r.Count, Amount: r.Amount, KeycardCount: r.KeycardCount, Difference: r.Difference,
		KeycardDifference: r.KeycardDifference, Direction: recon.ExchangeDirection(r.Direction),
	}
}

func transferRow(e recon.KeycardTransferEvent) eventRow {
	return eventRow{
		ID: e.ID, Stream: streamTransfer, User: e.User, At: e.Timestamp,
		Count: recon.Some(e.Count), Direction: string(e.Direction),
	}
}

func (r eventRow) transfer() recon.KeycardTransferEvent {
	return recon.KeycardTransferEvent{
		ID: r.ID, User: r.User, Timestamp: r.At,
		Count: recon.Or(r.Count), Direction: recon.TransferDirection(r.Direction),
	}
}

func transactionRow(t recon.TillTransaction) eventRow {
	return eventRow{
		ID: t.ID, Stream: streamTransaction, User: t.User, At: t.Timestamp,
		Amount: recon.Some(t.Amount), Count: recon.Some(t.Count),
		Method: string(t.Method), Kind: string(t.Kind), IsKeycard: t.IsKeycard,
	}
}

func (r eventRow) transaction() recon.TillTransaction {
	return recon.TillTransaction{
		ID: r.ID, User: r.User, Timestamp: r.At, Amount: recon.Or(r.Amount), Count: recon.Or(r.Count),
		Method: recon.PaymentMethod(r.Method), Kind: recon.TransactionKind(r.Kind), IsKeycard: r.IsKeycard,
	}
}

func mapRows[T any](rows []eventRow, f func(eventRow) T) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, f(r))
	}
	return out
}

// The reads below take the lock themselves; txStore calls the same
// helpers against the open *sql.Tx without it.

func cashCounts(ctx context.Context, db dbtx) ([]recon.CashCountEvent, error) {
	rows, err := queryEvents(ctx, db, "stream = ?", streamCash)
	return mapRows(rows, eventRow.cash), err
}

func safeCounts(ctx context.Context, db dbtx) ([]recon.SafeCountEvent, error) {
	rows, err := queryEvents(ctx, db, "stream = ?", streamSafe)
	return mapRows(rows, eventRow.safe), err
}

func safeCountsInRange(ctx context.Context, db dbtx, from, to time.Time) ([]recon.SafeCountEvent, error) {
	rows, err := queryEvents(ctx, db, "stream = ? AND ts_ns >= ? AND ts_ns <= ?",
		streamSafe, from.UnixNano(), to.UnixNano())
	return mapRows(rows, eventRow.safe), err
}

func keycardTransfers(ctx context.Context, db dbtx) ([]recon.KeycardTransferEvent, error) {
	rows, err := queryEvents(ctx, db, "stream = ?", streamTransfer)
	return mapRows(rows, eventRow.transfer), err
}

func transactions(ctx context.Context, db dbtx) ([]recon.TillTransaction, error) {
	rows, err := queryEvents(ctx, db, "stream = ?", streamTransaction)
	return mapRows(rows, eventRow.transaction), err
}

func (s *Store) AppendCashCount(ctx context.Context, e recon.CashCountEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, cashRow(e))
}

func (s *Store) AppendSafeCount(ctx context.Context, e recon.SafeCountEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, safeRow(e))
}

func (s *Store) AppendKeycardTransfer(ctx context.Context, e recon.KeycardTransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, transferRow(e))
}

func (s *Store) AppendTransaction(ctx context.Context, t recon.TillTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, transactionRow(t))
}

func (s *Store) CashCounts(ctx context.Context) ([]recon.CashCountEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cashCounts(ctx, s.db)
}

func (s *Store) SafeCounts(ctx context.Context) ([]recon.SafeCountEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return safeCounts(ctx, s.db)
}

func (s *Store) SafeCountsInRange(ctx context.Context, from, to time.Time) ([]recon.SafeCountEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return safeCountsInRange(ctx, s.db, from, to)
}

func (s *Store) KeycardTransfers(ctx context.Context) ([]recon.KeycardTransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keycardTransfers(ctx, s.db)
}

func (s *Store) Transactions(ctx context.Context) ([]recon.TillTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactions(ctx, s.db)
}

// =============================================================================
// AUDIT RECORDS (recon.AuditSink / recon.AuditSource)
// =============================================================================

const (
	kindCash    = "cash"
	kindKeycard = "keycard"
)

func postDiscrepancy(ctx context.Context, db dbtx, kind string, d recon.Discrepancy) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO discrepancies (kind, user_id, ts_ns, amount) VALUES (?, ?, ?, ?)`,
		kind, d.User, d.Timestamp.UnixNano(), d.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to post %s discrepancy: %w", kind, err)
	}
	return nil
}

func postIrregularity(ctx context.Context, db dbtx, i recon.Irregularity) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO irregularities (action, missing_count, ts_ns, user_id) VALUES (?, ?, ?, ?)`,
		i.Action, i.MissingCount, i.Timestamp.UnixNano(), i.User)
	if err != nil {
		return fmt.Errorf("failed to post irregularity: %w", err)
	}
	return nil
}

func postDrawerAlert(ctx context.Context, db dbtx, a recon.DrawerAlert) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO drawer_alerts (user_id, ts_ns, expected_cash, limit_amount, shift_id) VALUES (?, ?, ?, ?, ?)`,
		a.User, a.Timestamp.UnixNano(), a.ExpectedCash.String(), a.Limit.String(), a.ShiftID)
	if err != nil {
		return fmt.Errorf("failed to post drawer alert: %w", err)
	}
	return nil
}

func (s *Store) PostCashDiscrepancy(ctx context.Context, d recon.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return postDiscrepancy(ctx, s.db, kindCash, d)
}

func (s *Store) PostKeycardDiscrepancy(ctx context.Context, d recon.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return postDiscrepancy(ctx, s.db, kindKeycard, d)
}

func (s *Store) PostIrregularity(ctx context.Context, i recon.Irregularity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return postIrregularity(ctx, s.db, i)
}

func (s *Store) PostDrawerAlert(ctx context.Context, a recon.DrawerAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return postDrawerAlert(ctx, s.db, a)
}

func discrepancies(ctx context.Context, db dbtx, kind string, from, to time.Time) ([]recon.Discrepancy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, ts_ns, amount FROM discrepancies
		WHERE kind = ? AND ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns, rowid`, kind, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	defer rows.Close()

	var out []recon.Discrepancy
	for rows.Next() {
		var (
			d      recon.Discrepancy
			tsNs   int64
			amount string
		)
		if err := rows.Scan(&d.User, &tsNs, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		d.Timestamp = fromNanos(tsNs)
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("discrepancy amount %q: %w", amount, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func irregularities(ctx context.Context, db dbtx, from, to time.Time) ([]recon.Irregularity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT action, missing_count, ts_ns, user_id FROM irregularities
		WHERE ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns, rowid`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query irregularities: %w", err)
	}
	defer rows.Close()

	var out []recon.Irregularity
	for rows.Next() {
		var (
			i    recon.Irregularity
			tsNs int64
		)
		if err := rows.Scan(&i.Action, &i.MissingCount, &tsNs, &i.User); err != nil {
			return nil, fmt.Errorf("failed to scan irregularity: %w", err)
		}
		i.Timestamp = fromNanos(tsNs)
		out = append(out, i)
	}
	return out, rows.Err()
}

func drawerAlerts(ctx context.Context, db dbtx, from, to time.Time) ([]recon.DrawerAlert, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, ts_ns, expected_cash, limit_amount, shift_id FROM drawer_alerts
		WHERE ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns, rowid`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query drawer alerts: %w", err)
	}
	defer rows.Close()

	var out []recon.DrawerAlert
	for rows.Next() {
		var (
			a               recon.DrawerAlert
			tsNs            int64
			expected, limit string
		)
		if err := rows.Scan(&a.User, &tsNs, &expected, &limit, &a.ShiftID); err != nil {
			return nil, fmt.Errorf("failed to scan drawer alert: %w", err)
		}
		a.Timestamp = fromNanos(tsNs)
		if a.ExpectedCash, err = decimal.NewFromString(expected); err != nil {
			return nil, err
		}
		if a.Limit, err = decimal.NewFromString(limit); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CashDiscrepancies(ctx context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return discrepancies(ctx, s.db, kindCash, from, to)
}

func (s *Store) KeycardDiscrepancies(ctx context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return discrepancies(ctx, s.db, kindKeycard, from, to)
}

func (s *Store) Irregularities(ctx context.Context, from, to time.Time) ([]recon.Irregularity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return irregularities(ctx, s.db, from, to)
}

func (s *Store) DrawerAlerts(ctx context.Context, from, to time.Time) ([]recon.DrawerAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return drawerAlerts(ctx, s.db, from, to)
}

// =============================================================================
// SETTINGS (recon.SettingsStore)
// =============================================================================

func tillSettings(ctx context.Context, db dbtx) (recon.TillSettings, error) {
	var (
		limit string
		pin   bool
	)
	err := db.QueryRowContext(ctx,
		`SELECT drawer_limit, pin_required_above_limit FROM till_settings WHERE id = 1`).Scan(&limit, &pin)
	if errors.Is(err, sql.ErrNoRows) {
		return recon.TillSettings{DrawerLimit: decimal.Zero}, nil
	}
	if err != nil {
		return recon.TillSettings{}, fmt.Errorf("failed to load till settings: %w", err)
	}
	d, err := decimal.NewFromString(limit)
	if err != nil {
		return recon.TillSettings{}, fmt.Errorf("drawer limit %q: %w", limit, err)
	}
	return recon.TillSettings{DrawerLimit: d, PinRequiredAboveLimit: pin}, nil
}

func saveTillSettings(ctx context.Context, db dbtx, st recon.TillSettings, onConflict string) error {
	query := `
		INSERT INTO till_settings (id, drawer_limit, pin_required_above_limit, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO ` + onConflict
	_, err := db.ExecContext(ctx, query,
		st.DrawerLimit.String(), st.PinRequiredAboveLimit, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save till settings: %w", err)
	}
	return nil
}

const (
	overwrite = `UPDATE SET drawer_limit = excluded.drawer_limit,
		pin_required_above_limit = excluded.pin_required_above_limit,
		updated_at = excluded.updated_at`
	keep = `NOTHING`
)

func (s *Store) TillSettings(ctx context.Context) (recon.TillSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tillSettings(ctx, s.db)
}

func (s *Store) SaveTillSettings(ctx context.Context, st recon.TillSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTillSettings(ctx, s.db, st, overwrite)
}

// SeedTillSettings stores st only if no settings exist yet.
func (s *Store) SeedTillSettings(ctx context.Context, st recon.TillSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTillSettings(ctx, s.db, st, keep)
}

// =============================================================================
// TRANSACTIONAL STORE (recon.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Reads through the
// store handed to fn see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store recon.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendCashCount(ctx context.Context, e recon.CashCountEvent) error {
	return insertEvent(ctx, ts.tx, cashRow(e))
}

func (ts *txStore) AppendSafeCount(ctx context.Context, e recon.SafeCountEvent) error {
	return insertEvent(ctx, ts.tx, safeRow(e))
}

func (ts *txStore) AppendKeycardTransfer(ctx context.Context, e recon.KeycardTransferEvent) error {
	return insertEvent(ctx, ts.tx, transferRow(e))
}

func (ts *txStore) AppendTransaction(ctx context.Context, t recon.TillTransaction) error {
	return insertEvent(ctx, ts.tx, transactionRow(t))
}

func (ts *txStore) CashCounts(ctx context.Context) ([]recon.CashCountEvent, error) {
	return cashCounts(ctx, ts.tx)
}

func (ts *txStore) SafeCounts(ctx context.Context) ([]recon.SafeCountEvent, error) {
	return safeCounts(ctx, ts.tx)
}

func (ts *txStore) SafeCountsInRange(ctx context.Context, from, to time.Time) ([]recon.SafeCountEvent, error) {
	return safeCountsInRange(ctx, ts.tx, from, to)
}

func (ts *txStore) KeycardTransfers(ctx context.Context) ([]recon.KeycardTransferEvent, error) {
	return keycardTransfers(ctx, ts.tx)
}

func (ts *txStore) Transactions(ctx context.Context) ([]recon.TillTransaction, error) {
	return transactions(ctx, ts.tx)
}

func (ts *txStore) PostCashDiscrepancy(ctx context.Context, d recon.Discrepancy) error {
	return postDiscrepancy(ctx, ts.tx, kindCash, d)
}

func (ts *txStore) PostKeycardDiscrepancy(ctx context.Context, d recon.Discrepancy) error {
	return postDiscrepancy(ctx, ts.tx, kindKeycard, d)
}

func (ts *txStore) PostIrregularity(ctx context.Context, i recon.Irregularity) error {
	return postIrregularity(ctx, ts.tx, i)
}

func (ts *txStore) PostDrawerAlert(ctx context.Context, a recon.DrawerAlert) error {
	return postDrawerAlert(ctx, ts.tx, a)
}

func (ts *txStore) CashDiscrepancies(ctx context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	return discrepancies(ctx, ts.tx, kindCash, from, to)
}

func (ts *txStore) KeycardDiscrepancies(ctx context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	return discrepancies(ctx, ts.tx, kindKeycard, from, to)
}

func (ts *txStore) Irregularities(ctx context.Context, from, to time.Time) ([]recon.Irregularity, error) {
	return irregularities(ctx, ts.tx, from, to)
}

func (ts *txStore) DrawerAlerts(ctx context.Context, from, to time.Time) ([]recon.DrawerAlert, error) {
	return drawerAlerts(ctx, ts.tx, from, to)
}

func (ts *txStore) TillSettings(ctx context.Context) (recon.TillSettings, error) {
	return tillSettings(ctx, ts.tx)
}

func (ts *txStore) SaveTillSettings(ctx context.Context, st recon.TillSettings) error {
	return saveTillSettings(ctx, ts.tx, st, overwrite)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"events", "discrepancies", "irregularities", "drawer_alerts", "till_settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
