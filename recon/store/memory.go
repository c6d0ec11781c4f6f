// Package store provides in-memory recon store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

// data is everything a snapshot has to copy.
type data struct {
	cash      []recon.CashCountEvent
	safe      []recon.SafeCountEvent
	transfers []recon.KeycardTransferEvent
	txs       []recon.TillTransaction

	cashDiscrepancies    []recon.Discrepancy
	keycardDiscrepancies []recon.Discrepancy
	irregularities       []recon.Irregularity
	alerts               []recon.DrawerAlert

	settings recon.TillSettings
	ids      map[string]bool
}

func NewMemory() *Memory {
	return &Memory{data: data{ids: make(map[string]bool)}}
}

// NewMemoryWithSettings seeds the till settings.
func NewMemoryWithSettings(s recon.TillSettings) *Memory {
	m := NewMemory()
	m.settings = s
	return m
}

// claim rejects a non-empty id seen before in any stream.
func (d *data) claim(id string) error {
	if id == "" {
		return nil
	}
	if d.ids[id] {
		return recon.ErrDuplicateEvent
	}
	d.ids[id] = true
	return nil
}

// insertAt returns the index after every element at or before t, so equal
// timestamps keep insertion order.
func insertAt(n int, t time.Time, at func(int) time.Time) int {
	return sort.Search(n, func(i int) bool { return at(i).After(t) })
}

func insert[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// =============================================================================
// EVENT STREAMS
// =============================================================================

func (d *data) appendCashCount(e recon.CashCountEvent) error {
	if err := d.claim(e.ID); err != nil {
		return err
	}
	i := insertAt(len(d.cash), e.Timestamp, func(i int) time.Time { return d.cash[i].Timestamp })
	d.cash = insert(d.cash, i, e)
	return nil
}

func (d *data) appendSafeCount(e recon.SafeCountEvent) error {
	if err := d.claim(e.ID); err != nil {
		return err
	}
	i := insertAt(len(d.safe), e.Timestamp, func(i int) time.Time { return d.safe[i].Timestamp })
	d.safe = insert(d.safe, i, e)
	return nil
}

func (d *data) appendKeycardTransfer(e recon.KeycardTransferEvent) error {
	if err := d.claim(e.ID); err != nil {
		return err
	}
	i := insertAt(len(d.transfers), e.Timestamp, func(i int) time.Time { return d.transfers[i].Timestamp })
	d.transfers = insert(d.transfers, i, e)
	return nil
}

func (d *data) appendTransaction(t recon.TillTransaction) error {
	if err := d.claim(t.ID); err != nil {
		return err
	}
	i := insertAt(len(d.txs), t.Timestamp, func(i int) time.Time { return d.txs[i].Timestamp })
	d.txs = insert(d.txs, i, t)
	return nil
}

func (d *data) safeInRange(from, to time.Time) []recon.SafeCountEvent {
	var out []recon.SafeCountEvent
	for _, e := range d.safe {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) AppendCashCount(_ context.Context, e recon.CashCountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCashCount(e)
}

func (m *Memory) AppendSafeCount(_ context.Context, e recon.SafeCountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendSafeCount(e)
}

func (m *Memory) AppendKeycardTransfer(_ context.Context, e recon.KeycardTransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendKeycardTransfer(e)
}

func (m *Memory) AppendTransaction(_ context.Context, t recon.TillTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransaction(t)
}

func (m *Memory) CashCounts(_ context.Context) ([]recon.CashCountEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]recon.CashCountEvent(nil), m.cash...), nil
}

func (m *Memory) SafeCounts(_ context.Context) ([]recon.SafeCountEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]recon.SafeCountEvent(nil), m.safe...), nil
}

func (m *Memory) SafeCountsInRange(_ context.Context, from, to time.Time) ([]recon.SafeCountEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.safeInRange(from, to), nil
}

func (m *Memory) KeycardTransfers(_ context.Context) ([]recon.KeycardTransferEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]recon.KeycardTransferEvent(nil), m.transfers...), nil
}

func (m *Memory) Transactions(_ context.Context) ([]recon.TillTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]recon.TillTransaction(nil), m.txs...), nil
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

func (m *Memory) PostCashDiscrepancy(_ context.Context, d recon.Discrepancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cashDiscrepancies = append(m.cashDiscrepancies, d)
	return nil
}

func (m *Memory) PostKeycardDiscrepancy(_ context.Context, d recon.Discrepancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keycardDiscrepancies = append(m.keycardDiscrepancies, d)
	return nil
}

func (m *Memory) PostIrregularity(_ context.Context, i recon.Irregularity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.irregularities = append(m.irregularities, i)
	return nil
}

func (m *Memory) PostDrawerAlert(_ context.Context, a recon.DrawerAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func between(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func filterDiscrepancies(in []recon.Discrepancy, from, to time.Time) []recon.Discrepancy {
	var out []recon.Discrepancy
	for _, d := range in {
		if between(d.Timestamp, from, to) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Memory) CashDiscrepancies(_ context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterDiscrepancies(m.cashDiscrepancies, from, to), nil
}

func (m *Memory) KeycardDiscrepancies(_ context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterDiscrepancies(m.keycardDiscrepancies, from, to), nil
}

func (m *Memory) Irregularities(_ context.Context, from, to time.Time) ([]recon.Irregularity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []recon.Irregularity
	for _, i := range m.irregularities {
		if between(i.Timestamp, from, to) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *Memory) DrawerAlerts(_ context.Context, from, to time.Time) ([]recon.DrawerAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []recon.DrawerAlert
	for _, a := range m.alerts {
		if between(a.Timestamp, from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) TillSettings(_ context.Context) (recon.TillSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *Memory) SaveTillSettings(_ context.Context, s recon.TillSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a view of the store. Simulated with a snapshot
// that is restored when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(recon.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.data.clone()
	if err := fn(&txView{d: &m.data}); err != nil {
		m.data = snap
		return err
	}
	return nil
}

func (d *data) clone() data {
	c := data{
		cash:                 append([]recon.CashCountEvent(nil), d.cash...),
		safe:                 append([]recon.SafeCountEvent(nil), d.safe...),
		transfers:            append([]recon.KeycardTransferEvent(nil), d.transfers...),
		txs:                  append([]recon.TillTransaction(nil), d.txs...),
		cashDiscrepancies:    append([]recon.Discrepancy(nil), d.cashDiscrepancies...),
		keycardDiscrepancies: append([]recon.Discrepancy(nil), d.keycardDiscrepancies...),
		irregularities:       append([]recon.Irregularity(nil), d.irregularities...),
		alerts:               append([]recon.DrawerAlert(nil), d.alerts...),
		settings:             d.settings,
		ids:                  make(map[string]bool, len(d.ids)),
	}
	for k, v := range d.ids {
		c.ids[k] = v
	}
	return c
}

// txView operates on the parent's data while the parent lock is held.
type txView struct {
	d *data
}

func (v *txView) AppendCashCount(_ context.Context, e recon.CashCountEvent) error {
	return v.d.appendCashCount(e)
}

func (v *txView) AppendSafeCount(_ context.Context, e recon.SafeCountEvent) error {
	return v.d.appendSafeCount(e)
}

func (v *txView) AppendKeycardTransfer(_ context.Context, e recon.KeycardTransferEvent) error {
	return v.d.appendKeycardTransfer(e)
}

func (v *txView) AppendTransaction(_ context.Context, t recon.TillTransaction) error {
	return v.d.appendTransaction(t)
}

func (v *txView) CashCounts(_ context.Context) ([]recon.CashCountEvent, error) {
	return append([]recon.CashCountEvent(nil), v.d.cash...), nil
}

func (v *txView) SafeCounts(_ context.Context) ([]recon.SafeCountEvent, error) {
	return append([]recon.SafeCountEvent(nil), v.d.safe...), nil
}

func (v *txView) SafeCountsInRange(_ context.Context, from, to time.Time) ([]recon.SafeCountEvent, error) {
	return v.d.safeInRange(from, to), nil
}

func (v *txView) KeycardTransfers(_ context.Context) ([]recon.KeycardTransferEvent, error) {
	return append([]recon.KeycardTransferEvent(nil), v.d.transfers...), nil
}

func (v *txView) Transactions(_ context.Context) ([]recon.TillTransaction, error) {
	return append([]recon.TillTransaction(nil), v.d.txs...), nil
}

func (v *txView) PostCashDiscrepancy(_ context.Context, d recon.Discrepancy) error {
	v.d.cashDiscrepancies = append(v.d.cashDiscrepancies, d)
	return nil
}

func (v *txView) PostKeycardDiscrepancy(_ context.Context, d recon.Discrepancy) error {
	v.d.keycardDiscrepancies = append(v.d.keycardDiscrepancies, d)
	return nil
}

func (v *txView) PostIrregularity(_ context.Context, i recon.Irregularity) error {
	v.d.irregularities = append(v.d.irregularities, i)
	return nil
}

func (v *txView) PostDrawerAlert(_ context.Context, a recon.DrawerAlert) error {
	v.d.alerts = append(v.d.alerts, a)
	return nil
}

func (v *txView) CashDiscrepancies(_ context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	return filterDiscrepancies(v.d.cashDiscrepancies, from, to), nil
}

func (v *txView) KeycardDiscrepancies(_ context.Context, from, to time.Time) ([]recon.Discrepancy, error) {
	return filterDiscrepancies(v.d.keycardDiscrepancies, from, to), nil
}

func (v *txView) Irregularities(_ context.Context, from, to time.Time) ([]recon.Irregularity, error) {
	var out []recon.Irregularity
	for _, i := range v.d.irregularities {
		if between(i.Timestamp, from, to) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (v *txView) DrawerAlerts(_ context.Context, from, to time.Time) ([]recon.DrawerAlert, error) {
	var out []recon.DrawerAlert
	for _, a := range v.d.alerts {
		if between(a.Timestamp, from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *txView) TillSettings(_ context.Context) (recon.TillSettings, error) {
	return v.d.settings, nil
}

func (v *txView) SaveTillSettings(_ context.Context, s recon.TillSettings) error {
	v.d.settings = s
	return nil
}

var (
	_ recon.TxStore = (*Memory)(nil)
	_ recon.Store   = (*txView)(nil)
)
