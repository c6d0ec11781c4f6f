/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with one
	realistic reception day: safe baseline, till shift, sales, drawer
	movements and the audit records the engine would have posted. Each
	scenario exercises one part of the end-of-day reconciliation.

AVAILABLE SCENARIOS:

	balanced-day:      One shift, one safe drop, every check passes
	safe-flows:        Every safe movement type, in and outflows
	short-drawer:      Cash short at close, unconfirmed card receipts
	keycard-shortfall: Refused keycard return and its discrepancy

HOW SCENARIOS WORK:
 1. Reset database (clear all data, keep the till settings)
 2. Write the scenario's events for yesterday (local date) in one transaction
 3. Drop cached terminal sessions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "safe-flows"}

	GET /api/reports/eod?date=<date from the response>

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Write a loader: func(s *seeder) error
 3. Add it to the 'loaders' map

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Import (the same events from a legacy export)
  - report/builder.go: what the scenarios are checked against
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/till-engine/recon"
)

// Resetter clears every stored record.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "balanced-day",
		Name:        "Balanced Day",
		Description: "Opening 100, cash sale 50, safe drop 10, close 140: no mismatches",
		Category:    "till",
	},
	{
		ID:          "safe-flows",
		Name:        "Safe Flows",
		Description: "Deposit 50, bank withdrawal 20, safe withdrawal 40, bank drop 10: inflows 70, outflows 50",
		Category:    "safe",
	},
	{
		ID:          "short-drawer",
		Name:        "Short Drawer",
		Description: "Close 5 under expected with two unconfirmed card receipts",
		Category:    "till",
	},
	{
		ID:          "keycard-shortfall",
		Name:        "Keycard Shortfall",
		Description: "Returning 5 keycards with 3 held is refused and posts -2",
		Category:    "keycards",
	},
}

var loaders = map[string]func(s *seeder) error{
	"balanced-day":      loadBalancedDay,
	"safe-flows":        loadSafeFlows,
	"short-drawer":      loadShortDrawer,
	"keycard-shortfall": loadKeycardShortfall,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}

	day := h.Zone.DayOf(h.Clock()).AddDays(-1)
	err := h.Store.WithTx(ctx, func(s recon.Store) error {
		return load(&seeder{ctx: ctx, store: s, prefix: req.ScenarioID, day: day})
	})
	if err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.String("date", day.Date))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID, "date": day.Date})
}

// ResetDatabase clears all data. The till settings survive.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errResetUnsupported = errors.New("store does not support reset")

func (h *Handler) reset(ctx context.Context) error {
	if h.Resetter == nil {
		return errResetUnsupported
	}
	settings, err := h.Store.TillSettings(ctx)
	if err != nil {
		return err
	}
	if err := h.Resetter.Reset(ctx); err != nil {
		return err
	}
	if err := h.Store.SaveTillSettings(ctx, settings); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	h.forgetSessions()
	return nil
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder writes scenario events at fixed hours of one local day, with
// deterministic ids.
type seeder struct {
	ctx    context.Context
	store  recon.Store
	prefix string
	day    recon.DayWindow
	n      int
}

func (s *seeder) id() string {
	s.n++
	return fmt.Sprintf("%s-%02d", s.prefix, s.n)
}

// at returns the instant h:m on the scenario day. Negative hours reach
// into the previous day.
func (s *seeder) at(h, m int) time.Time {
	return s.day.Start.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func amt(v float64) decimal.NullDecimal { return recon.Some(decimal.NewFromFloat(v)) }

func (s *seeder) cash(user string, at time.Time, typ recon.CashCountType, e recon.CashCountEvent) error {
	e.ID, e.User, e.Timestamp, e.Type = s.id(), user, at, typ
	return s.store.AppendCashCount(s.ctx, e)
}

func (s *seeder) safe(user string, at time.Time, typ recon.SafeCountType, e recon.SafeCountEvent) error {
	e.ID, e.User, e.Timestamp, e.Type = s.id(), user, at, typ
	return s.store.AppendSafeCount(s.ctx, e)
}

func (s *seeder) sale(user string, at time.Time, method recon.PaymentMethod, amount float64) error {
	return s.store.AppendTransaction(s.ctx, recon.TillTransaction{
		ID: s.id(), User: user, Timestamp: at, Amount: decimal.NewFromFloat(amount), Method: method, Kind: recon.KindSale,
	})
}

// drop is a safe deposit with its till tender removal.
func (s *seeder) drop(user string, at time.Time, amount float64) error {
	if err := s.safe(user, at, recon.SafeDeposit, recon.SafeCountEvent{Amount: amt(amount)}); err != nil {
		return err
	}
	return s.cash(user, at, recon.CashTenderRemoval, recon.CashCountEvent{Amount: amt(amount)})
}

// steps runs fns in order and stops at the first error.
func steps(fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadBalancedDay(s *seeder) error {
	return steps(
		func() error {
			return s.safe("maria", s.at(-17, 0), recon.SafeOpening, recon.SafeCountEvent{Count: amt(1000), KeycardCount: amt(50)})
		},
		func() error {
			return s.cash("anna", s.at(8, 0), recon.CashOpening, recon.CashCountEvent{Count: amt(100), KeycardCount: amt(10), Difference: amt(0)})
		},
		func() error { return s.sale("anna", s.at(9, 15), recon.MethodCash, 50) },
		func() error { return s.sale("anna", s.at(10, 40), recon.MethodCard, 40) },
		func() error { return s.drop("anna", s.at(12, 0), 10) },
		func() error {
			return s.cash("anna", s.at(20, 0), recon.CashClose, recon.CashCountEvent{Count: amt(140), KeycardCount: amt(10), Difference: amt(0)})
		},
	)
}

func loadSafeFlows(s *seeder) error {
	return steps(
		func() error {
			return s.safe("maria", s.at(-17, 0), recon.SafeOpening, recon.SafeCountEvent{Count: amt(1000), KeycardCount: amt(50)})
		},
		func() error {
			return s.cash("anna", s.at(8, 0), recon.CashOpening, recon.CashCountEvent{Count: amt(100), KeycardCount: amt(0), Difference: amt(0)})
		},
		func() error { return s.drop("anna", s.at(11, 0), 50) },
		func() error {
			return s.safe("maria", s.at(12, 0), recon.SafeBankWithdrawal, recon.SafeCountEvent{Amount: amt(20)})
		},
		func() error {
			if err := s.safe("anna", s.at(13, 0), recon.SafeWithdrawal, recon.SafeCountEvent{Amount: amt(40)}); err != nil {
				return err
			}
			return s.cash("anna", s.at(13, 0), recon.CashFloat, recon.CashCountEvent{Amount: amt(40)})
		},
		func() error {
			return s.safe("maria", s.at(16, 0), recon.SafeBankDeposit, recon.SafeCountEvent{Amount: amt(10)})
		},
		func() error {
			return s.cash("anna", s.at(20, 0), recon.CashClose, recon.CashCountEvent{Count: amt(90), KeycardCount: amt(0), Difference: amt(0)})
		},
	)
}

func loadShortDrawer(s *seeder) error {
	closeAt := s.at(20, 0)
	return steps(
		func() error {
			return s.safe("maria", s.at(-17, 0), recon.SafeOpening, recon.SafeCountEvent{Count: amt(1000), KeycardCount: amt(50)})
		},
		func() error {
			return s.cash("bob", s.at(8, 0), recon.CashOpening, recon.CashCountEvent{Count: amt(100), KeycardCount: amt(10), Difference: amt(0)})
		},
		func() error { return s.sale("bob", s.at(9, 0), recon.MethodCash, 50) },
		func() error { return s.sale("bob", s.at(10, 0), recon.MethodCard, 25) },
		func() error { return s.sale("bob", s.at(11, 0), recon.MethodCard, 35) },
		func() error {
			return s.cash("bob", closeAt, recon.CashClose, recon.CashCountEvent{Count: amt(145), KeycardCount: amt(10), Difference: amt(-5)})
		},
		func() error {
			return s.store.PostCashDiscrepancy(s.ctx, recon.Discrepancy{User: "bob", Timestamp: closeAt, Amount: decimal.NewFromInt(-5)})
		},
		func() error {
			return s.store.PostIrregularity(s.ctx, recon.Irregularity{Action: "close", MissingCount: 2, Timestamp: closeAt, User: "bob"})
		},
	)
}

func loadKeycardShortfall(s *seeder) error {
	return steps(
		func() error {
			return s.safe("maria", s.at(-17, 0), recon.SafeOpening, recon.SafeCountEvent{Count: amt(1000), KeycardCount: amt(50)})
		},
		func() error {
			return s.cash("anna", s.at(8, 0), recon.CashOpening, recon.CashCountEvent{Count: amt(100), KeycardCount: amt(3), Difference: amt(0)})
		},
		func() error {
			return s.store.AppendTransaction(s.ctx, recon.TillTransaction{
				ID: s.id(), User: "anna", Timestamp: s.at(10, 0), Method: recon.MethodOther,
				Kind: recon.KindLoan, IsKeycard: true, Count: decimal.NewFromInt(1),
			})
		},
		func() error {
			return s.store.PostKeycardDiscrepancy(s.ctx, recon.Discrepancy{User: "anna", Timestamp: s.at(11, 0), Amount: decimal.NewFromInt(-2)})
		},
		func() error {
			return s.cash("anna", s.at(20, 0), recon.CashClose, recon.CashCountEvent{Count: amt(100), KeycardCount: amt(2), Difference: amt(0)})
		},
	)
}
