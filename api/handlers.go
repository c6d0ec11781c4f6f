/*
handlers.go - HTTP API handlers for the till engine

PURPOSE:
  Exposes the till engine, the safe service and the end-of-day report via
  a REST API. Handles HTTP request/response and JSON serialization, and
  delegates everything else to the engine packages.

ENDPOINTS:
  Till:
    GET    /api/till/session            Current session and running figures
    POST   /api/till/open               Open a shift
    POST   /api/till/close              Close the shift
    POST   /api/till/reconcile          Reconcile and re-baseline the shift
    POST   /api/till/keycards/reconcile Manual keycard count
    POST   /api/till/keycards/add       Take keycards into the shift
    POST   /api/till/keycards/return    Hand keycards back
    GET    /api/till/drawer             Drawer limit status
    POST   /api/till/float              Cash into the drawer
    POST   /api/till/tender-removal     Cash out of the drawer

  Transactions:
    POST   /api/transactions            Record a sale, loan or refund

  Safe:
    POST   /api/safe/{operation}        Record a safe operation
    GET    /api/safe/balance?at=        Replayed balance

  Reports:
    GET    /api/reports/eod?date=&lookback=   End-of-day report
    GET    /api/reports/eod/export?date=      Same, as .xlsx

  Settings:
    GET    /api/settings/till
    PUT    /api/settings/till

  Import:
    POST   /api/import                  Legacy JSON export

  Scenarios (see scenarios.go):
    GET    /api/scenarios
    GET    /api/scenarios/current
    POST   /api/scenarios/load
    POST   /api/scenarios/reset

HEADERS:
  X-User      Acting user. Empty means unauthenticated.
  X-Terminal  Terminal id (default "default"). Each terminal holds one
              till.Session value, rebuilt from history on first use.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown safe operation
  - 409: Duplicate event id
  - 422: Refused by policy (drawer limit, sign-off, PIN)
  - 502: Event history could not be read
  - 501: Store cannot reset (scenarios)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/till-engine/factory"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/report"
	"github.com/warp/till-engine/safe"
	"github.com/warp/till-engine/till"
)

const (
	HeaderUser      = "X-User"
	HeaderTerminal  = "X-Terminal"
	defaultTerminal = "default"

	// maxImportBytes bounds the legacy export body.
	maxImportBytes = 32 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the handler's collaborators.
type Deps struct {
	Store   recon.TxStore
	Engine  *till.Engine
	Safe    *safe.Service
	Reports *report.Builder
	Zone    recon.Zone
	Logger  *zap.Logger
	Clock   func() time.Time
	NewID   func() string

	// Resetter backs the demo scenarios. Nil disables them.
	Resetter Resetter
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps
	log *zap.Logger

	// One session per terminal. mu also serializes till operations.
	mu              sync.Mutex
	sessions        map[string]till.Session
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
	return &Handler{
		Deps:     d,
		log:      d.Logger.Named("api"),
		sessions: make(map[string]till.Session),
	}
}

func actor(r *http.Request) string {
	return r.Header.Get(HeaderUser)
}

func terminal(r *http.Request) string {
	if t := r.Header.Get(HeaderTerminal); t != "" {
		return t
	}
	return defaultTerminal
}

// withSession runs fn on the terminal's session. The returned session is
// kept when fn succeeds or refuses on policy, since a refusal can still
// carry drawer state the engine has already acted on.
func (h *Handler) withSession(r *http.Request, fn func(ctx context.Context, s till.Session) (till.Session, error)) (till.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	term := terminal(r)
	sess, ok := h.sessions[term]
	if !ok {
		resumed, err := h.Engine.Resume(ctx)
		if err != nil {
			return till.Session{}, err
		}
		sess = resumed
	}

	next, err := fn(ctx, sess)
	if err != nil {
		if recon.IsPolicyViolation(err) {
			sess = next
		}
		h.sessions[term] = sess
		return sess, err
	}
	h.sessions[term] = next
	return next, nil
}

// forgetSessions drops every cached session so the next request rebuilds
// it from history.
func (h *Handler) forgetSessions() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = make(map[string]till.Session)
}

// =============================================================================
// TILL HANDLERS
// =============================================================================

// GetSession returns the terminal's session and, if open, its running figures.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	var figures *FiguresDTO
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		if !s.IsOpen() {
			return s, nil
		}
		f, err := h.Engine.Figures(ctx, s)
		if err != nil {
			return s, err
		}
		figures = toFiguresDTO(f)
		return s, nil
	})
	if err != nil {
		h.fail(w, "Failed to load session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: toSessionDTO(sess), Figures: figures})
}

// OpenTill opens a shift for the acting user.
func (h *Handler) OpenTill(w http.ResponseWriter, r *http.Request) {
	var req OpenTillRequest
	if !decode(w, r, &req) {
		return
	}

	var res *till.OpenResult
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		next, out, err := h.Engine.Open(ctx, s, till.OpenRequest{User: actor(r), Cash: req.Cash, Keycards: req.Keycards})
		res = out
		return next, err
	})
	if err != nil {
		h.fail(w, "Failed to open till", err)
		return
	}

	writeJSON(w, http.StatusCreated, OpenTillResponse{
		Session:              toSessionDTO(sess),
		ShiftID:              res.ShiftID,
		PreviousCloseCash:    res.PreviousCloseCash,
		Difference:           res.Difference,
		KeycardDifference:    res.KeycardDifference,
		MonthlyLimitExceeded: res.MonthlyLimitExceeded,
	})
}

// CloseTill closes the shift.
func (h *Handler) CloseTill(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "Failed to close till", h.Engine.Close)
}

// ReconcileTill closes the shift and immediately re-opens it at the
// counted amount.
func (h *Handler) ReconcileTill(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "Failed to reconcile till", h.Engine.Reconcile)
}

type finishFunc func(ctx context.Context, s till.Session, req till.CloseRequest) (till.Session, *till.CloseResult, error)

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, msg string, fn finishFunc) {
	var req CloseTillRequest
	if !decode(w, r, &req) {
		return
	}

	var res *till.CloseResult
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		next, out, err := fn(ctx, s, req.toEngine(actor(r)))
		res = out
		return next, err
	})
	if err != nil {
		h.fail(w, msg, err)
		return
	}
	writeJSON(w, http.StatusOK, toCloseResponse(sess, res))
}

// ReconcileKeycards records a manual keycard count.
func (h *Handler) ReconcileKeycards(w http.ResponseWriter, r *http.Request) {
	var req KeycardCountRequest
	if !decode(w, r, &req) {
		return
	}

	var res *till.KeycardReconcileResult
	_, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		out, err := h.Engine.KeycardReconcile(ctx, s, actor(r), req.Count)
		res = out
		return s, err
	})
	if err != nil {
		h.fail(w, "Failed to reconcile keycards", err)
		return
	}
	writeJSON(w, http.StatusOK, KeycardReconcileResponse{Expected: res.Expected, Counted: res.Counted, Difference: res.Difference})
}

// AddKeycards takes keycards from the safe into the shift.
func (h *Handler) AddKeycards(w http.ResponseWriter, r *http.Request) {
	var req KeycardCountRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.withSession(r, func(_ context.Context, s till.Session) (till.Session, error) {
		return h.Engine.AddKeycards(s, req.Count)
	})
	if err != nil {
		h.fail(w, "Failed to add keycards", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: toSessionDTO(sess)})
}

// ReturnKeycards hands keycards back from the shift.
func (h *Handler) ReturnKeycards(w http.ResponseWriter, r *http.Request) {
	var req KeycardCountRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		return h.Engine.ReturnKeycards(ctx, s, actor(r), req.Count)
	})
	if err != nil {
		h.fail(w, "Failed to return keycards", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: toSessionDTO(sess)})
}

// GetDrawer evaluates the drawer against its cash limit.
func (h *Handler) GetDrawer(w http.ResponseWriter, r *http.Request) {
	var status till.DrawerStatus
	_, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		next, st, err := h.Engine.Drawer(ctx, s)
		status = st
		return next, err
	})
	if err != nil {
		h.fail(w, "Failed to evaluate drawer", err)
		return
	}
	writeJSON(w, http.StatusOK, toDrawerDTO(status))
}

// Float records cash put into the drawer.
func (h *Handler) Float(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		return s, h.Engine.Float(ctx, s, actor(r), req.Amount)
	})
	if err != nil {
		h.fail(w, "Failed to record float", err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: toSessionDTO(sess)})
}

// TenderRemoval records cash taken out of the drawer.
func (h *Handler) TenderRemoval(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.withSession(r, func(ctx context.Context, s till.Session) (till.Session, error) {
		return h.Engine.TenderRemoval(ctx, s, actor(r), req.Amount, req.PinConfirmed)
	})
	if err != nil {
		h.fail(w, "Failed to record tender removal", err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: toSessionDTO(sess)})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// RecordTransaction appends a till transaction stamped with the server clock.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !decode(w, r, &req) {
		return
	}
	if actor(r) == "" {
		h.fail(w, "Invalid transaction", recon.ErrUnauthenticated)
		return
	}

	tx, err := factory.Transaction(h.NewID(), factory.RecordJSON{
		User:      actor(r),
		Timestamp: h.Clock().UTC().Format(time.RFC3339Nano),
		Amount:    recon.Some(req.Amount),
		Count:     recon.Some(req.Count),
		Method:    req.Method,
		Kind:      req.Kind,
		IsKeycard: req.IsKeycard,
	})
	if err != nil {
		h.fail(w, "Invalid transaction", err)
		return
	}
	if err := h.Store.AppendTransaction(r.Context(), tx); err != nil {
		h.fail(w, "Failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// =============================================================================
// SAFE HANDLERS
// =============================================================================

// RecordSafe records one safe operation. Till-side counterparts are tagged
// with the terminal's open shift, if any.
func (h *Handler) RecordSafe(w http.ResponseWriter, r *http.Request) {
	op := safe.Operation(chi.URLParam(r, "operation"))
	if !op.Valid() {
		writeError(w, http.StatusNotFound, "Unknown safe operation", fmt.Errorf("%q", op))
		return
	}
	var req SafeRequest
	if !decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	shiftID := h.sessions[terminal(r)].ShiftID
	h.mu.Unlock()

	e, err := h.Safe.Record(r.Context(), op, safe.Request{
		User:      actor(r),
		Amount:    req.Amount,
		Keycards:  req.Keycards,
		Direction: recon.ExchangeDirection(req.Direction),
		ShiftID:   shiftID,
	})
	if err != nil {
		h.fail(w, "Failed to record safe operation", err)
		return
	}
	writeJSON(w, http.StatusCreated, SafeResponse{Operation: op, Event: e})
}

// GetSafeBalance replays the safe up to ?at= (RFC 3339, default now).
func (h *Handler) GetSafeBalance(w http.ResponseWriter, r *http.Request) {
	at := h.Clock()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at parameter", err)
			return
		}
		at = t
	}

	pos, err := h.Safe.Balance(r.Context(), at)
	if err != nil {
		h.fail(w, "Failed to load safe balance", err)
		return
	}
	writeJSON(w, http.StatusOK, SafeBalanceDTO{At: pos.At, Balance: pos.Balance, Keycards: pos.Keycards})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) buildReport(r *http.Request) (*report.EndOfDay, error) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = h.Zone.Today(h.Clock())
	}
	if s := q.Get("lookback"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("%w: lookback %q", recon.ErrInvalidAmount, s)
		}
		return h.Reports.BuildWithLookback(r.Context(), date, days)
	}
	return h.Reports.Build(r.Context(), date)
}

// GetEndOfDay builds the end-of-day report for ?date= (default today).
func (h *Handler) GetEndOfDay(w http.ResponseWriter, r *http.Request) {
	eod, err := h.buildReport(r)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toEndOfDayResponse(eod))
}

// ExportEndOfDay streams the report as an xlsx workbook.
func (h *Handler) ExportEndOfDay(w http.ResponseWriter, r *http.Request) {
	eod, err := h.buildReport(r)
	if err != nil {
		h.fail(w, "Failed to build report", err)
		return
	}

	var buf bytes.Buffer
	if err := report.Export(&buf, eod); err != nil {
		h.fail(w, "Failed to export report", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ExportFileName(eod.Date)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) GetTillSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.TillSettings(r.Context())
	if err != nil {
		h.fail(w, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, TillSettingsDTO{DrawerLimit: s.DrawerLimit, PinRequiredAboveLimit: s.PinRequiredAboveLimit})
}

// PutTillSettings replaces the till settings. They take effect on the next
// drawer evaluation.
func (h *Handler) PutTillSettings(w http.ResponseWriter, r *http.Request) {
	var req TillSettingsDTO
	if !decode(w, r, &req) {
		return
	}
	if req.DrawerLimit.IsNegative() {
		h.fail(w, "Invalid settings", fmt.Errorf("%w: drawer limit must not be negative", recon.ErrInvalidAmount))
		return
	}
	s := recon.TillSettings{DrawerLimit: req.DrawerLimit, PinRequiredAboveLimit: req.PinRequiredAboveLimit}
	if err := h.Store.SaveTillSettings(r.Context(), s); err != nil {
		h.fail(w, "Failed to save settings", err)
		return
	}
	h.log.Info("till settings updated",
		zap.String("user", actor(r)),
		zap.String("drawer_limit", s.DrawerLimit.String()),
		zap.Bool("pin_required", s.PinRequiredAboveLimit))
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// IMPORT HANDLER
// =============================================================================

// Import appends a legacy export in one transaction. Cached sessions are
// dropped because the history under them changed.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	batch, err := factory.ParseExport(data)
	if err != nil {
		h.fail(w, "Invalid export", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.WithTx(ctx, func(s recon.Store) error { return batch.AppendTo(ctx, s) }); err != nil {
		h.fail(w, "Failed to import", err)
		return
	}
	h.forgetSessions()

	h.log.Info("export imported", zap.String("user", actor(r)), zap.Int("events", batch.Len()))
	writeJSON(w, http.StatusCreated, ImportResponse{
		CashCounts:       len(batch.CashCounts),
		SafeCounts:       len(batch.SafeCounts),
		KeycardTransfers: len(batch.KeycardTransfers),
		Transactions:     len(batch.Transactions),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps the engine's error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recon.ErrDuplicateEvent):
		return http.StatusConflict
	case recon.IsValidation(err):
		return http.StatusBadRequest
	case recon.IsPolicyViolation(err):
		return http.StatusUnprocessableEntity
	case recon.IsUpstream(err):
		return http.StatusBadGateway
	case errors.Is(err, errResetUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
