/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Decimal fields marshal as JSON strings ("12.50") and accept either
  strings or numbers on input.

VALIDATION:
  Validation is done by the engine and the factory, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/report"
	"github.com/warp/till-engine/safe"
	"github.com/warp/till-engine/till"
)

// =============================================================================
// TILL
// =============================================================================

type SessionDTO struct {
	Open            bool            `json:"open"`
	OpenTime        *time.Time      `json:"openTime,omitempty"`
	Owner           string          `json:"owner,omitempty"`
	ShiftID         string          `json:"shiftId,omitempty"`
	OpeningCash     decimal.Decimal `json:"openingCash"`
	OpeningKeycards decimal.Decimal `json:"openingKeycards"`
	BaselineAt      *time.Time      `json:"baselineAt,omitempty"`
	OverLimit       bool            `json:"overLimit"`
}

func toSessionDTO(s till.Session) SessionDTO {
	dto := SessionDTO{
		Open:            s.IsOpen(),
		Owner:           s.Owner,
		ShiftID:         s.ShiftID,
		OpeningCash:     s.OpeningCash,
		OpeningKeycards: s.OpeningKeycards,
		OverLimit:       s.OverLimit,
	}
	if s.IsOpen() {
		open, base := s.OpenTime, s.BaselineAt
		dto.OpenTime, dto.BaselineAt = &open, &base
	}
	return dto
}

type FiguresDTO struct {
	SalesCash          decimal.Decimal `json:"salesCash"`
	FloatTotal         decimal.Decimal `json:"floatTotal"`
	TenderRemovalTotal decimal.Decimal `json:"tenderRemovalTotal"`
	DrawerToSafe       decimal.Decimal `json:"drawerToSafe"`
	SafeToDrawer       decimal.Decimal `json:"safeToDrawer"`
	ExpectedCash       decimal.Decimal `json:"expectedCash"`
	KeycardsLoaned     decimal.Decimal `json:"keycardsLoaned"`
	KeycardsReturned   decimal.Decimal `json:"keycardsReturned"`
	ExpectedKeycards   decimal.Decimal `json:"expectedKeycards"`
	CardTransactions   int             `json:"cardTransactions"`
}

func toFiguresDTO(f till.Figures) *FiguresDTO {
	return &FiguresDTO{
		SalesCash:          f.SalesCash,
		FloatTotal:         f.FloatTotal,
		TenderRemovalTotal: f.TenderRemovalTotal,
		DrawerToSafe:       f.DrawerToSafe,
		SafeToDrawer:       f.SafeToDrawer,
		ExpectedCash:       f.ExpectedCash,
		KeycardsLoaned:     f.KeycardsLoaned,
		KeycardsReturned:   f.KeycardsReturned,
		ExpectedKeycards:   f.ExpectedKeycards,
		CardTransactions:   f.CardTransactions,
	}
}

type SessionResponse struct {
	Session SessionDTO  `json:"session"`
	Figures *FiguresDTO `json:"figures,omitempty"`
}

type OpenTillRequest struct {
	Cash     decimal.Decimal `json:"cash"`
	Keycards decimal.Decimal `json:"keycards"`
}

type OpenTillResponse struct {
	Session              SessionDTO      `json:"session"`
	ShiftID              string          `json:"shiftId"`
	PreviousCloseCash    decimal.Decimal `json:"previousCloseCash"`
	Difference           decimal.Decimal `json:"difference"`
	KeycardDifference    decimal.Decimal `json:"keycardDifference"`
	MonthlyLimitExceeded bool            `json:"monthlyLimitExceeded"`
}

type SignoffDTO struct {
	SignedOffBy string `json:"signedOffBy"`
	Note        string `json:"note"`
}

type CloseTillRequest struct {
	Cash                 decimal.Decimal `json:"cash"`
	Keycards             decimal.Decimal `json:"keycards"`
	AllReceiptsConfirmed bool            `json:"allReceiptsConfirmed"`
	SignoffRequired      bool            `json:"signoffRequired"`
	Signoff              *SignoffDTO     `json:"signoff,omitempty"`
}

func (r CloseTillRequest) toEngine(user string) till.CloseRequest {
	req := till.CloseRequest{
		User:                 user,
		Cash:                 r.Cash,
		Keycards:             r.Keycards,
		AllReceiptsConfirmed: r.AllReceiptsConfirmed,
		SignoffRequired:      r.SignoffRequired,
	}
	if r.Signoff != nil {
		req.Signoff = &till.Signoff{SignedOffBy: r.Signoff.SignedOffBy, Note: r.Signoff.Note}
	}
	return req
}

type CloseTillResponse struct {
	Session              SessionDTO      `json:"session"`
	ShiftID              string          `json:"shiftId"`
	ExpectedCash         decimal.Decimal `json:"expectedCash"`
	Difference           decimal.Decimal `json:"difference"`
	ExpectedKeycards     decimal.Decimal `json:"expectedKeycards"`
	KeycardDifference    decimal.Decimal `json:"keycardDifference"`
	NextShiftID          string          `json:"nextShiftId,omitempty"`
	IrregularityPosted   bool            `json:"irregularityPosted"`
	MonthlyLimitExceeded bool            `json:"monthlyLimitExceeded"`
}

func toCloseResponse(s till.Session, r *till.CloseResult) CloseTillResponse {
	return CloseTillResponse{
		Session:              toSessionDTO(s),
		ShiftID:              r.ShiftID,
		ExpectedCash:         r.ExpectedCash,
		Difference:           r.Difference,
		ExpectedKeycards:     r.ExpectedKeycards,
		KeycardDifference:    r.KeycardDifference,
		NextShiftID:          r.NextShiftID,
		IrregularityPosted:   r.IrregularityPosted,
		MonthlyLimitExceeded: r.MonthlyLimitExceeded,
	}
}

type KeycardCountRequest struct {
	Count decimal.Decimal `json:"count"`
}

type KeycardReconcileResponse struct {
	Expected   decimal.Decimal `json:"expected"`
	Counted    decimal.Decimal `json:"counted"`
	Difference decimal.Decimal `json:"difference"`
}

type AmountRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	PinConfirmed bool            `json:"pinConfirmed,omitempty"`
}

type DrawerDTO struct {
	Open                        bool            `json:"open"`
	ExpectedCash                decimal.Decimal `json:"expectedCash"`
	Limit                       decimal.Decimal `json:"limit"`
	OverLimit                   bool            `json:"overLimit"`
	PinRequiredForTenderRemoval bool            `json:"pinRequiredForTenderRemoval"`
}

func toDrawerDTO(s till.DrawerStatus) DrawerDTO {
	return DrawerDTO{
		Open:                        s.Open,
		ExpectedCash:                s.ExpectedCash,
		Limit:                       s.Limit,
		OverLimit:                   s.OverLimit,
		PinRequiredForTenderRemoval: s.PinRequiredForTenderRemoval,
	}
}

// =============================================================================
// TRANSACTIONS AND SAFE
// =============================================================================

type TransactionRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Kind      string          `json:"kind,omitempty"`
	IsKeycard bool            `json:"isKeycard,omitempty"`
	Count     decimal.Decimal `json:"count"`
}

type SafeRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Keycards  decimal.Decimal `json:"keycards"`
	Direction string          `json:"direction,omitempty"`
}

type SafeResponse struct {
	Operation safe.Operation        `json:"operation"`
	Event     *recon.SafeCountEvent `json:"event,omitempty"`
}

type SafeBalanceDTO struct {
	At       time.Time       `json:"at"`
	Balance  decimal.Decimal `json:"balance"`
	Keycards decimal.Decimal `json:"keycards"`
}

// =============================================================================
// REPORTS, SETTINGS, IMPORT
// =============================================================================

type WindowDTO struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	LookbackDays int       `json:"lookbackDays"`
	Probes       int       `json:"probes"`
	Found        bool      `json:"found"`
}

type EndOfDayResponse struct {
	Report     *report.EndOfDay `json:"report"`
	Window     WindowDTO        `json:"window"`
	Mismatches []string         `json:"mismatches"`
}

func toEndOfDayResponse(r *report.EndOfDay) EndOfDayResponse {
	mismatches := r.Mismatches()
	if mismatches == nil {
		mismatches = []string{}
	}
	return EndOfDayResponse{
		Report: r,
		Window: WindowDTO{
			From:         r.Window.From,
			To:           r.Window.To,
			LookbackDays: r.Window.LookbackDays,
			Probes:       r.Window.Probes,
			Found:        r.Window.Found,
		},
		Mismatches: mismatches,
	}
}

type TillSettingsDTO struct {
	DrawerLimit           decimal.Decimal `json:"drawerLimit"`
	PinRequiredAboveLimit bool            `json:"pinRequiredAboveLimit"`
}

type ImportResponse struct {
	CashCounts       int `json:"cashCounts"`
	SafeCounts       int `json:"safeCounts"`
	KeycardTransfers int `json:"keycardTransfers"`
	Transactions     int `json:"transactions"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
