/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The till engine, safe service and HTTP layer wrap or classify these.

ERROR CATEGORIES:
  1. Validation / precondition - bad input, wrong state, wrong user
  2. Policy violation          - drawer limit, missing sign-off
  3. Upstream I/O              - an event read failed mid-computation

  Validation and policy errors abort the operation with no writes. They
  differ only by message, not by recovery path. Upstream errors carry the
  underlying cause; the engine never retries.

USAGE:
    if errors.Is(err, recon.ErrDrawerLimitExceeded) {
        // perform a safe drop first
    }

SEE ALSO:
  - till/engine.go: raises most of these
  - api/handlers.go: maps the categories to HTTP status codes
*/
package recon

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when an action has no acting user.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNoOpenShift is returned when closing or reconciling without an open shift.
	ErrNoOpenShift = errors.New("no shift is open")

	// ErrShiftOwnedByOther is returned when opening while another user holds the till.
	ErrShiftOwnedByOther = errors.New("till is open under another user")

	// ErrShiftAlreadyOpen is returned when this session already holds an open shift.
	ErrShiftAlreadyOpen = errors.New("shift already open")

	// ErrNotShiftOwner is returned when someone other than the opener closes.
	ErrNotShiftOwner = errors.New("only the user who opened the shift can close it")

	// ErrInsufficientKeycards is returned when returning more keycards than held.
	ErrInsufficientKeycards = errors.New("cannot return more keycards than held")

	// ErrInvalidAmount is returned for non-positive amounts and negative counts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidEvent is returned when an event is missing fields its type requires.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidDate is returned for a malformed local date string.
	ErrInvalidDate = errors.New("invalid date")

	// ErrDrawerLimitExceeded is returned when closing a drawer above its limit.
	ErrDrawerLimitExceeded = errors.New("drawer exceeds cash limit")

	// ErrSignoffRequired is returned when a required variance sign-off is missing.
	ErrSignoffRequired = errors.New("variance sign-off required")

	// ErrPinRequired is returned for a tender removal from an over-limit drawer without a PIN.
	ErrPinRequired = errors.New("pin required for tender removal above drawer limit")

	// ErrDuplicateEvent is returned when an event id already exists.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrQueryFailed is returned when an upstream event read fails.
	ErrQueryFailed = errors.New("event query failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// KeycardShortfallError details a rejected keycard return.
type KeycardShortfallError struct {
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *KeycardShortfallError) Error() string {
	return fmt.Sprintf("cannot return %s keycards, only %s held", e.Requested, e.Held)
}

func (e *KeycardShortfallError) Unwrap() error { return ErrInsufficientKeycards }

// Shortfall is held - requested (negative).
func (e *KeycardShortfallError) Shortfall() decimal.Decimal {
	return e.Held.Sub(e.Requested)
}

// DrawerLimitError details a close refused because the drawer is over limit.
type DrawerLimitError struct {
	Expected decimal.Decimal
	Limit    decimal.Decimal
}

func (e *DrawerLimitError) Error() string {
	return fmt.Sprintf("till holds %s, above the %s limit: perform a safe drop first",
		e.Expected.StringFixed(2), e.Limit.StringFixed(2))
}

func (e *DrawerLimitError) Unwrap() error { return ErrDrawerLimitExceeded }

// EventValidationError names the field an event is missing or has wrong.
type EventValidationError struct {
	Kind  string
	Type  string
	Field string
	Msg   string
}

func (e *EventValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s %s", e.Kind, e.Type, e.Field, e.Msg)
}

func (e *EventValidationError) Unwrap() error { return ErrInvalidEvent }

// WindowSearchError reports the probe that failed during the adaptive
// window search. No partial window accompanies it.
type WindowSearchError struct {
	LookbackDays int
	From         time.Time
	To           time.Time
	Err          error
}

func (e *WindowSearchError) Error() string {
	return fmt.Sprintf("safe window search failed at %d days [%s, %s]: %v",
		e.LookbackDays, e.From.Format(time.RFC3339), e.To.Format(time.RFC3339), e.Err)
}

func (e *WindowSearchError) Unwrap() []error { return []error{ErrQueryFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports a precondition or input failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrNoOpenShift) ||
		errors.Is(err, ErrShiftOwnedByOther) ||
		errors.Is(err, ErrShiftAlreadyOpen) ||
		errors.Is(err, ErrNotShiftOwner) ||
		errors.Is(err, ErrInsufficientKeycards) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidDate)
}

// IsPolicyViolation reports a refusal by business policy.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrDrawerLimitExceeded) ||
		errors.Is(err, ErrSignoffRequired) ||
		errors.Is(err, ErrPinRequired)
}

// IsUpstream reports a failed read of the event history.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrQueryFailed)
}
