/*
session.go - The explicit shift session value

PURPOSE:
  A Session is what one till terminal believes about its open shift. It
  is a plain value: every Engine call takes the current Session and
  returns the next one. Nothing is held in package state, and the
  active shift id is a field the caller threads through.

LIFECYCLE:
  Closed (zero Session) --Open--> Open --Close--> Closed
                                   |  ^
                                   +--+ Reconcile (new baseline, same owner)

  Reconcile keeps OpenTime and Owner and moves BaselineAt to the
  synthetic opening it writes. Expected figures accumulate from
  BaselineAt, so sales before a reconcile are not counted twice.

SEE ALSO:
  - engine.go: the transitions
  - calculations.go: figures derived from a session and the history
*/
package till

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/till-engine/recon"
)

type Session struct {
	OpenTime        time.Time
	Owner           string
	ShiftID         string
	OpeningCash     decimal.Decimal
	OpeningKeycards decimal.Decimal

	// BaselineAt is the timestamp of the opening the figures count from.
	BaselineAt time.Time

	// OverLimit is the last drawer-limit evaluation; alerts fire on the
	// false -> true edge only.
	OverLimit bool
}

// IsOpen reports whether the session holds an open shift.
func (s Session) IsOpen() bool {
	return !s.OpenTime.IsZero()
}

// SessionFromHistory rebuilds the session from stored cash counts.
//
// The open shift is the one findOpenShift returns. OpenTime and Owner come
// from the first opening since the last close, so a shift that was
// reconciled keeps its original start.
func SessionFromHistory(events []recon.CashCountEvent) Session {
	open := recon.FindOpenShift(events)
	if open == nil {
		return Session{}
	}

	var first *recon.CashCountEvent
	sorted := recon.SortCashCounts(events)
	for i := range sorted {
		switch sorted[i].Type {
		case recon.CashOpening:
			if first == nil {
				first = &sorted[i]
			}
		case recon.CashClose:
			first = nil
		}
	}
	if first == nil {
		first = open
	}

	return Session{
		OpenTime:        first.Timestamp,
		Owner:           first.User,
		ShiftID:         open.ShiftID,
		OpeningCash:     recon.Or(open.Count),
		OpeningKeycards: recon.Or(open.KeycardCount),
		BaselineAt:      open.Timestamp,
	}
}
