/*
window.go - Adaptive window search for the safe baseline

PURPOSE:
  A report needs the safe events since the most recent baseline
  (opening, safeReset or safeReconcile) to bound its balance. How far
  back that baseline lies is unknown, so the search probes a growing
  window ending at the report day's last instant:

    [end - 7d, end] -> [end - 14d, end] -> ... -> [end - 224d, end] -> [end - 365d, end]

  The end never moves. The lookback doubles until a baseline is found
  or the ceiling is reached; the last doubling is clamped to the ceiling
  so the search always terminates with a window.

FAILURE:
  Probes run one after another. Any failed probe aborts the whole
  search with a *WindowSearchError and no window. There is no retry.

SEE ALSO:
  - balance.go: replays the events inside the window
  - report/builder.go: the caller
*/
package recon

import (
	"context"
	"time"
)

const (
	DefaultInitialLookbackDays = 7
	DefaultMaxLookbackDays     = 365
)

// SafeRangeQuerier reads safe events with From <= timestamp <= To.
type SafeRangeQuerier interface {
	SafeCountsInRange(ctx context.Context, from, to time.Time) ([]SafeCountEvent, error)
}

// SafeWindow is the resolved report window.
type SafeWindow struct {
	From         time.Time
	To           time.Time
	LookbackDays int
	Probes       int

	// Found is false when the ceiling was reached without a baseline.
	Found bool
	// Baseline is the latest baseline inside the window, if Found.
	Baseline *SafeCountEvent
}

// ResolveSafeWindow runs the doubling search for the local day reportDate.
// Non-positive arguments fall back to the defaults.
func ResolveSafeWindow(ctx context.Context, q SafeRangeQuerier, zone Zone, reportDate string, initialDays, maxDays int) (SafeWindow, error) {
	day, err := zone.Day(reportDate)
	if err != nil {
		return SafeWindow{}, err
	}
	if initialDays <= 0 {
		initialDays = DefaultInitialLookbackDays
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxLookbackDays
	}
	if initialDays > maxDays {
		initialDays = maxDays
	}

	probes := 0
	for days := initialDays; ; days *= 2 {
		if days > maxDays {
			days = maxDays
		}
		from := day.Start.AddDate(0, 0, -days)
		probes++

		events, err := q.SafeCountsInRange(ctx, from, day.Last)
		if err != nil {
			return SafeWindow{}, &WindowSearchError{LookbackDays: days, From: from, To: day.Last, Err: err}
		}

		w := SafeWindow{From: from, To: day.Last, LookbackDays: days, Probes: probes}
		if b := latestBaseline(events); b != nil {
			w.Found = true
			w.Baseline = b
			return w, nil
		}
		if days == maxDays {
			return w, nil
		}
	}
}

func latestBaseline(events []SafeCountEvent) *SafeCountEvent {
	var last *SafeCountEvent
	sorted := SortSafeCounts(events)
	for i := range sorted {
		if sorted[i].Type.IsBaseline() {
			last = &sorted[i]
		}
	}
	return last
}
