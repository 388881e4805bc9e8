package digest

import "time"

// dueSlack lets a cron trigger fire slightly before a full interval has passed
// since the previous run finished.
const dueSlack = time.Hour

// Window is the (Start, End] range of publish times included in a run.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// ComputeWindow derives the inclusion window for a run. Start is the previous
// cutoff when one exists, otherwise now minus the cadence lookback. Start never
// exceeds now.
func ComputeWindow(c Cadence, prev time.Time, hasPrev bool, now time.Time) Window {
	now = now.UTC()
	start := now.Add(-c.Lookback())
	if hasPrev {
		start = prev.UTC()
	}
	if start.After(now) {
		start = now
	}
	return Window{Start: start, End: now}
}

// NextCutoff is the timestamp committed after a successful run. It never moves
// backwards.
func NextCutoff(prev time.Time, hasPrev bool, w Window) time.Time {
	if hasPrev && prev.After(w.End) {
		return prev.UTC()
	}
	return w.End
}

// Due reports whether a digest should run at now given its previous run.
func Due(c Cadence, prev time.Time, hasPrev bool, now time.Time) bool {
	if !hasPrev {
		return true
	}
	return now.Sub(prev) >= c.Interval()-dueSlack
}
