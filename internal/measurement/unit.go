// Package measurement holds the per-iteration measurement unit filled in by a
// worker and the immutable snapshot published to destinations.
package measurement

import (
	"time"
)

// Well-known result names.
const (
	DefaultResult  = "Result"
	FailuresResult = "Failures"
	ErrorResult    = "Error"
	WarmUpTag      = "warmUp"
)

// Unmeasured is the LastTime sentinel for a unit without a completed
// start/stop pair.
const Unmeasured = -1.0

type interval struct {
	start time.Time
	stop  time.Time
}

// Unit collects the timings and named results of one iteration. It is owned by
// the goroutine that obtained it until it is handed to the report manager and
// must not be modified afterwards.
type Unit struct {
	iteration int64
	intervals []interval
	open      time.Time
	results   map[string]any
}

// New creates a unit for the given iteration number.
func New(iteration int64) *Unit {
	return &Unit{iteration: iteration, results: make(map[string]any)}
}

func (u *Unit) Iteration() int64 { return u.iteration }

// StartMeasure opens a timing interval. Calling it while an interval is open
// restarts that interval.
func (u *Unit) StartMeasure() {
	u.open = time.Now()
}

// StopMeasure closes the open interval. Without an open interval it does nothing.
func (u *Unit) StopMeasure() {
	if u.open.IsZero() {
		return
	}
	u.intervals = append(u.intervals, interval{start: u.open, stop: time.Now()})
	u.open = time.Time{}
}

// Record appends a completed interval of the given length starting now. It
// lets callers that time work themselves feed a unit.
func (u *Unit) Record(d time.Duration) {
	start := time.Now()
	u.intervals = append(u.intervals, interval{start: start, stop: start.Add(d)})
}

// IsMeasured reports whether at least one interval completed.
func (u *Unit) IsMeasured() bool { return len(u.intervals) > 0 }

// TotalTime is the sum of all completed intervals in milliseconds.
func (u *Unit) TotalTime() float64 {
	var total time.Duration
	for _, iv := range u.intervals {
		total += iv.stop.Sub(iv.start)
	}
	return millis(total)
}

// LastTime is the length of the most recent interval in milliseconds, or
// Unmeasured.
func (u *Unit) LastTime() float64 {
	if len(u.intervals) == 0 {
		return Unmeasured
	}
	iv := u.intervals[len(u.intervals)-1]
	return millis(iv.stop.Sub(iv.start))
}

// StartedAt returns the start of the first interval, or the zero time.
func (u *Unit) StartedAt() time.Time {
	if len(u.intervals) > 0 {
		return u.intervals[0].start
	}
	return u.open
}

// StartedAfter reports whether the unit was first started after ref. Units
// never started report true so they are not mistaken for stragglers.
func (u *Unit) StartedAfter(ref time.Time) bool {
	start := u.StartedAt()
	if start.IsZero() {
		return true
	}
	return !start.Before(ref)
}

// AppendResult stores a named value; a later value for the same name wins.
func (u *Unit) AppendResult(name string, value any) {
	u.results[name] = value
}

func (u *Unit) Result(name string) (any, bool) {
	v, ok := u.results[name]
	return v, ok
}

// Results returns a copy of the named results.
func (u *Unit) Results() map[string]any {
	out := make(map[string]any, len(u.results))
	for k, v := range u.results {
		out[k] = v
	}
	return out
}

// SetFailure records the outcome of the iteration: Failures is 1 with the
// error text under Error, or 0 when err is nil.
func (u *Unit) SetFailure(err error) {
	if err == nil {
		u.results[FailuresResult] = int64(0)
		delete(u.results, ErrorResult)
		return
	}
	u.results[FailuresResult] = int64(1)
	u.results[ErrorResult] = err.Error()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
