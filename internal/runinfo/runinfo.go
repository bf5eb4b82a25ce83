// Package runinfo tracks the progress of a single run against its planned
// length, which is either a number of iterations or a wall-clock duration.
package runinfo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/crankreport/internal/period"
)

// ErrUnsupportedDuration is returned when the run length is neither an
// iteration count nor a duration.
var ErrUnsupportedDuration = errors.New("run duration must be of type ITERATION or TIME")

// Option customises a RunInfo.
type Option func(*RunInfo)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *RunInfo) {
		if now != nil {
			r.now = now
		}
	}
}

// WithThreads records the number of load-generating workers.
func WithThreads(n int) Option {
	return func(r *RunInfo) { r.threads.Store(int32(n)) }
}

// WithTags sets the initial tag set.
func WithTags(tags ...string) Option {
	return func(r *RunInfo) {
		for _, t := range tags {
			r.tags[t] = struct{}{}
		}
	}
}

// RunInfo is safe for concurrent use. The iteration counter is lock free;
// timestamps and tags share one small mutex.
type RunInfo struct {
	duration period.Period
	now      func() time.Time

	iterations atomic.Int64
	threads    atomic.Int32

	mu        sync.RWMutex
	startTime time.Time
	endTime   time.Time
	id        ulid.ULID
	tags      map[string]struct{}
}

// New creates a RunInfo for a run of the given length.
func New(duration period.Period, opts ...Option) (*RunInfo, error) {
	if duration.Type != period.Iteration && duration.Type != period.Time {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedDuration, duration.Type)
	}
	if duration.Value <= 0 {
		return nil, fmt.Errorf("%w: %s", period.ErrInvalid, duration)
	}
	r := &RunInfo{
		duration: duration,
		now:      time.Now,
		tags:     make(map[string]struct{}),
		id:       ulid.Make(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start anchors the start time and rewinds the iteration counter.
func (r *RunInfo) Start() {
	r.mu.Lock()
	r.startTime = r.now()
	r.endTime = time.Time{}
	r.id = ulid.Make()
	r.iterations.Store(0)
	r.mu.Unlock()
}

// Stop freezes the end time. Repeated calls keep the first end time.
func (r *RunInfo) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endTime.IsZero() {
		r.endTime = r.now()
	}
}

// Reset rewinds the counter. A started run is re-anchored at the current
// time so it keeps running; a stopped one returns to the unstarted state.
func (r *RunInfo) Reset() {
	r.mu.Lock()
	if r.startedLocked() {
		r.startTime = r.now()
	} else {
		r.startTime = time.Time{}
	}
	r.endTime = time.Time{}
	r.iterations.Store(0)
	r.mu.Unlock()
}

// NextIteration allocates the next 0-based iteration number.
func (r *RunInfo) NextIteration() int64 {
	return r.iterations.Add(1) - 1
}

// TryNextIteration allocates the next iteration unless an ITERATION run
// already handed out all of its planned iterations. The counter never passes
// the target.
func (r *RunInfo) TryNextIteration() (int64, bool) {
	if r.duration.Type != period.Iteration {
		return r.NextIteration(), true
	}
	for {
		cur := r.iterations.Load()
		if cur >= r.duration.Value {
			return -1, false
		}
		if r.iterations.CompareAndSwap(cur, cur+1) {
			return cur, true
		}
	}
}

// Iteration returns the most recently allocated iteration number, or -1.
func (r *RunInfo) Iteration() int64 {
	return r.iterations.Load() - 1
}

// RunTime is zero before start, elapsed time while running and the frozen
// run length after stop.
func (r *RunInfo) RunTime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runTimeLocked()
}

func (r *RunInfo) runTimeLocked() time.Duration {
	switch {
	case r.startTime.IsZero():
		return 0
	case r.endTime.IsZero():
		return r.now().Sub(r.startTime)
	default:
		return r.endTime.Sub(r.startTime)
	}
}

// Percentage returns the progress of the last allocated iteration.
func (r *RunInfo) Percentage() float64 {
	return r.PercentageAt(r.Iteration())
}

// PercentageAt returns the run progress in [0, 100]. ITERATION runs measure
// progress as iteration+1, TIME runs as elapsed milliseconds.
func (r *RunInfo) PercentageAt(iteration int64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.startTime.IsZero() {
		return 0
	}

	target := float64(r.duration.Value)
	var progress float64
	if r.duration.Type == period.Iteration {
		progress = float64(iteration + 1)
	} else {
		progress = float64(r.runTimeLocked().Milliseconds())
	}
	if progress <= 0 {
		return 0
	}
	if progress >= target {
		return 100
	}
	return math.Min(progress/target*100, 100)
}

// IsStarted is true between Start and Stop.
func (r *RunInfo) IsStarted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedLocked()
}

func (r *RunInfo) startedLocked() bool {
	return !r.startTime.IsZero() && r.endTime.IsZero()
}

// IsRunning is true while started and the planned length is not reached.
func (r *RunInfo) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.startedLocked() {
		return false
	}
	if r.duration.Type == period.Iteration {
		return r.iterations.Load() < r.duration.Value
	}
	return r.runTimeLocked().Milliseconds() < r.duration.Value
}

// IsLastIteration reports whether iteration closes an ITERATION run.
func (r *RunInfo) IsLastIteration(iteration int64) bool {
	return r.duration.Type == period.Iteration && iteration+1 == r.duration.Value
}

func (r *RunInfo) Duration() period.Period { return r.duration }

func (r *RunInfo) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

func (r *RunInfo) EndTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endTime
}

// ID identifies the current run; a new ID is generated on every Start.
func (r *RunInfo) ID() ulid.ULID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

func (r *RunInfo) Threads() int { return int(r.threads.Load()) }

func (r *RunInfo) SetThreads(n int) { r.threads.Store(int32(n)) }

func (r *RunInfo) AddTag(tag string) {
	r.mu.Lock()
	r.tags[tag] = struct{}{}
	r.mu.Unlock()
}

func (r *RunInfo) RemoveTag(tag string) {
	r.mu.Lock()
	delete(r.tags, tag)
	r.mu.Unlock()
}

func (r *RunInfo) HasTag(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tags[tag]
	return ok
}

// Tags returns the tags in sorted order.
func (r *RunInfo) Tags() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tags))
	for t := range r.tags {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *RunInfo) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("RunInfo{id=%s duration=%s start=%s end=%s iterations=%d threads=%d tags=%d}",
		r.id, r.duration, fmtTime(r.startTime), fmtTime(r.endTime),
		r.iterations.Load(), r.threads.Load(), len(r.tags))
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}
