package runner_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
)

// countingSource hands out limit units (0 means unlimited) and keeps every
// reported one.
type countingSource struct {
	limit int64
	next  atomic.Int64

	mu       sync.Mutex
	reported []*measurement.Unit
}

func (s *countingSource) NewMeasurementUnit() *measurement.Unit {
	idx := s.next.Add(1) - 1
	if s.limit > 0 && idx >= s.limit {
		return nil
	}
	return measurement.New(idx)
}

func (s *countingSource) Report(u *measurement.Unit) error {
	s.mu.Lock()
	s.reported = append(s.reported, u)
	s.mu.Unlock()
	return nil
}

func (s *countingSource) units() []*measurement.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*measurement.Unit(nil), s.reported...)
}

// fakeRequester simulates performing an iteration with fixed latency.
type fakeRequester struct {
	latency   time.Duration
	calls     *int64
	failAfter int64 // if >0, fails after this many successful calls
}

func (f *fakeRequester) Do(ctx context.Context, _ *measurement.Unit) error {
	if f.calls != nil {
		atomic.AddInt64(f.calls, 1)
	}
	select {
	case <-time.After(f.latency):
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.failAfter > 0 && atomic.LoadInt64(f.calls) > f.failAfter {
		return context.DeadlineExceeded // arbitrary error
	}
	return nil
}
