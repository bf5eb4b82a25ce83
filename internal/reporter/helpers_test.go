package reporter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/runinfo"
)

// recorder is a destination that keeps every measurement it receives.
type recorder struct {
	name string
	fail error

	mu      sync.Mutex
	opened  int
	closed  int
	reports []*measurement.Measurement
}

func newRecorder(name string) *recorder { return &recorder{name: name} }

func (r *recorder) Name() string { return r.name }

func (r *recorder) Open() error {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
	return nil
}

func (r *recorder) Report(m *measurement.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.reports = append(r.reports, m)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []*measurement.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*measurement.Measurement(nil), r.reports...)
}

func (r *recorder) last(t *testing.T) *measurement.Measurement {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all, "destination %s received nothing", r.name)
	return all[len(all)-1]
}

var errSinkDown = errors.New("sink down")

func startedRun(t *testing.T, d period.Period, opts ...runinfo.Option) *runinfo.RunInfo {
	t.Helper()
	ri, err := runinfo.New(d, opts...)
	require.NoError(t, err)
	ri.Start()
	return ri
}

func measured(ri *runinfo.RunInfo, d time.Duration) *measurement.Unit {
	u := measurement.New(ri.NextIteration())
	u.Record(d)
	return u
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
