// Package reporting owns a run and the reporters observing it. Load
// generators allocate measurement units from the Manager and hand them back
// once filled; the Manager fans each unit out to every reporter.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/reporter"
	"github.com/torosent/crankreport/internal/runinfo"
)

// DefaultCheckInterval is how often TIME-bound destinations are checked
// when no units arrive.
const DefaultCheckInterval = 500 * time.Millisecond

var (
	ErrNoRunInfo = reporter.ErrNoRunInfo
	ErrStopped   = errors.New("report manager already stopped")
)

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCheckInterval sets the background publication interval. Values of zero
// or less keep the default.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// Manager is the single entry point used by load-generating workers. It is
// also the reporter.Controller handed to every registered reporter.
type Manager struct {
	logger        *zap.Logger
	checkInterval time.Duration

	runInfo atomic.Pointer[runinfo.RunInfo]

	mu        sync.Mutex
	reporters []*reporter.Reporter // copy on write

	// lifecycle serialises Start and Stop. Reset does not take it because
	// reporters call Reset from inside Report.
	lifecycle sync.Mutex
	accepting atomic.Bool
	stopped   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
}

var _ reporter.Controller = (*Manager)(nil)

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:        zap.NewNop(),
		checkInterval: DefaultCheckInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetRunInfo attaches the run to the manager and every registered reporter.
func (m *Manager) SetRunInfo(ri *runinfo.RunInfo) {
	m.runInfo.Store(ri)
	for _, r := range m.Reporters() {
		r.SetRunInfo(ri)
	}
}

func (m *Manager) RunInfo() *runinfo.RunInfo { return m.runInfo.Load() }

// RegisterReporter adds r, wiring it to the run and to this manager. A
// reporter registered while the run is live is started immediately.
func (m *Manager) RegisterReporter(r *reporter.Reporter) error {
	if r == nil {
		return errors.New("nil reporter")
	}
	m.mu.Lock()
	if slices.Contains(m.reporters, r) {
		m.mu.Unlock()
		return fmt.Errorf("reporter %s already registered", r.Name())
	}
	next := slices.Clone(m.reporters)
	m.reporters = append(next, r)
	m.mu.Unlock()

	if ri := m.runInfo.Load(); ri != nil {
		r.SetRunInfo(ri)
	}
	r.SetController(m)
	if m.accepting.Load() {
		return r.Start()
	}
	return nil
}

// UnregisterReporter removes r. A running reporter is stopped.
func (m *Manager) UnregisterReporter(r *reporter.Reporter) error {
	m.mu.Lock()
	idx := slices.Index(m.reporters, r)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	m.reporters = slices.Delete(slices.Clone(m.reporters), idx, idx+1)
	m.mu.Unlock()
	return r.Stop()
}

// Reporters returns the registered reporters in registration order.
func (m *Manager) Reporters() []*reporter.Reporter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reporters
}

// NewMeasurementUnit allocates the next iteration. It returns nil when the
// run is not accepting work: before Start, after Stop, or once the planned
// iterations or time are used up. Callers drop nil units.
func (m *Manager) NewMeasurementUnit() *measurement.Unit {
	ri := m.runInfo.Load()
	if ri == nil || !m.accepting.Load() || !ri.IsRunning() {
		return nil
	}
	idx, ok := ri.TryNextIteration()
	if !ok {
		return nil
	}
	return measurement.New(idx)
}

// Report hands u to every reporter. Reporter failures are logged and do not
// stop the fan-out; only a missing run is returned.
func (m *Manager) Report(u *measurement.Unit) error {
	if u == nil {
		return nil
	}
	if m.runInfo.Load() == nil {
		return ErrNoRunInfo
	}
	for _, r := range m.Reporters() {
		if err := r.Report(u); err != nil {
			if errors.Is(err, reporter.ErrNotStarted) {
				m.logger.Debug("unit dropped by stopped reporter", zap.String("reporter", r.Name()), zap.Int64("iteration", u.Iteration()))
				continue
			}
			m.logger.Warn("reporter failed", zap.String("reporter", r.Name()), zap.Int64("iteration", u.Iteration()), zap.Error(err))
		}
	}
	return nil
}

// Start starts the run, then every reporter, and only then begins handing
// out measurement units.
func (m *Manager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stopped.Load() {
		return ErrStopped
	}
	if m.accepting.Load() {
		return nil
	}
	ri := m.runInfo.Load()
	if ri == nil {
		return ErrNoRunInfo
	}

	ri.Start()
	var errs []error
	for _, r := range m.Reporters() {
		if err := r.Start(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.publishLoop(ctx, ri)

	m.accepting.Store(true)
	m.logger.Info("run started",
		zap.Stringer("run", ri.ID()),
		zap.Stringer("duration", ri.Duration()),
		zap.Int("reporters", len(m.Reporters())))
	return errors.Join(errs...)
}

// Stop stops handing out units, publishes final results, stops every
// reporter in reverse registration order and finally stops the run.
// Stopping twice does nothing.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.accepting.CompareAndSwap(true, false) {
		return nil
	}
	m.stopped.Store(true)
	m.cancel()
	m.wg.Wait()

	reps := m.Reporters()
	for _, t := range []period.Type{period.Time, period.Iteration, period.Percentage} {
		for _, r := range reps {
			r.PublishFinal(t)
		}
	}

	var errs []error
	for i := len(reps) - 1; i >= 0; i-- {
		if err := reps[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", reps[i].Name(), err))
		}
	}

	ri := m.runInfo.Load()
	ri.Stop()
	close(m.done)
	m.logger.Info("run stopped",
		zap.Stringer("run", ri.ID()),
		zap.Int64("iterations", ri.Iteration()+1),
		zap.Duration("runTime", ri.RunTime()))
	return errors.Join(errs...)
}

// Reset rewinds the run and clears every reporter. Destinations stay bound.
func (m *Manager) Reset() {
	if ri := m.runInfo.Load(); ri != nil {
		ri.Reset()
	}
	for _, r := range m.Reporters() {
		r.Reset()
	}
	m.logger.Info("run reset")
}

// Done is closed once Stop completes.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Wait blocks until Stop completes.
func (m *Manager) Wait() { <-m.done }

func (m *Manager) publishLoop(ctx context.Context, ri *runinfo.RunInfo) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !ri.IsStarted() {
				continue
			}
			for _, r := range m.Reporters() {
				r.PublishDue()
			}
		}
	}
}
