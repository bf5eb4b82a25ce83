package reporter

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/accumulator"
	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/runinfo"
)

// State is the reporter lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Strategy supplies the variant-specific part of a reporter.
type Strategy interface {
	// Fold derives values from a unit and accumulates them on r.
	Fold(r *Reporter, u *measurement.Unit) error
	// Snapshot adds the variant's results to a measurement being built.
	Snapshot(r *Reporter, b *measurement.Builder) error
	// Reset drops state kept outside the reporter's accumulators.
	Reset()
}

// AccumulatorPolicy lets a strategy choose accumulators for its own result
// names. Returning nil falls back to the reporter's factory.
type AccumulatorPolicy interface {
	Accumulator(r *Reporter, name string, value any) accumulator.Accumulator
}

// DestinationValidator lets a strategy veto destination registration.
type DestinationValidator interface {
	ValidateDestination(d Destination) error
}

// Starter is notified when the reporter starts.
type Starter interface {
	Start(r *Reporter) error
}

// Option configures a Reporter.
type Option func(*Reporter)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAccumulators replaces the default per-name accumulator policy.
func WithAccumulators(f accumulator.Factory) Option {
	return func(r *Reporter) {
		if f != nil {
			r.factory = f
		}
	}
}

func WithWindowSize(n int) Option {
	return func(r *Reporter) { r.SetWindowSize(n) }
}

type binding = period.Bound[Destination]

// Reporter accumulates reported units and publishes measurements to its
// destinations whenever one of their periods is crossed.
type Reporter struct {
	name     string
	strategy Strategy
	factory  accumulator.Factory
	logger   *zap.Logger

	runInfo    atomic.Pointer[runinfo.RunInfo]
	controller atomic.Pointer[controllerRef]
	state      atomic.Int32
	windowSize atomic.Int64

	// lifecycle is held shared by Report and exclusively by Start/Stop, so
	// Stop waits for in-flight reports to finish publishing.
	lifecycle sync.RWMutex

	bindMu   sync.Mutex
	bindings []*binding // copy on write

	accMu sync.RWMutex
	accs  map[string]accumulator.Accumulator

	// seq packs the reset generation above countBits and the number of
	// units counted in that generation below it.
	seq atomic.Uint64
}

const (
	countBits = 48
	countMask = 1<<countBits - 1
)

type controllerRef struct{ c Controller }

// New creates a reporter in the created state.
func New(name string, s Strategy, opts ...Option) *Reporter {
	r := &Reporter{
		name:     name,
		strategy: s,
		factory:  accumulator.Default,
		logger:   zap.NewNop(),
		accs:     make(map[string]accumulator.Accumulator),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("reporter", name))
	return r
}

func (r *Reporter) Name() string { return r.name }

func (r *Reporter) Strategy() Strategy { return r.strategy }

func (r *Reporter) Logger() *zap.Logger { return r.logger }

func (r *Reporter) State() State { return State(r.state.Load()) }

// SetRunInfo attaches the run; a created reporter becomes ready.
func (r *Reporter) SetRunInfo(ri *runinfo.RunInfo) {
	r.runInfo.Store(ri)
	if ri != nil {
		r.state.CompareAndSwap(int32(StateCreated), int32(StateReady))
	}
}

func (r *Reporter) RunInfo() *runinfo.RunInfo { return r.runInfo.Load() }

func (r *Reporter) SetController(c Controller) {
	r.controller.Store(&controllerRef{c: c})
}

func (r *Reporter) Controller() Controller {
	if ref := r.controller.Load(); ref != nil {
		return ref.c
	}
	return nil
}

// SetWindowSize limits how many recent values the windowed accumulators keep.
// Zero or less disables windowing. It applies to accumulators created after
// the call, so set it before Start.
func (r *Reporter) SetWindowSize(n int) {
	if n < 0 {
		n = 0
	}
	r.windowSize.Store(int64(n))
}

func (r *Reporter) WindowSize() int { return int(r.windowSize.Load()) }

// Iteration is the index of the last counted unit, or -1.
func (r *Reporter) Iteration() int64 { return int64(r.seq.Load()&countMask) - 1 }

// nextIndex counts a unit in the generation observed as seen. It fails once
// a reset started a newer generation.
func (r *Reporter) nextIndex(seen uint64) (int64, bool) {
	cur := seen
	for {
		if cur>>countBits != seen>>countBits {
			return -1, false
		}
		if r.seq.CompareAndSwap(cur, cur+1) {
			return int64(cur & countMask), true
		}
		cur = r.seq.Load()
	}
}

// Publishes is false for reporters whose strategy refuses every destination.
func (r *Reporter) Publishes() bool {
	v, ok := r.strategy.(DestinationValidator)
	return !ok || !errors.Is(v.ValidateDestination(nil), ErrDestinationsNotAllowed)
}

// RegisterDestination binds d to one or more periods. A destination
// registered while running is opened immediately.
func (r *Reporter) RegisterDestination(d Destination, periods ...period.Period) error {
	if d == nil {
		return errors.New("nil destination")
	}
	if v, ok := r.strategy.(DestinationValidator); ok {
		if err := v.ValidateDestination(d); err != nil {
			return err
		}
	}
	if len(periods) == 0 {
		return ErrNoPeriods
	}
	for _, p := range periods {
		if _, err := period.New(p.Type, p.Value); err != nil {
			return err
		}
		if p.Type == period.Time && p.Duration() < MinTimePeriod {
			return fmt.Errorf("%w: %s", ErrPeriodTooShort, p)
		}
	}

	r.bindMu.Lock()
	known := r.hasDestinationLocked(d)
	next := slices.Clone(r.bindings)
	for _, p := range periods {
		dup := false
		for _, b := range next {
			if b.Binding() == d && b.Period() == p {
				dup = true
				break
			}
		}
		if !dup {
			next = append(next, period.NewBound(p, d))
		}
	}
	r.bindings = next
	r.bindMu.Unlock()

	if !known && r.State() == StateRunning {
		if err := d.Open(); err != nil {
			return fmt.Errorf("open %s: %w", destinationName(d), err)
		}
	}
	return nil
}

// UnregisterDestination removes every binding of d, closing it when running.
func (r *Reporter) UnregisterDestination(d Destination) {
	r.bindMu.Lock()
	next := make([]*binding, 0, len(r.bindings))
	removed := false
	for _, b := range r.bindings {
		if b.Binding() == d {
			removed = true
			continue
		}
		next = append(next, b)
	}
	r.bindings = next
	r.bindMu.Unlock()

	if removed && r.State() == StateRunning {
		if err := d.Close(); err != nil {
			r.logger.Warn("closing destination failed", zap.String("destination", destinationName(d)), zap.Error(err))
		}
	}
}

func (r *Reporter) hasDestinationLocked(d Destination) bool {
	for _, b := range r.bindings {
		if b.Binding() == d {
			return true
		}
	}
	return false
}

// Destinations lists the distinct registered destinations in registration order.
func (r *Reporter) Destinations() []Destination {
	var out []Destination
	for _, b := range r.loadBindings() {
		if !slices.Contains(out, b.Binding()) {
			out = append(out, b.Binding())
		}
	}
	return out
}

// Bindings lists the periods bound to d.
func (r *Reporter) Bindings(d Destination) []period.Period {
	var out []period.Period
	for _, b := range r.loadBindings() {
		if b.Binding() == d {
			out = append(out, b.Period())
		}
	}
	return out
}

func (r *Reporter) loadBindings() []*binding {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()
	return r.bindings
}

// Accumulate folds value into the accumulator for name, creating it on first use.
func (r *Reporter) Accumulate(name string, value any) error {
	if err := r.accumulatorFor(name, value).Add(value); err != nil {
		return fmt.Errorf("accumulate %s: %w", name, err)
	}
	return nil
}

func (r *Reporter) accumulatorFor(name string, value any) accumulator.Accumulator {
	r.accMu.RLock()
	acc, ok := r.accs[name]
	r.accMu.RUnlock()
	if ok {
		return acc
	}

	r.accMu.Lock()
	defer r.accMu.Unlock()
	if acc, ok = r.accs[name]; ok {
		return acc
	}
	if p, ok := r.strategy.(AccumulatorPolicy); ok {
		acc = p.Accumulator(r, name, value)
	}
	if acc == nil {
		acc = r.factory(name, value)
	}
	r.accs[name] = acc
	return acc
}

// AccumulatedResult returns the current result for name, or nil.
func (r *Reporter) AccumulatedResult(name string) any {
	r.accMu.RLock()
	acc, ok := r.accs[name]
	r.accMu.RUnlock()
	if !ok {
		return nil
	}
	return acc.Result()
}

// AccumulatedNames lists the names with an accumulator, sorted.
func (r *Reporter) AccumulatedNames() []string {
	r.accMu.RLock()
	names := make([]string, 0, len(r.accs))
	for k := range r.accs {
		names = append(names, k)
	}
	r.accMu.RUnlock()
	sort.Strings(names)
	return names
}

// Report folds a unit and publishes to every destination whose period the
// unit crosses. Destination failures are logged; fold failures are returned
// after publication has been attempted.
func (r *Reporter) Report(u *measurement.Unit) error {
	if u == nil {
		return nil
	}
	ri := r.runInfo.Load()
	if ri == nil {
		return ErrNoRunInfo
	}

	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.State() != StateRunning {
		return ErrNotStarted
	}

	// Units started before the latest run anchor (a warm-up reset) are
	// folded but do not advance the iteration index.
	seen := r.seq.Load()
	counted := u.StartedAfter(ri.StartTime())
	idx := int64(-1)
	if counted {
		idx, counted = r.nextIndex(seen)
	}

	var errs []error
	if err := r.strategy.Fold(r, u); err != nil {
		errs = append(errs, fmt.Errorf("fold: %w", err))
	}
	if counted && !u.StartedAfter(ri.StartTime()) {
		// The run was reset while this unit was being folded.
		return errors.Join(errs...)
	}
	for name, v := range u.Results() {
		if err := r.Accumulate(name, v); err != nil {
			errs = append(errs, err)
		}
	}

	if counted {
		r.evaluate(ri, idx)
	}
	return errors.Join(errs...)
}

func (r *Reporter) evaluate(ri *runinfo.RunInfo, idx int64) {
	final := ri.IsLastIteration(idx)
	pct := int64(math.Floor(ri.PercentageAt(idx)))
	elapsed := ri.RunTime().Milliseconds()

	for _, b := range r.loadBindings() {
		var fire bool
		switch b.Period().Type {
		case period.Iteration:
			fire = b.Observe(idx, final)
		case period.Percentage:
			fire = b.Observe(pct, pct >= 100)
		case period.Time:
			fire = b.Observe(elapsed, false)
		}
		if fire {
			r.publish(b, idx)
		}
	}
}

// PublishDue publishes to TIME-bound destinations whose period has elapsed.
// The report manager calls it periodically so that time-bound destinations
// are served even when no units arrive.
func (r *Reporter) PublishDue() {
	ri := r.runInfo.Load()
	if ri == nil {
		return
	}
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	idx := r.Iteration()
	if r.State() != StateRunning || idx < 0 {
		return
	}
	elapsed := ri.RunTime().Milliseconds()
	for _, b := range r.loadBindings() {
		if b.Period().Type == period.Time && b.Observe(elapsed, false) {
			r.publish(b, idx)
		}
	}
}

// PublishFinal publishes once more to every destination bound with period
// type t, unless its final boundary already fired or no unit was counted.
func (r *Reporter) PublishFinal(t period.Type) {
	if r.runInfo.Load() == nil {
		return
	}
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.State() != StateRunning {
		return
	}
	idx := r.Iteration()
	if idx < 0 {
		return
	}
	for _, b := range r.loadBindings() {
		if b.Period().Type == t && b.Observe(idx, true) {
			r.publish(b, idx)
		}
	}
}

// PublishResult builds a measurement now and hands it to d, returning the
// destination's error.
func (r *Reporter) PublishResult(t period.Type, d Destination) error {
	if r.runInfo.Load() == nil {
		return ErrNoRunInfo
	}
	m, err := r.Snapshot(r.Iteration())
	if err != nil {
		return err
	}
	if err := d.Report(m); err != nil {
		return fmt.Errorf("publish %s result to %s: %w", t, destinationName(d), err)
	}
	return nil
}

func (r *Reporter) publish(b *binding, idx int64) {
	d := b.Binding()
	m, err := r.Snapshot(idx)
	if err != nil {
		r.logger.Error("building measurement failed", zap.Stringer("period", b.Period()), zap.Error(err))
		return
	}
	if err := d.Report(m); err != nil {
		r.logger.Error("destination report failed",
			zap.String("destination", destinationName(d)),
			zap.Stringer("period", b.Period()),
			zap.Int64("iteration", idx),
			zap.Error(err))
	}
}

// Snapshot builds a measurement from the current accumulator state.
func (r *Reporter) Snapshot(iteration int64) (*measurement.Measurement, error) {
	ri := r.runInfo.Load()
	if ri == nil {
		return nil, ErrNoRunInfo
	}
	pct := int64(math.Round(ri.PercentageAt(iteration)))
	b := measurement.NewBuilder(pct, ri.RunTime(), iteration)
	if err := r.strategy.Snapshot(r, b); err != nil {
		return nil, err
	}
	for _, name := range r.AccumulatedNames() {
		if b.Has(name) {
			continue
		}
		if v := r.AccumulatedResult(name); v != nil {
			b.Set(name, v)
		}
	}
	b.Set(measurement.WarmUpTag, ri.HasTag(measurement.WarmUpTag))
	return b.Build(), nil
}

// Start resets the reporter and opens its destinations. Starting a running
// reporter does nothing.
func (r *Reporter) Start() error {
	if r.runInfo.Load() == nil {
		return ErrNoRunInfo
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.State() == StateRunning {
		return nil
	}

	r.Reset()
	if s, ok := r.strategy.(Starter); ok {
		if err := s.Start(r); err != nil {
			return fmt.Errorf("start %s: %w", r.name, err)
		}
	}

	dests := r.Destinations()
	if len(dests) == 0 {
		r.logger.Debug("no destinations registered")
	}
	var errs []error
	for _, d := range dests {
		if err := d.Open(); err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", destinationName(d), err))
		}
	}
	r.state.Store(int32(StateRunning))
	return errors.Join(errs...)
}

// Stop waits for in-flight reports and closes the destinations. Stopping a
// reporter that is not running does nothing.
func (r *Reporter) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.State() != StateRunning {
		return nil
	}
	r.state.Store(int32(StateStopped))

	var errs []error
	for _, d := range r.Destinations() {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", destinationName(d), err))
		}
	}
	return errors.Join(errs...)
}

// Reset clears accumulators, the iteration index and every trigger cursor.
// Destinations and their periods stay registered.
func (r *Reporter) Reset() {
	r.accMu.Lock()
	r.accs = make(map[string]accumulator.Accumulator)
	r.accMu.Unlock()
	for {
		cur := r.seq.Load()
		if r.seq.CompareAndSwap(cur, (cur>>countBits+1)<<countBits) {
			break
		}
	}
	for _, b := range r.loadBindings() {
		b.Reset()
	}
	r.strategy.Reset()
}

func (r *Reporter) String() string {
	return fmt.Sprintf("%s(%s)", r.name, r.State())
}
