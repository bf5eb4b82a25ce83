package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/torosent/crankreport/internal/accumulator"
	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/properties"
)

// Result names published by the statistics reporters.
const (
	AverageResult = "Average"
	MinimumResult = "Minimum"
	MaximumResult = "Maximum"
)

// StatsConfig configures the statistics reporters.
type StatsConfig struct {
	AverageEnabled bool
	MinimumEnabled bool
	MaximumEnabled bool
	// WindowType selects whether SetWindowSize counts iterations or
	// milliseconds.
	WindowType period.Type
	// Histogram holds range dividers; the share of default results per
	// range is published under HistogramPrefix + range.
	Histogram       []float64
	HistogramPrefix string
}

func DefaultStatsConfig() StatsConfig {
	return StatsConfig{
		AverageEnabled:  true,
		MinimumEnabled:  true,
		MaximumEnabled:  true,
		WindowType:      period.Iteration,
		HistogramPrefix: "in",
	}
}

// sampleFunc derives the default result of a unit; ok is false when the
// unit carries nothing to sample.
type sampleFunc func(r *Reporter, u *measurement.Unit) (value float64, ok bool)

// Stats publishes the default result of each unit together with its
// average, minimum and maximum.
type Stats struct {
	cfg    StatsConfig
	unit   string
	sample sampleFunc
	hist   *accumulator.Histogram
}

func newStats(cfg StatsConfig, unit string, sample sampleFunc) *Stats {
	s := &Stats{cfg: cfg, unit: unit, sample: sample}
	if len(cfg.Histogram) > 0 {
		s.hist = accumulator.NewHistogram(cfg.Histogram...)
	}
	return s
}

// NewResponseTimeStats samples the total measured time of each unit in ms.
func NewResponseTimeStats(cfg StatsConfig) *Stats {
	return newStats(cfg, "ms", func(_ *Reporter, u *measurement.Unit) (float64, bool) {
		if !u.IsMeasured() {
			return 0, false
		}
		return u.TotalTime(), true
	})
}

// NewThroughputStats samples 1000*threads/lastTime, the rate the workers
// would sustain at the unit's latency.
func NewThroughputStats(cfg StatsConfig) *Stats {
	return newStats(cfg, "iterations/s", func(r *Reporter, u *measurement.Unit) (float64, bool) {
		last := u.LastTime()
		if last <= 0 {
			return 0, false
		}
		threads := 1
		if ri := r.RunInfo(); ri != nil && ri.Threads() > 0 {
			threads = ri.Threads()
		}
		return 1000 * float64(threads) / last, true
	})
}

// NewIterationsPerSecond samples the overall iteration rate of the run.
func NewIterationsPerSecond(cfg StatsConfig) *Stats {
	return newStats(cfg, "iterations/s", func(r *Reporter, _ *measurement.Unit) (float64, bool) {
		ri := r.RunInfo()
		if ri == nil {
			return 0, false
		}
		ms := ri.RunTime().Milliseconds()
		if ms <= 0 {
			return 0, false
		}
		return 1000 * float64(r.Iteration()+1) / float64(ms), true
	})
}

func (s *Stats) Config() StatsConfig { return s.cfg }

func (s *Stats) Fold(r *Reporter, u *measurement.Unit) error {
	v, ok := s.sample(r, u)
	if !ok {
		return nil
	}
	if err := r.Accumulate(measurement.DefaultResult, measurement.Quantity{Value: v, Unit: s.unit}); err != nil {
		return err
	}
	for name, enabled := range map[string]bool{
		AverageResult: s.cfg.AverageEnabled,
		MinimumResult: s.cfg.MinimumEnabled,
		MaximumResult: s.cfg.MaximumEnabled,
	} {
		if !enabled {
			continue
		}
		if err := r.Accumulate(name, v); err != nil {
			return err
		}
	}
	if s.hist != nil {
		return s.hist.Add(v)
	}
	return nil
}

func (s *Stats) Snapshot(r *Reporter, b *measurement.Builder) error {
	if v := r.AccumulatedResult(measurement.DefaultResult); v != nil {
		b.SetDefault(v)
	}
	for _, name := range []string{AverageResult, MinimumResult, MaximumResult} {
		if v, ok := r.AccumulatedResult(name).(float64); ok {
			b.Set(name, measurement.Quantity{Value: v, Unit: s.unit})
		}
	}
	if s.hist != nil && s.hist.Total() > 0 {
		pct := s.hist.InPercent()
		for _, rg := range s.hist.Ranges() {
			b.Set(s.cfg.HistogramPrefix+rg.String(), pct[rg])
		}
	}
	return nil
}

func (s *Stats) Reset() {
	if s.hist != nil {
		s.hist.Reset()
	}
}

// Accumulator picks windowed accumulators for the statistics when the
// reporter has a window size.
func (s *Stats) Accumulator(r *Reporter, name string, _ any) accumulator.Accumulator {
	var kind accumulator.WindowKind
	switch name {
	case measurement.DefaultResult:
		return accumulator.NewLastValue()
	case AverageResult:
		kind = accumulator.WindowAverage
	case MinimumResult:
		kind = accumulator.WindowMin
	case MaximumResult:
		kind = accumulator.WindowMax
	default:
		return nil
	}

	if size := r.WindowSize(); size > 0 {
		if s.cfg.WindowType == period.Time {
			return accumulator.NewTimeWindow(kind, time.Duration(size)*time.Millisecond)
		}
		return accumulator.NewWindow(kind, size)
	}
	switch kind {
	case accumulator.WindowMin:
		return accumulator.NewMin()
	case accumulator.WindowMax:
		return accumulator.NewMax()
	default:
		return accumulator.NewAverage()
	}
}

// ParseStatsConfig reads averageEnabled, minimumEnabled, maximumEnabled,
// windowType, histogram and histogramPrefix.
func ParseStatsConfig(p properties.Properties) (StatsConfig, error) {
	cfg := DefaultStatsConfig()
	var err error
	if cfg.AverageEnabled, err = p.Bool("averageEnabled", cfg.AverageEnabled); err != nil {
		return cfg, err
	}
	if cfg.MinimumEnabled, err = p.Bool("minimumEnabled", cfg.MinimumEnabled); err != nil {
		return cfg, err
	}
	if cfg.MaximumEnabled, err = p.Bool("maximumEnabled", cfg.MaximumEnabled); err != nil {
		return cfg, err
	}
	switch strings.ToLower(p.String("windowType", "iteration")) {
	case "iteration", "iterations":
		cfg.WindowType = period.Iteration
	case "time":
		cfg.WindowType = period.Time
	default:
		return cfg, fmt.Errorf("property windowType: unsupported value %q", p["windowType"])
	}
	if cfg.Histogram, err = p.Floats("histogram"); err != nil {
		return cfg, err
	}
	cfg.HistogramPrefix = p.String("histogramPrefix", cfg.HistogramPrefix)
	return cfg, nil
}
