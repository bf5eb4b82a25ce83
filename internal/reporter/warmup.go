package reporter

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
)

// WarmUpConfig configures warm-up detection. The run is considered warm once
// it ran for at least MinimalDuration and MinimalCount iterations and the
// throughput measured at two consecutive checks differs by less than
// AbsoluteThreshold iterations/s or by less than RelativeThreshold of the
// previous value.
type WarmUpConfig struct {
	MinimalDuration   time.Duration
	MinimalCount      int64
	RelativeThreshold float64
	AbsoluteThreshold float64
	CheckingPeriod    time.Duration
	// MaximalDuration and MaximalCount stop the run when it does not warm up
	// in time. Zero disables the limit.
	MaximalDuration time.Duration
	MaximalCount    int64
}

func DefaultWarmUpConfig() WarmUpConfig {
	return WarmUpConfig{
		MinimalDuration:   15 * time.Second,
		MinimalCount:      10000,
		RelativeThreshold: 0.002,
		AbsoluteThreshold: 0.2,
		CheckingPeriod:    time.Second,
	}
}

// WarmUp watches throughput until it settles, then resets the whole run once
// so that warm-up samples do not reach the final statistics.
type WarmUp struct {
	cfg WarmUpConfig
	now func() time.Time

	mu             sync.Mutex
	lastCheck      time.Time
	lastThroughput float64

	done atomic.Bool
}

func NewWarmUp(cfg WarmUpConfig) *WarmUp {
	return &WarmUp{cfg: cfg, now: time.Now}
}

// Finished reports whether warm-up completed or was abandoned.
func (w *WarmUp) Finished() bool { return w.done.Load() }

func (w *WarmUp) ValidateDestination(Destination) error {
	return ErrDestinationsNotAllowed
}

func (w *WarmUp) Start(r *Reporter) error {
	if !w.done.Load() {
		if ri := r.RunInfo(); ri != nil {
			ri.AddTag(measurement.WarmUpTag)
		}
	}
	return nil
}

func (w *WarmUp) Fold(r *Reporter, _ *measurement.Unit) error {
	if w.done.Load() {
		return nil
	}
	ri := r.RunInfo()
	if ri == nil {
		return ErrNoRunInfo
	}

	runTime := ri.RunTime()
	count := ri.Iteration() + 1

	if w.exceeded(runTime, count) {
		if w.done.CompareAndSwap(false, true) {
			r.Logger().Warn("warm-up limit exceeded, stopping the run",
				zap.Duration("runTime", runTime), zap.Int64("iterations", count))
			ri.RemoveTag(measurement.WarmUpTag)
			if c := r.Controller(); c != nil {
				go func() {
					if err := c.Stop(); err != nil {
						r.Logger().Error("stopping the run failed", zap.Error(err))
					}
				}()
			}
		}
		return nil
	}

	now := w.now()
	w.mu.Lock()
	if !w.lastCheck.IsZero() && now.Sub(w.lastCheck) < w.cfg.CheckingPeriod {
		w.mu.Unlock()
		return nil
	}
	w.lastCheck = now
	if runTime <= 0 {
		w.mu.Unlock()
		return nil
	}
	throughput := float64(count) / runTime.Seconds()
	prev := w.lastThroughput
	w.lastThroughput = throughput
	w.mu.Unlock()

	if runTime < w.cfg.MinimalDuration || count < w.cfg.MinimalCount || prev <= 0 {
		return nil
	}
	diff := math.Abs(throughput - prev)
	if diff >= w.cfg.AbsoluteThreshold && diff/prev >= w.cfg.RelativeThreshold {
		return nil
	}

	if !w.done.CompareAndSwap(false, true) {
		return nil
	}
	r.Logger().Info("warm-up finished",
		zap.Duration("runTime", runTime),
		zap.Int64("iterations", count),
		zap.Float64("throughput", throughput))
	ri.RemoveTag(measurement.WarmUpTag)
	if c := r.Controller(); c != nil {
		c.Reset()
	} else {
		ri.Reset()
	}
	return nil
}

func (w *WarmUp) exceeded(runTime time.Duration, count int64) bool {
	return (w.cfg.MaximalDuration > 0 && runTime > w.cfg.MaximalDuration) ||
		(w.cfg.MaximalCount > 0 && count > w.cfg.MaximalCount)
}

func (w *WarmUp) Snapshot(*Reporter, *measurement.Builder) error { return nil }

// Reset keeps the completion flag so the run is reset at most once.
func (w *WarmUp) Reset() {
	w.mu.Lock()
	w.lastCheck = time.Time{}
	w.lastThroughput = 0
	w.mu.Unlock()
}

// ParseWarmUpConfig reads minimalWarmUpDuration, minimalWarmUpCount,
// relativeThreshold, absoluteThreshold, checkingPeriod, maximalWarmUpDuration
// and maximalWarmUpCount.
func ParseWarmUpConfig(p properties.Properties) (WarmUpConfig, error) {
	cfg := DefaultWarmUpConfig()
	var err error
	if cfg.MinimalDuration, err = p.Duration("minimalWarmUpDuration", cfg.MinimalDuration); err != nil {
		return cfg, err
	}
	if cfg.MinimalCount, err = p.Int64("minimalWarmUpCount", cfg.MinimalCount); err != nil {
		return cfg, err
	}
	if cfg.RelativeThreshold, err = p.Float("relativeThreshold", cfg.RelativeThreshold); err != nil {
		return cfg, err
	}
	if cfg.AbsoluteThreshold, err = p.Float("absoluteThreshold", cfg.AbsoluteThreshold); err != nil {
		return cfg, err
	}
	if cfg.CheckingPeriod, err = p.Duration("checkingPeriod", cfg.CheckingPeriod); err != nil {
		return cfg, err
	}
	if cfg.MaximalDuration, err = p.Duration("maximalWarmUpDuration", cfg.MaximalDuration); err != nil {
		return cfg, err
	}
	if cfg.MaximalCount, err = p.Int64("maximalWarmUpCount", cfg.MaximalCount); err != nil {
		return cfg, err
	}
	return cfg, nil
}
