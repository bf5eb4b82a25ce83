package reporter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/runinfo"
)

// runController resets the run and its reporters the way the report manager
// does.
type runController struct {
	ri        *runinfo.RunInfo
	reporters []*Reporter
	resets    atomic.Int32
	stops     atomic.Int32
}

func (c *runController) Reset() {
	c.resets.Add(1)
	c.ri.Reset()
	for _, r := range c.reporters {
		r.Reset()
	}
}

func (c *runController) Stop() error {
	c.stops.Add(1)
	return nil
}

func stableWarmUp() WarmUpConfig {
	return WarmUpConfig{
		MinimalCount:      5,
		RelativeThreshold: 1,
		AbsoluteThreshold: 1e12,
	}
}

func TestWarmUpResetsRunOnce(t *testing.T) {
	ri := startedRun(t, period.Every(1000))
	warm := New("warm", NewWarmUp(stableWarmUp()))
	stats := newStatsReporter()
	d := newRecorder("d")
	require.NoError(t, stats.RegisterDestination(d, period.Every(100)))

	ctl := &runController{ri: ri, reporters: []*Reporter{warm, stats}}
	for _, r := range ctl.reporters {
		r.SetRunInfo(ri)
		r.SetController(ctl)
		require.NoError(t, r.Start())
	}
	assert.True(t, ri.HasTag(measurement.WarmUpTag))

	report := func() {
		u := measured(ri, time.Millisecond)
		require.NoError(t, warm.Report(u))
		require.NoError(t, stats.Report(u))
	}
	for i := 0; i < 5; i++ {
		report()
	}
	require.Equal(t, int32(1), ctl.resets.Load())
	assert.True(t, warm.Strategy().(*WarmUp).Finished())
	assert.False(t, ri.HasTag(measurement.WarmUpTag))
	assert.Equal(t, int64(-1), ri.Iteration())

	first := d.all()
	require.Len(t, first, 1)
	warmFlag, _ := first[0].Get(measurement.WarmUpTag)
	assert.Equal(t, true, warmFlag)

	for i := 0; i < 20; i++ {
		report()
	}
	assert.Equal(t, int32(1), ctl.resets.Load(), "warm-up resets at most once")

	got := d.all()
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[1].Iteration())
	warmFlag, _ = got[1].Get(measurement.WarmUpTag)
	assert.Equal(t, false, warmFlag)
	assert.Equal(t, int64(19), stats.Iteration())
}

func TestWarmUpWaitsForMinimalCount(t *testing.T) {
	cfg := stableWarmUp()
	cfg.MinimalCount = 50
	ri := startedRun(t, period.Every(1000))
	warm := New("warm", NewWarmUp(cfg))
	ctl := &runController{ri: ri, reporters: []*Reporter{warm}}
	warm.SetRunInfo(ri)
	warm.SetController(ctl)
	require.NoError(t, warm.Start())

	for i := 0; i < 49; i++ {
		require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	}
	assert.Equal(t, int32(0), ctl.resets.Load())
	require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	assert.Equal(t, int32(1), ctl.resets.Load())
}

func TestWarmUpHonoursCheckingPeriod(t *testing.T) {
	cfg := stableWarmUp()
	cfg.MinimalCount = 0
	cfg.CheckingPeriod = time.Hour
	w := NewWarmUp(cfg)
	now := time.Now()
	w.now = func() time.Time { return now }

	ri := startedRun(t, period.Every(1000))
	warm := New("warm", w)
	ctl := &runController{ri: ri, reporters: []*Reporter{warm}}
	warm.SetRunInfo(ri)
	warm.SetController(ctl)
	require.NoError(t, warm.Start())

	for i := 0; i < 10; i++ {
		require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	}
	assert.Equal(t, int32(0), ctl.resets.Load(), "only the first check ran")

	now = now.Add(time.Hour)
	require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	assert.Equal(t, int32(1), ctl.resets.Load())
}

func TestWarmUpStopsRunPastMaximalCount(t *testing.T) {
	cfg := stableWarmUp()
	cfg.MinimalCount = 1_000_000
	cfg.MaximalCount = 3
	ri := startedRun(t, period.Every(1000))
	warm := New("warm", NewWarmUp(cfg))
	ctl := &runController{ri: ri, reporters: []*Reporter{warm}}
	warm.SetRunInfo(ri)
	warm.SetController(ctl)
	require.NoError(t, warm.Start())

	for i := 0; i < 10; i++ {
		require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	}
	require.Eventually(t, func() bool { return ctl.stops.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), ctl.resets.Load())
	assert.False(t, ri.HasTag(measurement.WarmUpTag))
}

func TestWarmUpWithoutControllerResetsRunInfo(t *testing.T) {
	ri := startedRun(t, period.Every(1000))
	warm := New("warm", NewWarmUp(stableWarmUp()))
	warm.SetRunInfo(ri)
	require.NoError(t, warm.Start())

	for i := 0; i < 5; i++ {
		require.NoError(t, warm.Report(measured(ri, time.Millisecond)))
	}
	assert.Equal(t, int64(-1), ri.Iteration())
}

func TestWarmUpRejectsDestinations(t *testing.T) {
	warm := New("warm", NewWarmUp(DefaultWarmUpConfig()))
	err := warm.RegisterDestination(newRecorder("d"), period.Every(1))
	assert.ErrorIs(t, err, ErrDestinationsNotAllowed)
	assert.False(t, warm.Publishes())
	assert.True(t, New("rt", NewResponseTimeStats(DefaultStatsConfig())).Publishes())
}

func TestParseWarmUpConfig(t *testing.T) {
	cfg, err := ParseWarmUpConfig(properties.Properties{
		"minimalWarmUpDuration": "2s",
		"minimalWarmUpCount":    "100",
		"relativeThreshold":     "0.01",
		"checkingPeriod":        "250",
		"maximalWarmUpCount":    "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.MinimalDuration)
	assert.Equal(t, int64(100), cfg.MinimalCount)
	assert.Equal(t, 0.01, cfg.RelativeThreshold)
	assert.Equal(t, 0.2, cfg.AbsoluteThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.CheckingPeriod)
	assert.Equal(t, time.Duration(0), cfg.MaximalDuration)
	assert.Equal(t, int64(5000), cfg.MaximalCount)

	_, err = ParseWarmUpConfig(properties.Properties{"minimalWarmUpCount": "lots"})
	assert.Error(t, err)
}
