package reporter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/runinfo"
)

func ms(v float64) measurement.Quantity { return measurement.Quantity{Value: v, Unit: "ms"} }

func TestResponseTimeStatsWindow(t *testing.T) {
	ri := startedRun(t, period.Every(100))
	rep := New("rt", NewResponseTimeStats(DefaultStatsConfig()), WithWindowSize(4))
	rep.SetRunInfo(ri)
	d := newRecorder("d")
	require.NoError(t, rep.RegisterDestination(d, period.Every(100)))
	require.NoError(t, rep.Start())

	for i := 0; i < 100; i++ {
		require.NoError(t, rep.Report(measured(ri, time.Duration(i)*time.Millisecond)))
	}

	m := d.last(t)
	assert.Equal(t, int64(99), m.Iteration())
	assert.Equal(t, ms(99), m.Default())
	for name, want := range map[string]measurement.Quantity{
		AverageResult: ms(97.5),
		MinimumResult: ms(96),
		MaximumResult: ms(99),
	} {
		got, ok := m.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}

func TestResponseTimeStatsWithoutWindow(t *testing.T) {
	ri := startedRun(t, period.Every(4))
	rep := newStatsReporter()
	rep.SetRunInfo(ri)
	d := newRecorder("d")
	require.NoError(t, rep.RegisterDestination(d, period.Every(4)))
	require.NoError(t, rep.Start())

	for _, v := range []time.Duration{8, 2, 6, 4} {
		require.NoError(t, rep.Report(measured(ri, v*time.Millisecond)))
	}

	m := d.last(t)
	avg, _ := m.Get(AverageResult)
	lo, _ := m.Get(MinimumResult)
	hi, _ := m.Get(MaximumResult)
	assert.Equal(t, ms(5), avg)
	assert.Equal(t, ms(2), lo)
	assert.Equal(t, ms(8), hi)
	assert.Equal(t, ms(4), m.Default())
}

func TestStatsDisabledResultsAreOmitted(t *testing.T) {
	cfg := DefaultStatsConfig()
	cfg.MinimumEnabled = false
	cfg.MaximumEnabled = false
	ri := startedRun(t, period.Every(10))
	rep := New("rt", NewResponseTimeStats(cfg))
	rep.SetRunInfo(ri)
	require.NoError(t, rep.Start())
	require.NoError(t, rep.Report(measured(ri, 3*time.Millisecond)))

	m, err := rep.Snapshot(rep.Iteration())
	require.NoError(t, err)
	assert.Equal(t, []string{measurement.DefaultResult, AverageResult, measurement.WarmUpTag}, m.Keys())
}

func TestStatsHistogramShares(t *testing.T) {
	cfg := DefaultStatsConfig()
	cfg.Histogram = []float64{10, 50}
	ri := startedRun(t, period.Every(10))
	rep := New("rt", NewResponseTimeStats(cfg))
	rep.SetRunInfo(ri)
	require.NoError(t, rep.Start())

	for _, v := range []time.Duration{1, 5, 20, 30, 40, 60, 70, 80, 90, 100} {
		require.NoError(t, rep.Report(measured(ri, v*time.Millisecond)))
	}

	m, err := rep.Snapshot(rep.Iteration())
	require.NoError(t, err)
	for key, want := range map[string]float64{
		"in<-inf:10)": 20,
		"in<10:50)":   30,
		"in<50:inf)":  50,
	} {
		got, ok := m.Get(key)
		require.True(t, ok, "missing %s in %v", key, m.Keys())
		assert.InDelta(t, want, got, 1e-9, key)
	}

	rep.Reset()
	m, err = rep.Snapshot(rep.Iteration())
	require.NoError(t, err)
	_, ok := m.Get("in<-inf:10)")
	assert.False(t, ok, "histogram is cleared on reset")
}

func TestThroughputStatsScalesWithThreads(t *testing.T) {
	ri := startedRun(t, period.Every(10), runinfo.WithThreads(2))
	rep := New("tp", NewThroughputStats(DefaultStatsConfig()))
	rep.SetRunInfo(ri)
	require.NoError(t, rep.Start())
	require.NoError(t, rep.Report(measured(ri, 10*time.Millisecond)))

	m, err := rep.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, measurement.Quantity{Value: 200, Unit: "iterations/s"}, m.Default())
}

func TestIterationsPerSecondUsesRunTime(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	ri := startedRun(t, period.Every(1000), runinfo.WithClock(clock.Now))
	rep := New("ips", NewIterationsPerSecond(DefaultStatsConfig()))
	rep.SetRunInfo(ri)
	require.NoError(t, rep.Start())

	require.NoError(t, rep.Report(measurement.New(ri.NextIteration())), "first unit has no run time yet")
	assert.Nil(t, rep.AccumulatedResult(measurement.DefaultResult))

	clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, rep.Report(measurement.New(ri.NextIteration())))
	}
	assert.Equal(t, measurement.Quantity{Value: 2, Unit: "iterations/s"}, rep.AccumulatedResult(measurement.DefaultResult))
}

func TestParseStatsConfig(t *testing.T) {
	cfg, err := ParseStatsConfig(properties.Properties{
		"minimumEnabled":  "false",
		"windowType":      "time",
		"histogram":       "10, 20,5",
		"histogramPrefix": "bucket",
	})
	require.NoError(t, err)
	assert.True(t, cfg.AverageEnabled)
	assert.False(t, cfg.MinimumEnabled)
	assert.Equal(t, period.Time, cfg.WindowType)
	assert.Equal(t, []float64{10, 20, 5}, cfg.Histogram)
	assert.Equal(t, "bucket", cfg.HistogramPrefix)

	_, err = ParseStatsConfig(properties.Properties{"windowType": "percentage"})
	assert.Error(t, err)
}
