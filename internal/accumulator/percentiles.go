package accumulator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// ErrOutOfRange is returned for values above the highest trackable value.
var ErrOutOfRange = errors.New("value exceeds the trackable range")

// DefaultHighestTrackable is used when no maximum is configured: one hour in
// milliseconds.
const DefaultHighestTrackable int64 = 3_600_000

// Level is one step of a percentile walk.
type Level struct {
	Percentile float64 // 0..100
	Value      int64   // highest value equivalent to the bucket, as recorded
}

// Percentiles records integer values into an HDR histogram.
type Percentiles struct {
	mu      sync.Mutex
	h       *hdrhistogram.Histogram
	highest int64
	sigfigs int
}

// NewPercentiles creates a recorder for values in [0, highest] with the
// given number of significant decimal digits (1..5).
func NewPercentiles(highest int64, sigfigs int) (*Percentiles, error) {
	if sigfigs < 1 || sigfigs > 5 {
		return nil, fmt.Errorf("precision must be between 1 and 5, got %d", sigfigs)
	}
	if highest <= 0 {
		highest = DefaultHighestTrackable
	}
	if highest < 2 {
		highest = 2
	}
	return &Percentiles{
		h:       hdrhistogram.New(1, highest, sigfigs),
		highest: highest,
		sigfigs: sigfigs,
	}, nil
}

func (p *Percentiles) Highest() int64 { return p.highest }

func (p *Percentiles) Precision() int { return p.sigfigs }

// Add rounds a numeric value to the nearest integer and records it.
func (p *Percentiles) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	return p.Record(int64(math.Round(v)))
}

// Record stores one value. Negative values are recorded as zero.
func (p *Percentiles) Record(v int64) error {
	return p.RecordN(v, 1)
}

func (p *Percentiles) RecordN(v, n int64) error {
	if v < 0 {
		v = 0
	}
	if v > p.highest {
		return fmt.Errorf("%w: %d > %d", ErrOutOfRange, v, p.highest)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.RecordValues(v, n)
}

// Merge adds the counts recorded by other.
func (p *Percentiles) Merge(other *Percentiles) {
	if other == nil || other == p {
		return
	}
	snap := other.Snapshot()
	p.mu.Lock()
	p.h.Merge(snap.h)
	p.mu.Unlock()
}

// Snapshot returns an independent copy.
func (p *Percentiles) Snapshot() *Percentiles {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Percentiles{
		h:       hdrhistogram.Import(p.h.Export()),
		highest: p.highest,
		sigfigs: p.sigfigs,
	}
}

// CorrectedCopy returns a copy compensating for coordinated omission. Every
// recorded value v is copied, and for a positive expectedInterval the values
// v-k*expectedInterval that are still >= expectedInterval are added with the
// same count, standing in for the samples a stalled sender never issued.
func (p *Percentiles) CorrectedCopy(expectedInterval int64) *Percentiles {
	p.mu.Lock()
	bars := p.h.Distribution()
	p.mu.Unlock()

	out := &Percentiles{
		h:       hdrhistogram.New(1, p.highest, p.sigfigs),
		highest: p.highest,
		sigfigs: p.sigfigs,
	}
	for _, bar := range bars {
		if bar.Count == 0 {
			continue
		}
		_ = out.h.RecordValues(bar.To, bar.Count)
		if expectedInterval <= 0 {
			continue
		}
		for missing := bar.To - expectedInterval; missing >= expectedInterval; missing -= expectedInterval {
			_ = out.h.RecordValues(missing, bar.Count)
		}
	}
	return out
}

// Iterate walks the distribution the way HDR percentile output does: the
// percentile step halves every time the remaining distance to 100% halves,
// with ticksPerHalfDistance steps per halving. Each level reports the highest
// value equivalent to the first bucket reaching it. The walk ends with 100%.
func (p *Percentiles) Iterate(ticksPerHalfDistance int) []Level {
	if ticksPerHalfDistance < 1 {
		ticksPerHalfDistance = 1
	}
	p.mu.Lock()
	bars := p.h.Distribution()
	total := p.h.TotalCount()
	p.mu.Unlock()
	if total == 0 {
		return nil
	}

	recorded := bars[:0]
	for _, b := range bars {
		if b.Count > 0 {
			recorded = append(recorded, b)
		}
	}

	var levels []Level
	level := 0.0
	var cum int64
	for i, b := range recorded {
		cum += b.Count
		last := i == len(recorded)-1
		for 100*float64(cum)/float64(total) >= level {
			levels = append(levels, Level{Percentile: level, Value: b.To})
			level = nextLevel(level, ticksPerHalfDistance)
			if last {
				break
			}
		}
	}
	levels = append(levels, Level{Percentile: 100, Value: recorded[len(recorded)-1].To})
	return levels
}

func nextLevel(level float64, ticksPerHalfDistance int) float64 {
	if level >= 100 {
		return math.Inf(1)
	}
	halvings := math.Floor(math.Log2(100 / (100 - level)))
	ticks := float64(ticksPerHalfDistance) * math.Pow(2, halvings+1)
	return level + 100/ticks
}

// ValueAtQuantile returns the value at q percent.
func (p *Percentiles) ValueAtQuantile(q float64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.ValueAtQuantile(q)
}

func (p *Percentiles) Mean() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Mean()
}

func (p *Percentiles) Max() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Max()
}

func (p *Percentiles) TotalCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.TotalCount()
}

func (p *Percentiles) Reset() {
	p.mu.Lock()
	p.h.Reset()
	p.mu.Unlock()
}
