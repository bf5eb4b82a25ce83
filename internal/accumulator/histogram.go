package accumulator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
)

// Range is a half-open interval [Min, Max).
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v < r.Max
}

func (r Range) String() string {
	return "<" + fmtBound(r.Min) + ":" + fmtBound(r.Max) + ")"
}

func fmtBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// Bucket is a range with its sample count.
type Bucket struct {
	Range Range
	Count int64
}

// ErrIncompatible is returned when merging histograms with different ranges.
var ErrIncompatible = errors.New("histograms have different ranges")

// Histogram counts values into ranges split at a set of dividers: the
// dividers d1 < d2 < ... < dn produce (-inf,d1), [d1,d2), ..., [dn,+inf).
// Counts are order independent and merging is commutative and associative.
type Histogram struct {
	mu       sync.Mutex
	dividers []float64
	counts   []int64
	total    int64
	min      float64
	max      float64
}

func NewHistogram(dividers ...float64) *Histogram {
	sorted := make([]float64, 0, len(dividers))
	for _, d := range dividers {
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			sorted = append(sorted, d)
		}
	}
	sort.Float64s(sorted)
	uniq := sorted[:0]
	for i, d := range sorted {
		if i == 0 || d != sorted[i-1] {
			uniq = append(uniq, d)
		}
	}
	return &Histogram{
		dividers: uniq,
		counts:   make([]int64, len(uniq)+1),
		min:      math.Inf(1),
		max:      math.Inf(-1),
	}
}

func (h *Histogram) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	if math.IsNaN(v) {
		return fmt.Errorf("%w: NaN", ErrNotNumeric)
	}
	idx := sort.Search(len(h.dividers), func(i int) bool { return h.dividers[i] > v })
	h.mu.Lock()
	h.counts[idx]++
	h.total++
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
	h.mu.Unlock()
	return nil
}

// Result returns the share of samples per range in percent.
func (h *Histogram) Result() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return nil
	}
	return h.inPercentLocked()
}

func (h *Histogram) Reset() {
	h.mu.Lock()
	for i := range h.counts {
		h.counts[i] = 0
	}
	h.total = 0
	h.min, h.max = math.Inf(1), math.Inf(-1)
	h.mu.Unlock()
}

// Ranges lists the ranges in ascending order.
func (h *Histogram) Ranges() []Range {
	out := make([]Range, len(h.counts))
	for i := range out {
		out[i] = h.rangeAt(i)
	}
	return out
}

func (h *Histogram) rangeAt(i int) Range {
	lo, hi := math.Inf(-1), math.Inf(1)
	if i > 0 {
		lo = h.dividers[i-1]
	}
	if i < len(h.dividers) {
		hi = h.dividers[i]
	}
	return Range{Min: lo, Max: hi}
}

// Buckets returns a consistent copy of all ranges with their counts.
func (h *Histogram) Buckets() []Bucket {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Bucket, len(h.counts))
	for i, c := range h.counts {
		out[i] = Bucket{Range: h.rangeAt(i), Count: c}
	}
	return out
}

func (h *Histogram) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// InPercent returns the share of samples per range; all ranges are present.
func (h *Histogram) InPercent() map[Range]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inPercentLocked()
}

func (h *Histogram) inPercentLocked() map[Range]float64 {
	out := make(map[Range]float64, len(h.counts))
	for i, c := range h.counts {
		p := 0.0
		if h.total > 0 {
			p = float64(c) / float64(h.total) * 100
		}
		out[h.rangeAt(i)] = p
	}
	return out
}

// Merge adds other's counts into h.
func (h *Histogram) Merge(other *Histogram) error {
	if other == nil || other == h {
		return nil
	}
	other.mu.Lock()
	dividers := other.dividers
	counts := append([]int64(nil), other.counts...)
	total, lo, hi := other.total, other.min, other.max
	other.mu.Unlock()

	if len(dividers) != len(h.dividers) {
		return ErrIncompatible
	}
	for i := range dividers {
		if dividers[i] != h.dividers[i] {
			return ErrIncompatible
		}
	}

	h.mu.Lock()
	for i, c := range counts {
		h.counts[i] += c
	}
	h.total += total
	h.min = math.Min(h.min, lo)
	h.max = math.Max(h.max, hi)
	h.mu.Unlock()
	return nil
}

// Percentile returns the value below which p percent of the samples fall,
// interpolating linearly inside the bucket that holds the cut point. The open
// edge buckets are bounded by the smallest and largest value observed.
func (h *Histogram) Percentile(p float64) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return 0, false
	}
	p = math.Max(0, math.Min(100, p))
	if p == 0 {
		return h.min, true
	}

	rank := p / 100 * float64(h.total)
	var cum float64
	for i, c := range h.counts {
		if c == 0 {
			continue
		}
		next := cum + float64(c)
		if next >= rank {
			r := h.rangeAt(i)
			lo, hi := r.Min, r.Max
			if math.IsInf(lo, -1) {
				lo = h.min
			}
			if math.IsInf(hi, 1) {
				hi = h.max
			}
			if hi < lo {
				hi = lo
			}
			frac := (rank - cum) / float64(c)
			return lo + frac*(hi-lo), true
		}
		cum = next
	}
	return h.max, true
}
