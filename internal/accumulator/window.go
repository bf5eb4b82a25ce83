package accumulator

import (
	"math"
	"sync"
	"time"
)

// WindowKind selects the statistic computed over a Window.
type WindowKind int

const (
	WindowAverage WindowKind = iota
	WindowMin
	WindowMax
	WindowSum
)

type sample struct {
	at    time.Time
	value float64
}

// Window computes a statistic over the most recent values, bounded either by
// count or by age.
type Window struct {
	mu      sync.Mutex
	kind    WindowKind
	size    int
	span    time.Duration
	now     func() time.Time
	samples []sample
}

// NewWindow keeps the last size values.
func NewWindow(kind WindowKind, size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{kind: kind, size: size, now: time.Now}
}

// NewTimeWindow keeps values added within the last span.
func NewTimeWindow(kind WindowKind, span time.Duration) *Window {
	return &Window{kind: kind, span: span, now: time.Now}
}

func (w *Window) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.expireLocked()
	w.samples = append(w.samples, sample{at: w.now(), value: v})
	if w.size > 0 && len(w.samples) > w.size {
		w.samples = append(w.samples[:0], w.samples[len(w.samples)-w.size:]...)
	}
	w.mu.Unlock()
	return nil
}

func (w *Window) Result() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked()
	if len(w.samples) == 0 {
		return nil
	}

	switch w.kind {
	case WindowMin:
		m := math.Inf(1)
		for _, s := range w.samples {
			m = math.Min(m, s.value)
		}
		return m
	case WindowMax:
		m := math.Inf(-1)
		for _, s := range w.samples {
			m = math.Max(m, s.value)
		}
		return m
	default:
		var sum float64
		for _, s := range w.samples {
			sum += s.value
		}
		if w.kind == WindowSum {
			return sum
		}
		return sum / float64(len(w.samples))
	}
}

func (w *Window) expireLocked() {
	if w.span <= 0 {
		return
	}
	cutoff := w.now().Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.mu.Unlock()
}

// Len returns the number of values currently in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked()
	return len(w.samples)
}
