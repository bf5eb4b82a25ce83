// Package accumulator folds streams of same-named sample values into running
// statistics. Every implementation guards its own state, so accumulators can
// be folded from many goroutines and read while folding continues.
package accumulator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/torosent/crankreport/internal/measurement"
)

// ErrNotNumeric is returned when a numeric accumulator receives a value it
// cannot convert to float64.
var ErrNotNumeric = errors.New("value is not numeric")

// Accumulator folds values into one statistic. Result returns nil until the
// first value is added.
type Accumulator interface {
	Add(value any) error
	Result() any
	Reset()
}

// Factory selects the accumulator for a result name, given its first value.
type Factory func(name string, value any) Accumulator

func toFloat(value any) (float64, error) {
	f, ok := measurement.ToFloat(value)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, value)
	}
	return f, nil
}

// Average reports sum/count.
type Average struct {
	mu    sync.Mutex
	sum   float64
	count int64
}

func NewAverage() *Average { return &Average{} }

func (a *Average) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.sum += v
	a.count++
	a.mu.Unlock()
	return nil
}

func (a *Average) Result() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return nil
	}
	return a.sum / float64(a.count)
}

func (a *Average) Reset() {
	a.mu.Lock()
	a.sum, a.count = 0, 0
	a.mu.Unlock()
}

// extremum is shared by Min and Max.
type extremum struct {
	mu      sync.Mutex
	value   float64
	seen    bool
	better  func(candidate, current float64) bool
	initial float64
}

func (e *extremum) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.better(v, e.value) {
		e.value = v
	}
	e.seen = true
	e.mu.Unlock()
	return nil
}

func (e *extremum) Result() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seen {
		return nil
	}
	return e.value
}

func (e *extremum) Reset() {
	e.mu.Lock()
	e.value, e.seen = e.initial, false
	e.mu.Unlock()
}

// Min keeps the smallest value, starting from +Inf.
type Min struct{ extremum }

func NewMin() *Min {
	return &Min{extremum{
		value:   math.Inf(1),
		initial: math.Inf(1),
		better:  func(c, cur float64) bool { return c < cur },
	}}
}

// Max keeps the largest value, starting from -Inf.
type Max struct{ extremum }

func NewMax() *Max {
	return &Max{extremum{
		value:   math.Inf(-1),
		initial: math.Inf(-1),
		better:  func(c, cur float64) bool { return c > cur },
	}}
}

// LastValue keeps the most recently added value of any type.
type LastValue struct {
	mu    sync.Mutex
	value any
}

func NewLastValue() *LastValue { return &LastValue{} }

func (l *LastValue) Add(value any) error {
	l.mu.Lock()
	l.value = value
	l.mu.Unlock()
	return nil
}

func (l *LastValue) Result() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

func (l *LastValue) Reset() {
	l.mu.Lock()
	l.value = nil
	l.mu.Unlock()
}

// Sum adds values up; it reports 0 before the first value.
type Sum struct {
	mu  sync.Mutex
	sum float64
}

func NewSum() *Sum { return &Sum{} }

func (s *Sum) Add(value any) error {
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sum += v
	s.mu.Unlock()
	return nil
}

func (s *Sum) Result() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

func (s *Sum) Reset() {
	s.mu.Lock()
	s.sum = 0
	s.mu.Unlock()
}

// Default is the fallback policy: numeric values are averaged, everything
// else keeps its last value. Failures are summed.
func Default(name string, value any) Accumulator {
	if name == measurement.FailuresResult {
		return NewSum()
	}
	if _, ok := measurement.ToFloat(value); ok {
		return NewAverage()
	}
	return NewLastValue()
}

// LastValues keeps the last value for every name.
func LastValues(string, any) Accumulator { return NewLastValue() }
