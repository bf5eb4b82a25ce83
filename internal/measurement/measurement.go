package measurement

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Quantity is a number with a unit, such as 12.5 ms.
type Quantity struct {
	Value float64
	Unit  string
}

func (q Quantity) String() string {
	v := strconv.FormatFloat(q.Value, 'f', -1, 64)
	if q.Unit == "" {
		return v
	}
	return v + " " + q.Unit
}

// MarshalJSON renders just the number; the unit is carried in the field name
// by destinations that need it.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Value)
}

// Measurement is an immutable snapshot of a reporter's accumulated results.
type Measurement struct {
	percentage int64
	time       time.Duration
	iteration  int64
	keys       []string
	results    map[string]any
}

func (m *Measurement) Percentage() int64 { return m.percentage }

// Time is the run time at which the snapshot was taken.
func (m *Measurement) Time() time.Duration { return m.time }

func (m *Measurement) Iteration() int64 { return m.iteration }

// Get returns the named result.
func (m *Measurement) Get(name string) (any, bool) {
	v, ok := m.results[name]
	return v, ok
}

// Default returns the DefaultResult value, or nil.
func (m *Measurement) Default() any {
	return m.results[DefaultResult]
}

// Float returns the named result as a float64 when it is numeric.
func (m *Measurement) Float(name string) (float64, bool) {
	v, ok := m.results[name]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Keys lists result names in the order they were set.
func (m *Measurement) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Results returns a copy of the result map.
func (m *Measurement) Results() map[string]any {
	out := make(map[string]any, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// String renders "[0:00:01][100 iterations][10%] [Result => 10 ms] ...".
func (m *Measurement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s][%d iterations][%d%%]", FormatClock(m.time), m.iteration+1, m.percentage)
	for _, k := range m.keys {
		fmt.Fprintf(&b, " [%s => %v]", k, m.results[k])
	}
	return b.String()
}

func (m *Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Percentage int64          `json:"percentage"`
		Time       int64          `json:"time"`
		Iteration  int64          `json:"iteration"`
		Results    map[string]any `json:"results"`
	}{
		Percentage: m.percentage,
		Time:       m.time.Milliseconds(),
		Iteration:  m.iteration,
		Results:    m.results,
	})
}

// FormatClock renders a duration as H:MM:SS.
func FormatClock(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// Builder assembles a Measurement. A Builder must not be reused after Build.
type Builder struct {
	m *Measurement
}

func NewBuilder(percentage int64, runTime time.Duration, iteration int64) *Builder {
	return &Builder{m: &Measurement{
		percentage: percentage,
		time:       runTime,
		iteration:  iteration,
		results:    make(map[string]any),
	}}
}

// Set stores a result, keeping the position of an existing key.
func (b *Builder) Set(name string, value any) *Builder {
	if _, ok := b.m.results[name]; !ok {
		b.m.keys = append(b.m.keys, name)
	}
	b.m.results[name] = value
	return b
}

func (b *Builder) SetDefault(value any) *Builder {
	return b.Set(DefaultResult, value)
}

func (b *Builder) Remove(name string) *Builder {
	if _, ok := b.m.results[name]; !ok {
		return b
	}
	delete(b.m.results, name)
	for i, k := range b.m.keys {
		if k == name {
			b.m.keys = append(b.m.keys[:i], b.m.keys[i+1:]...)
			break
		}
	}
	return b
}

func (b *Builder) Has(name string) bool {
	_, ok := b.m.results[name]
	return ok
}

func (b *Builder) Build() *Measurement {
	m := b.m
	b.m = nil
	return m
}

// ToFloat converts Go numeric kinds and Quantity to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case Quantity:
		return n.Value, true
	case time.Duration:
		return millis(n), true
	default:
		return 0, false
	}
}
