// Package threshold checks the final published results of a run against
// user supplied assertions such as "Average < 50".
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/torosent/crankreport/internal/measurement"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Reporter string  // optional reporter name the result must come from
	Result   string  // result name, e.g. "Average" or "perc0.992187500000"
	Operator string  // "<", "<=", ">", ">=", "==", "!="
	Value    float64 // the value to compare against
	Raw      string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

var pattern = regexp.MustCompile(`^(?:([A-Za-z0-9_.\-]+):)?([A-Za-z][A-Za-z0-9_.\-]*)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "Average < 50"                    (result of any reporter)
// - "rt:Maximum <= 250"               (result of the reporter named rt)
// - "perc0.992187500000 < 120"        (histogram percentile key)
// - "Result >= 1000"                  (default result, e.g. throughput)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: [reporter:]result operator value, e.g., 'Average < 50')", s)
	}

	value, err := strconv.ParseFloat(matches[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", matches[4], err)
	}

	return Threshold{
		Reporter: matches[1],
		Result:   matches[2],
		Operator: matches[3],
		Value:    value,
		Raw:      s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

// Evaluator keeps the latest measurement of every reporter it is attached to
// and evaluates thresholds against them.
type Evaluator struct {
	thresholds []Threshold

	mu    sync.Mutex
	order []string
	gates map[string]*Gate
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
		gates:      map[string]*Gate{},
	}
}

func (e *Evaluator) Thresholds() []Threshold {
	return append([]Threshold(nil), e.thresholds...)
}

// Destination returns the destination capturing measurements of the named
// reporter. Repeated calls for the same reporter return the same gate.
func (e *Evaluator) Destination(reporter string) *Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gates[reporter]; ok {
		return g
	}
	g := &Gate{reporter: reporter}
	e.gates[reporter] = g
	e.order = append(e.order, reporter)
	return g
}

// Evaluate checks all thresholds against the latest measurements.
func (e *Evaluator) Evaluate() []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t))
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold) Result {
	actual, err := e.lookup(t)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

func (e *Evaluator) lookup(t Threshold) (float64, error) {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	gates := make([]*Gate, len(names))
	for i, n := range names {
		gates[i] = e.gates[n]
	}
	e.mu.Unlock()

	if t.Reporter != "" {
		for i, n := range names {
			if n == t.Reporter {
				return gates[i].value(t.Result)
			}
		}
		return 0, fmt.Errorf("reporter %q is not observed", t.Reporter)
	}
	for _, g := range gates {
		if v, err := g.value(t.Result); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no reporter published result %q", t.Result)
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// Gate is the destination through which an Evaluator observes one reporter.
type Gate struct {
	reporter string

	mu   sync.Mutex
	last *measurement.Measurement
}

func (g *Gate) Name() string { return "threshold:" + g.reporter }

func (g *Gate) Open() error  { return nil }
func (g *Gate) Close() error { return nil }

func (g *Gate) Report(m *measurement.Measurement) error {
	g.mu.Lock()
	g.last = m
	g.mu.Unlock()
	return nil
}

// Last returns the latest measurement or nil.
func (g *Gate) Last() *measurement.Measurement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func (g *Gate) value(result string) (float64, error) {
	m := g.Last()
	if m == nil {
		return 0, fmt.Errorf("reporter %q published nothing", g.reporter)
	}
	raw, ok := m.Get(result)
	if !ok {
		return 0, fmt.Errorf("reporter %q has no result %q", g.reporter, result)
	}
	v, ok := measurement.ToFloat(raw)
	if !ok {
		return 0, fmt.Errorf("result %q is not numeric (%v)", result, raw)
	}
	return v, nil
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
