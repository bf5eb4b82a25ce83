// Package period describes recurrence rules ("every N iterations", "every N
// milliseconds", "every N percent of the run") and the trigger cursor that
// binds such a rule to a destination.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Type is the progress metric a Period is measured in.
type Type int

const (
	Iteration Type = iota
	Time
	Percentage
)

// ErrInvalid is returned for malformed or non-positive periods.
var ErrInvalid = errors.New("invalid period")

func (t Type) String() string {
	switch t {
	case Iteration:
		return "ITERATION"
	case Time:
		return "TIME"
	case Percentage:
		return "PERCENTAGE"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType is case-insensitive and accepts the short aliases it, ms and %.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iteration", "iterations", "it":
		return Iteration, nil
	case "time", "ms":
		return Time, nil
	case "percentage", "percent", "%":
		return Percentage, nil
	}
	return 0, fmt.Errorf("%w: unknown type %q", ErrInvalid, s)
}

// Period is a value type; two periods are equal when type and value match.
// TIME values are milliseconds.
type Period struct {
	Type  Type
	Value int64
}

// New validates and builds a Period.
func New(t Type, value int64) (Period, error) {
	if t < Iteration || t > Percentage {
		return Period{}, fmt.Errorf("%w: unknown type %d", ErrInvalid, int(t))
	}
	if value <= 0 {
		return Period{}, fmt.Errorf("%w: %s value must be positive, got %d", ErrInvalid, t, value)
	}
	return Period{Type: t, Value: value}, nil
}

// Every returns an ITERATION period.
func Every(iterations int64) Period { return Period{Type: Iteration, Value: iterations} }

// Each returns a TIME period, truncated to whole milliseconds.
func Each(d time.Duration) Period { return Period{Type: Time, Value: d.Milliseconds()} }

// Percent returns a PERCENTAGE period.
func Percent(p int64) Period { return Period{Type: Percentage, Value: p} }

// Parse reads "100" or "100it" as iterations, "10%" as a percentage and any
// Go duration ("500ms", "2s") as time.
func Parse(s string) (Period, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Period{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	switch {
	case strings.HasSuffix(raw, "%"):
		v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(raw, "%")), 10, 64)
		if err != nil {
			return Period{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return New(Percentage, v)
	case strings.HasSuffix(raw, "it"):
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "it"))
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return New(Iteration, v)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d > 0 && d < time.Millisecond {
		return Period{}, fmt.Errorf("%w: %q is below millisecond resolution", ErrInvalid, s)
	}
	return New(Time, d.Milliseconds())
}

// Duration converts a TIME period to a time.Duration; other types yield 0.
func (p Period) Duration() time.Duration {
	if p.Type != Time {
		return 0
	}
	return time.Duration(p.Value) * time.Millisecond
}

func (p Period) String() string {
	switch p.Type {
	case Iteration:
		return strconv.FormatInt(p.Value, 10) + "it"
	case Time:
		return p.Duration().String()
	case Percentage:
		return strconv.FormatInt(p.Value, 10) + "%"
	default:
		return fmt.Sprintf("%s:%d", p.Type, p.Value)
	}
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML accepts either a scalar ("10%") or a mapping {type, value}.
func (p *Period) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return p.UnmarshalText([]byte(node.Value))
	case yaml.MappingNode:
		var raw struct {
			Type  string `yaml:"type"`
			Value string `yaml:"value"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		t, err := ParseType(raw.Type)
		if err != nil {
			return err
		}
		if t == Time {
			if parsed, err := Parse(raw.Value); err == nil && parsed.Type == Time {
				*p = parsed
				return nil
			}
		}
		v, err := strconv.ParseInt(strings.TrimSpace(raw.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: value %q", ErrInvalid, raw.Value)
		}
		parsed, err := New(t, v)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	default:
		return fmt.Errorf("%w: unsupported yaml node", ErrInvalid)
	}
}
