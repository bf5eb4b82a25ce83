// Package config loads the run scenario from a YAML or JSON file and
// command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/torosent/crankreport/internal/period"
)

// section is one mapping of the scenario file. Keys are matched without
// regard to case, underscores or dashes, so failure_rate, failureRate and
// failure-rate name the same setting.
type section map[string]any

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

func newSection(raw any) (section, error) {
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("expected a mapping, got %T", raw)
	}
	s := make(section, len(m))
	for k, v := range m {
		s[normalizeKey(k)] = v
	}
	return s, nil
}

// lookup returns the value of the first key present.
func (s section) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := s[normalizeKey(k)]; ok {
			return v, true
		}
	}
	return nil, false
}

// read runs conv on the value of the first key present. Absent keys leave
// the destination untouched.
func read[T any](s section, dst *T, conv func(any) (T, error), keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok {
		return nil
	}
	v, err := conv(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = v
	return nil
}

func (s section) str(dst *string, keys ...string) error {
	return read(s, dst, asString, keys...)
}

func (s section) integer(dst *int, keys ...string) error {
	return read(s, dst, asInt, keys...)
}

func (s section) float(dst *float64, keys ...string) error {
	return read(s, dst, asFloat64, keys...)
}

func (s section) boolean(dst *bool, keys ...string) error {
	return read(s, dst, asBool, keys...)
}

func (s section) duration(dst *time.Duration, keys ...string) error {
	return read(s, dst, asDuration, keys...)
}

func (s section) strings(dst *[]string, keys ...string) error {
	return read(s, dst, asStringSlice, keys...)
}

func (s section) stringMap(dst *map[string]string, keys ...string) error {
	return read(s, dst, cast.ToStringMapStringE, keys...)
}

func (s section) period(dst *period.Period, keys ...string) error {
	return read(s, dst, asPeriod, keys...)
}

// with hands the nested mapping under key to fn.
func (s section) with(key string, fn func(section) error) error {
	raw, ok := s.lookup(key)
	if !ok || raw == nil {
		return nil
	}
	sub, err := newSection(raw)
	if err == nil {
		err = fn(sub)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// list returns the mappings of the sequence under the first key present.
func (s section) list(keys ...string) ([]section, bool, error) {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil, ok, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, true, fmt.Errorf("%s: expected a list, got %T", keys[0], raw)
	}
	out := make([]section, 0, len(items))
	for i, item := range items {
		sub, err := newSection(item)
		if err != nil {
			return nil, true, fmt.Errorf("%s[%d]: %w", keys[0], i, err)
		}
		out = append(out, sub)
	}
	return out, true, nil
}

func asString(v any) (string, error) {
	s, err := cast.ToStringE(v)
	return strings.TrimSpace(s), err
}

func asInt(v any) (int, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	return cast.ToIntE(v)
}

func asFloat64(v any) (float64, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	return cast.ToFloat64E(v)
}

func asBool(v any) (bool, error) {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return false, nil
		}
		v = s
	}
	return cast.ToBoolE(v)
}

// asDuration reads Go duration strings; bare numbers are seconds.
func asDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		if d = strings.TrimSpace(d); d == "" {
			return 0, nil
		}
		return time.ParseDuration(d)
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringSlice keeps a lone string as a single entry; thresholds contain
// spaces.
func asStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{s}, nil
	}
	return cast.ToStringSliceE(v)
}

// asPeriod reads a run length. Bare numbers are iteration counts.
func asPeriod(v any) (period.Period, error) {
	s, err := asString(v)
	if err != nil {
		return period.Period{}, err
	}
	return period.Parse(s)
}
