// Package properties holds the string-keyed settings handed to reporter and
// destination factories.
package properties

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Properties is a flat string map, typically decoded from the scenario file.
type Properties map[string]string

// Has reports whether key is set to a non-blank value.
func (p Properties) Has(key string) bool {
	v, ok := p[key]
	return ok && strings.TrimSpace(v) != ""
}

// String returns the trimmed value for key or def when unset.
func (p Properties) String(key, def string) string {
	if !p.Has(key) {
		return def
	}
	return strings.TrimSpace(p[key])
}

// get converts the trimmed value for key with conv, or returns def when
// unset.
func get[T any](p Properties, key string, def T, conv func(any) (T, error)) (T, error) {
	if !p.Has(key) {
		return def, nil
	}
	v, err := conv(strings.TrimSpace(p[key]))
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return v, nil
}

func (p Properties) Int(key string, def int) (int, error) {
	return get(p, key, def, cast.ToIntE)
}

func (p Properties) Int64(key string, def int64) (int64, error) {
	return get(p, key, def, cast.ToInt64E)
}

func (p Properties) Float(key string, def float64) (float64, error) {
	return get(p, key, def, cast.ToFloat64E)
}

func (p Properties) Bool(key string, def bool) (bool, error) {
	return get(p, key, def, cast.ToBoolE)
}

// Duration accepts Go duration strings; a bare integer is read as milliseconds.
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	if !p.Has(key) {
		return def, nil
	}
	raw := strings.TrimSpace(p[key])
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return v, nil
}

// Floats splits a comma separated list of numbers.
func (p Properties) Floats(key string) ([]float64, error) {
	if !p.Has(key) {
		return nil, nil
	}
	parts := strings.Split(p[key], ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := cast.ToFloat64E(part)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unknown lists keys not present in allowed.
func (p Properties) Unknown(allowed ...string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var out []string
	for _, k := range p.Keys() {
		if _, ok := set[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
