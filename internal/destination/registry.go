// Package destination holds the sinks reporters publish measurements to.
// Every destination implements reporter.Destination and can be built from
// string properties through a Registry.
package destination

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

// Built-in destination types.
const (
	TypeConsole    = "console"
	TypeCSV        = "csv"
	TypeJSONL      = "jsonl"
	TypeInfluxDB   = "influxdb"
	TypePrometheus = "prometheus"
	TypeWebSocket  = "websocket"
)

// Env carries process-wide collaborators into destination factories.
type Env struct {
	Logger *zap.Logger
	Stdout io.Writer
	// RunID tags exported points with the run they belong to.
	RunID string
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

// Factory builds a destination from its properties.
type Factory func(name string, p properties.Properties, env Env) (reporter.Destination, error)

// Registry resolves destination types by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("destination type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Create builds a destination of the given type. name defaults to typ.
func (r *Registry) Create(typ, name string, p properties.Properties, env Env) (reporter.Destination, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: destination %q (known: %v)", reporter.ErrUnknownType, typ, r.Types())
	}
	if name == "" {
		name = typ
	}
	d, err := f(name, p, env)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", name, err)
	}
	return d, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry holding the destinations of this
// package. Callers add the chart, dashboard and threshold destinations,
// which live in their own packages.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	_ = reg.Register(TypeConsole, newConsoleFromProperties)
	_ = reg.Register(TypeCSV, newCSVFromProperties)
	_ = reg.Register(TypeJSONL, newJSONLFromProperties)
	_ = reg.Register(TypeInfluxDB, newInfluxDBFromProperties)
	_ = reg.Register(TypePrometheus, newPrometheusFromProperties)
	_ = reg.Register(TypeWebSocket, newWebSocketFromProperties)
	return reg
}

// formatValue renders a result for text sinks: quantities lose their unit,
// floats use the shortest representation.
func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case measurement.Quantity:
		return strconv.FormatFloat(n.Value, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
