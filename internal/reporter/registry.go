package reporter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/torosent/crankreport/internal/properties"
)

// Built-in reporter types.
const (
	TypeResponseTimeStats     = "response-time-stats"
	TypeThroughputStats       = "throughput-stats"
	TypeIterationsPerSecond   = "iterations-per-second"
	TypeResponseTimeHistogram = "response-time-histogram"
	TypeWarmUp                = "warm-up"
)

// Factory builds a reporter from string properties.
type Factory func(name string, p properties.Properties, opts ...Option) (*Reporter, error)

// Registry resolves reporter types by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory; registering a type twice is an error.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("reporter type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Create builds a reporter of the given type. name defaults to typ.
func (r *Registry) Create(typ, name string, p properties.Properties, opts ...Option) (*Reporter, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownType, typ, r.Types())
	}
	if name == "" {
		name = typ
	}
	rep, err := f(name, p, opts...)
	if err != nil {
		return nil, fmt.Errorf("reporter %s: %w", name, err)
	}
	return rep, nil
}

// Types lists the registered types, sorted.
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

// DefaultRegistry returns a registry holding the built-in reporters.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	_ = reg.Register(TypeResponseTimeStats, statsFactory(NewResponseTimeStats))
	_ = reg.Register(TypeThroughputStats, statsFactory(NewThroughputStats))
	_ = reg.Register(TypeIterationsPerSecond, statsFactory(NewIterationsPerSecond))
	_ = reg.Register(TypeResponseTimeHistogram, func(name string, p properties.Properties, opts ...Option) (*Reporter, error) {
		cfg, err := ParseHistogramConfig(p)
		if err != nil {
			return nil, err
		}
		s, err := NewResponseTimeHistogram(cfg)
		if err != nil {
			return nil, err
		}
		return New(name, s, opts...), nil
	})
	_ = reg.Register(TypeWarmUp, func(name string, p properties.Properties, opts ...Option) (*Reporter, error) {
		cfg, err := ParseWarmUpConfig(p)
		if err != nil {
			return nil, err
		}
		return New(name, NewWarmUp(cfg), opts...), nil
	})
	return reg
}

func statsFactory(build func(StatsConfig) *Stats) Factory {
	return func(name string, p properties.Properties, opts ...Option) (*Reporter, error) {
		cfg, err := ParseStatsConfig(p)
		if err != nil {
			return nil, err
		}
		window, err := p.Int("windowSize", 0)
		if err != nil {
			return nil, err
		}
		rep := New(name, build(cfg), opts...)
		rep.SetWindowSize(window)
		return rep, nil
	}
}
