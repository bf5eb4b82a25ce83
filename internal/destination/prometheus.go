package destination

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
)

// Prometheus exposes the latest measurement as gauges. Numeric results go to
// <namespace>_result{result="..."}; non-numeric results are skipped.
type Prometheus struct {
	name   string
	addr   string
	logger *zap.Logger

	registry   *prometheus.Registry
	results    *prometheus.GaugeVec
	iteration  prometheus.Gauge
	percentage prometheus.Gauge
	elapsed    prometheus.Gauge

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewPrometheus creates the gauges on a private registry. When addr is not
// empty, Open serves them on addr at /metrics.
func NewPrometheus(name, namespace, addr string, logger *zap.Logger) *Prometheus {
	if namespace == "" {
		namespace = "crankreport"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	constLabels := prometheus.Labels{"destination": name}
	d := &Prometheus{
		name:     name,
		addr:     addr,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		results: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "result",
			Help:        "Latest value of each numeric measurement result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "iterations",
			Help:        "Iterations completed at the latest measurement.",
			ConstLabels: constLabels,
		}),
		percentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "progress_percent",
			Help:        "Run progress at the latest measurement.",
			ConstLabels: constLabels,
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "elapsed_seconds",
			Help:        "Run time at the latest measurement.",
			ConstLabels: constLabels,
		}),
	}
	d.registry.MustRegister(d.results, d.iteration, d.percentage, d.elapsed)
	return d
}

func newPrometheusFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	return NewPrometheus(name, p.String("namespace", ""), p.String("listen", ""), env.logger()), nil
}

func (d *Prometheus) Name() string { return d.name }

// Gatherer exposes the private registry.
func (d *Prometheus) Gatherer() prometheus.Gatherer { return d.registry }

// Handler serves the gauges in the Prometheus exposition format.
func (d *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
}

// Addr returns the bound listen address while open.
func (d *Prometheus) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Prometheus) Open() error {
	if d.addr == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("prometheus listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Handler())
	d.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.listener = ln
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("prometheus endpoint stopped", zap.String("destination", d.name), zap.Error(err))
		}
	}(d.server)
	d.logger.Info("serving prometheus metrics", zap.String("destination", d.name), zap.String("addr", ln.Addr().String()))
	return nil
}

func (d *Prometheus) Report(m *measurement.Measurement) error {
	d.iteration.Set(float64(m.Iteration() + 1))
	d.percentage.Set(float64(m.Percentage()))
	d.elapsed.Set(m.Time().Seconds())
	for _, k := range m.Keys() {
		if v, ok := m.Float(k); ok {
			d.results.WithLabelValues(k).Set(v)
		}
	}
	return nil
}

func (d *Prometheus) Close() error {
	d.mu.Lock()
	srv := d.server
	d.server, d.listener = nil, nil
	d.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
