package main

import (
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/config"
	"github.com/torosent/crankreport/internal/dashboard"
	"github.com/torosent/crankreport/internal/destination"
	"github.com/torosent/crankreport/internal/output"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
	"github.com/torosent/crankreport/internal/threshold"
	"github.com/torosent/crankreport/internal/tracing"
)

// Destination types provided outside the destination package.
const (
	typeChart     = "chart"
	typeDashboard = "dashboard"
)

const liveRefresh = time.Second

type wiringDeps struct {
	logger    *zap.Logger
	stdout    io.Writer
	runID     string
	tracer    trace.Tracer
	evaluator *threshold.Evaluator
	stop      func()
}

// wiring turns the reporters section and the output flags into registered
// reporters with their destinations bound.
type wiring struct {
	cfg  *config.Config
	deps wiringDeps

	reporters    *reporter.Registry
	destinations *destination.Registry

	// hasConsole is set once a console destination is bound.
	hasConsole bool
}

func newWiring(cfg *config.Config, deps wiringDeps) *wiring {
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	w := &wiring{
		cfg:          cfg,
		deps:         deps,
		reporters:    reporter.DefaultRegistry(),
		destinations: destination.DefaultRegistry(),
	}
	_ = w.destinations.Register(typeChart, w.newChart)
	_ = w.destinations.Register(typeDashboard, w.newDashboard)
	return w
}

func (w *wiring) env() destination.Env {
	return destination.Env{
		Logger: w.deps.logger,
		Stdout: w.deps.stdout,
		RunID:  w.deps.runID,
	}
}

func (w *wiring) newChart(name string, p properties.Properties, env destination.Env) (reporter.Destination, error) {
	c, err := output.NewChartFromProperties(name, p,
		output.WithRunID(env.RunID),
		output.WithThresholds(w.deps.evaluator))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (w *wiring) newDashboard(name string, _ properties.Properties, env destination.Env) (reporter.Destination, error) {
	return dashboard.New(name, dashboard.RunConfig{
		RunID:      env.RunID,
		Target:     w.cfg.Target,
		Threads:    w.cfg.Threads,
		Duration:   w.cfg.Run.String(),
		Rate:       w.cfg.Rate,
		Timeout:    w.cfg.Timeout,
		ConfigFile: w.cfg.ConfigFile,
	}, w.deps.evaluator, w.deps.stop), nil
}

// buildReporters creates every enabled reporter. Without a reporter that
// publishes, a response-time-stats reporter printing to the console every
// 10% is added. The dashboard and chart flags attach to the first publishing
// reporter; threshold gates attach to all of them. Warm-up reporters take no
// destinations and are left alone.
func (w *wiring) buildReporters() ([]*reporter.Reporter, error) {
	var reps, publishing []*reporter.Reporter
	for _, rc := range w.cfg.Reporters {
		if !rc.IsEnabled() {
			continue
		}
		rep, err := w.reporters.Create(rc.Type, rc.Name, rc.Properties, reporter.WithLogger(w.deps.logger))
		if err != nil {
			return nil, err
		}
		for _, dc := range rc.Destinations {
			if !dc.IsEnabled() {
				continue
			}
			if err := w.bind(rep, dc.Type, dc.Name, dc.Properties, dc.Periods...); err != nil {
				return nil, err
			}
		}
		reps = append(reps, rep)
		if rep.Publishes() {
			publishing = append(publishing, rep)
		}
	}

	if len(publishing) == 0 {
		rep, err := w.reporters.Create(reporter.TypeResponseTimeStats, "", nil, reporter.WithLogger(w.deps.logger))
		if err != nil {
			return nil, err
		}
		if !w.cfg.JSONOutput && !w.cfg.Dashboard {
			if err := w.bind(rep, destination.TypeConsole, "", nil, period.Percent(10)); err != nil {
				return nil, err
			}
		}
		reps = append(reps, rep)
		publishing = append(publishing, rep)
	}

	primary := publishing[0]
	if w.cfg.Dashboard {
		if err := w.bind(primary, typeDashboard, "", nil, period.Each(liveRefresh)); err != nil {
			return nil, err
		}
	}
	if w.cfg.HTMLOutput != "" {
		p := properties.Properties{"path": w.cfg.HTMLOutput}
		if err := w.bind(primary, typeChart, "", p, period.Each(liveRefresh)); err != nil {
			return nil, err
		}
	}

	if len(w.deps.evaluator.Thresholds()) > 0 {
		periods := []period.Period{period.Percent(100)}
		if w.cfg.Dashboard {
			periods = append(periods, period.Each(liveRefresh))
		}
		for _, rep := range publishing {
			if err := rep.RegisterDestination(w.deps.evaluator.Destination(rep.Name()), periods...); err != nil {
				return nil, fmt.Errorf("reporter %s: thresholds: %w", rep.Name(), err)
			}
		}
	}
	return reps, nil
}

func (w *wiring) bind(rep *reporter.Reporter, typ, name string, p properties.Properties, periods ...period.Period) error {
	d, err := w.destinations.Create(typ, name, p, w.env())
	if err != nil {
		return fmt.Errorf("reporter %s: %w", rep.Name(), err)
	}
	if typ == destination.TypeConsole {
		w.hasConsole = true
	}
	if err := rep.RegisterDestination(tracing.WrapDestination(d, w.deps.tracer), periods...); err != nil {
		return fmt.Errorf("reporter %s: bind %s: %w", rep.Name(), typ, err)
	}
	return nil
}
