// Package dashboard renders published measurements as a live terminal UI.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/threshold"
)

const historySize = 100

// RunConfig holds run parameters for display.
type RunConfig struct {
	RunID      string        // Run identifier
	Target     string        // Target URL, empty for simulated runs
	Threads    int           // Number of concurrent workers
	Duration   string        // Planned run length (10s, 5000it)
	Rate       int           // Iterations per second (0 = unlimited)
	Timeout    time.Duration // Per-iteration timeout
	ConfigFile string        // Path to config file if used
}

// Evaluator reports threshold outcomes on every refresh.
type Evaluator interface {
	Evaluate() []threshold.Result
}

// Dashboard is a destination that keeps the latest measurement on screen.
type Dashboard struct {
	name         string
	cfg          RunConfig
	evaluator    Evaluator
	shutdownFunc func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool

	// Widgets
	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	progressGauge  *widgets.Gauge
	resultSparkle  *widgets.SparklineGroup
	resultsList    *widgets.List
	thresholdsList *widgets.List

	history []float64
	last    *measurement.Measurement
	reports int64
}

// New creates a dashboard. shutdownFunc runs when the user presses q.
func New(name string, cfg RunConfig, evaluator Evaluator, shutdownFunc func()) *Dashboard {
	d := &Dashboard{
		name:         name,
		cfg:          cfg,
		evaluator:    evaluator,
		shutdownFunc: shutdownFunc,
		history:      make([]float64, 0, historySize),
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) Name() string { return d.name }

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Progress"
	d.progressGauge.Percent = 0
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	sparkline := widgets.NewSparkline()
	sparkline.Title = measurement.DefaultResult
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.resultSparkle = widgets.NewSparklineGroup(sparkline)
	d.resultSparkle.Title = "Result"
	d.resultSparkle.BorderStyle.Fg = ui.ColorCyan

	d.resultsList = widgets.NewList()
	d.resultsList.Title = "Results"
	d.resultsList.Rows = []string{"Awaiting data"}
	d.resultsList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.resultsList.BorderStyle.Fg = ui.ColorCyan

	d.thresholdsList = widgets.NewList()
	d.thresholdsList.Title = "Thresholds"
	d.thresholdsList.Rows = []string{"[No thresholds](fg:green)"}
	d.thresholdsList.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.12,
			ui.NewCol(1.0, d.progressGauge),
		),
		ui.NewRow(0.32,
			ui.NewCol(1.0, d.resultSparkle),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.6, d.resultsList),
			ui.NewCol(0.4, d.thresholdsList),
		),
	)
}

// Open takes over the terminal and begins the update loop.
func (d *Dashboard) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil
	}
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	d.setupGrid()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.active = true
	d.wg.Add(1)
	go d.run()
	return nil
}

// Report refreshes the widgets from a published measurement.
func (d *Dashboard) Report(m *measurement.Measurement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.update(m)
	return nil
}

// Close stops the dashboard and restores the terminal.
func (d *Dashboard) Close() error {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return nil
	}
	d.active = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Last returns the most recent measurement.
func (d *Dashboard) Last() *measurement.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Close() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.mu.Lock()
			d.refreshThresholds()
			d.mu.Unlock()
			d.render()
		}
	}
}

// update refreshes all widget data. Callers hold d.mu.
func (d *Dashboard) update(m *measurement.Measurement) {
	d.last = m
	d.reports++

	if v, ok := m.Float(measurement.DefaultResult); ok {
		d.history = append(d.history, v)
		if len(d.history) > historySize {
			d.history = d.history[1:]
		}
		d.resultSparkle.Sparklines[0].Data = d.history
		lo, hi := minMax(d.history)
		d.resultSparkle.Title = fmt.Sprintf(
			"Result | Current: %s | Min: %s | Max: %s",
			formatMetricValue(v),
			formatMetricValue(lo),
			formatMetricValue(hi),
		)
	}

	pct := int(m.Percentage())
	if pct > 100 {
		pct = 100
	}
	d.progressGauge.Percent = pct
	d.progressGauge.Label = fmt.Sprintf("%d%% | %d iterations", pct, m.Iteration()+1)

	lines := []string{}
	if params := d.formatRunParams(); params != "" {
		lines = append(lines, params)
	}
	if d.cfg.Target != "" {
		lines = append(lines, "Target: "+d.cfg.Target)
	}
	warm, _ := m.Get(measurement.WarmUpTag)
	lines = append(lines, fmt.Sprintf("Elapsed: %s | Iterations: %d | Updates: %d | Warm-up: %v",
		measurement.FormatClock(m.Time()), m.Iteration()+1, d.reports, warm))
	d.summaryPara.Text = joinLines(lines)

	d.resultsList.Rows = formatResultRows(m)
	d.refreshThresholds()
}

func (d *Dashboard) refreshThresholds() {
	if d.evaluator == nil {
		return
	}
	d.thresholdsList.Rows = formatThresholdRows(d.evaluator.Evaluate())
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func formatResultRows(m *measurement.Measurement) []string {
	keys := m.Keys()
	if len(keys) == 0 {
		return []string{"[No results](fg:green)"}
	}
	rows := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == measurement.WarmUpTag {
			continue
		}
		v, _ := m.Get(k)
		rows = append(rows, fmt.Sprintf("[%s:](fg:white) [%s](fg:yellow)", k, formatMetricValue(v)))
	}
	return rows
}

func formatThresholdRows(results []threshold.Result) []string {
	if len(results) == 0 {
		return []string{"[No thresholds](fg:green)"}
	}
	rows := make([]string, 0, len(results))
	for _, r := range results {
		if r.Pass {
			rows = append(rows, fmt.Sprintf("[PASS](fg:green) %s (%.2f)", r.Threshold.Raw, r.Actual))
		} else {
			rows = append(rows, fmt.Sprintf("[FAIL](fg:red) %s (%.2f)", r.Threshold.Raw, r.Actual))
		}
	}
	return rows
}

func formatMetricValue(value interface{}) string {
	switch v := value.(type) {
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		if math.Abs(v) > 1000 {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("%.2f", v)
	case measurement.Quantity:
		return formatMetricValue(v.Value) + " " + v.Unit
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	result := lines[0]
	for i := 1; i < len(lines); i++ {
		result += "\n" + lines[i]
	}
	return result
}

func minMax(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// formatRunParams formats the run configuration for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.cfg.RunID != "" {
		parts = append(parts, fmt.Sprintf("Run: %s", d.cfg.RunID))
	}

	if d.cfg.Duration != "" {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.cfg.Duration))
	}

	if d.cfg.Threads > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", d.cfg.Threads))
	}

	if d.cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", d.cfg.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}

	if d.cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", d.cfg.Timeout))
	}

	// Config file (only show if used)
	if d.cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.cfg.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
