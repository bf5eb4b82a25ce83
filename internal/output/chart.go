package output

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/threshold"
)

// ThresholdSource supplies threshold outcomes for the report. It is
// consulted when the chart is closed, after final results are published.
type ThresholdSource interface {
	Evaluate() []threshold.Result
}

// ChartPoint is one published measurement reduced to its numeric results.
type ChartPoint struct {
	TimeMs     int64              `json:"t"`
	Iteration  int64              `json:"i"`
	Percentage int64              `json:"p"`
	Values     map[string]float64 `json:"v"`
}

// Chart is a destination that collects every measurement and writes a
// standalone HTML report with a time series chart on Close.
type Chart struct {
	name       string
	path       string
	title      string
	runID      string
	thresholds ThresholdSource
	now        func() time.Time

	mu     sync.Mutex
	opened bool
	series []string
	seen   map[string]bool
	points []ChartPoint
	last   *measurement.Measurement
}

type ChartOption func(*Chart)

func WithTitle(title string) ChartOption { return func(c *Chart) { c.title = title } }

func WithRunID(id string) ChartOption { return func(c *Chart) { c.runID = id } }

func WithThresholds(src ThresholdSource) ChartOption {
	return func(c *Chart) { c.thresholds = src }
}

func NewChart(name, path string, opts ...ChartOption) *Chart {
	c := &Chart{
		name:  name,
		path:  path,
		title: name,
		now:   time.Now,
		seen:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChartFromProperties reads path (required) and title.
func NewChartFromProperties(name string, p properties.Properties, opts ...ChartOption) (*Chart, error) {
	path := p.String("path", "")
	if path == "" {
		return nil, errors.New("property path is required")
	}
	c := NewChart(name, path, opts...)
	if p.Has("title") {
		c.title = p.String("title", name)
	}
	return c, nil
}

func (c *Chart) Name() string { return c.name }

func (c *Chart) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chart directory: %w", err)
		}
	}
	c.opened = true
	return nil
}

func (c *Chart) Report(m *measurement.Measurement) error {
	values := map[string]float64{}
	for _, k := range m.Keys() {
		if v, ok := m.Float(k); ok {
			values[k] = v
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range m.Keys() {
		if _, ok := values[k]; ok && !c.seen[k] {
			c.seen[k] = true
			c.series = append(c.series, k)
		}
	}
	c.points = append(c.points, ChartPoint{
		TimeMs:     m.Time().Milliseconds(),
		Iteration:  m.Iteration(),
		Percentage: m.Percentage(),
		Values:     values,
	})
	c.last = m
	return nil
}

// Points returns a copy of the collected points.
func (c *Chart) Points() []ChartPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChartPoint(nil), c.points...)
}

// Close writes the report. A chart that was never opened writes nothing.
func (c *Chart) Close() error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = false
	data := ChartData{
		Title:       c.title,
		RunID:       c.runID,
		GeneratedAt: c.now().Format(time.RFC3339),
		Series:      append([]string(nil), c.series...),
		Points:      append([]ChartPoint(nil), c.points...),
		Last:        c.last,
	}
	c.mu.Unlock()

	if c.thresholds != nil {
		data.Thresholds = c.thresholds.Evaluate()
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := WriteChart(f, data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ChartData is everything the HTML report shows.
type ChartData struct {
	Title       string
	RunID       string
	GeneratedAt string
	Series      []string
	Points      []ChartPoint
	Last        *measurement.Measurement
	Thresholds  []threshold.Result
}

type resultRow struct {
	Name  string
	Value string
}

type thresholdSummary struct {
	Total   int
	Passed  int
	Failed  int
	Results []threshold.Result
}

// WriteChart renders data as a standalone HTML document.
func WriteChart(w io.Writer, data ChartData) error {
	pointsJSON, err := json.Marshal(data.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}
	seriesJSON, err := json.Marshal(data.Series)
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}

	var rows []resultRow
	var clock string
	var iterations, pct int64
	if data.Last != nil {
		for _, k := range data.Last.Keys() {
			v, _ := data.Last.Get(k)
			rows = append(rows, resultRow{Name: k, Value: fmt.Sprint(v)})
		}
		clock = measurement.FormatClock(data.Last.Time())
		iterations = data.Last.Iteration() + 1
		pct = data.Last.Percentage()
	}

	var summary *thresholdSummary
	if len(data.Thresholds) > 0 {
		summary = &thresholdSummary{Total: len(data.Thresholds), Results: data.Thresholds}
		for _, r := range data.Thresholds {
			if r.Pass {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}
	}

	view := struct {
		ChartData
		Rows             []resultRow
		Clock            string
		Iterations       int64
		Percentage       int64
		PointsJSON       string
		SeriesJSON       string
		ThresholdSummary *thresholdSummary
	}{
		ChartData:        data,
		Rows:             rows,
		Clock:            clock,
		Iterations:       iterations,
		Percentage:       pct,
		PointsJSON:       string(pointsJSON),
		SeriesJSON:       string(seriesJSON),
		ThresholdSummary: summary,
	}

	tmpl, err := template.New("chart").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
	}).Parse(chartTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(w, view); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const chartTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Crankreport</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value { font-size: 2rem; font-weight: bold; }
        .section { margin-bottom: 40px; }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart { width: 100%; height: 360px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 12px; border-bottom: 1px solid #e5e7eb; }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
        }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 0.85rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        .no-data { text-align: center; padding: 40px; color: #6c757d; font-style: italic; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>{{.Title}}</h1>
            {{if .RunID}}<div class="meta">Run: {{.RunID}}</div>{{end}}
            <div class="meta">Generated: {{.GeneratedAt}}</div>
        </header>
        <div class="content">
            <div class="grid">
                <div class="card"><h3>Iterations</h3><div class="value">{{.Iterations}}</div></div>
                <div class="card"><h3>Run Time</h3><div class="value">{{if .Clock}}{{.Clock}}{{else}}-{{end}}</div></div>
                <div class="card"><h3>Progress</h3><div class="value">{{.Percentage}}%</div></div>
                <div class="card"><h3>Measurements</h3><div class="value">{{len .Points}}</div></div>
            </div>

            <div class="section">
                <h2>Results Over Time</h2>
                {{if .Points}}
                <div id="results-chart" class="chart"></div>
                {{else}}
                <div class="no-data">No measurements were published.</div>
                {{end}}
            </div>

            {{if .Rows}}
            <div class="section">
                <h2>Final Results</h2>
                <table>
                    <thead><tr><th>Result</th><th>Value</th></tr></thead>
                    <tbody>
                        {{range .Rows}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .ThresholdSummary}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} Passed)</h2>
                <table>
                    <thead><tr><th>Threshold</th><th>Expected</th><th>Actual</th><th>Status</th></tr></thead>
                    <tbody>
                        {{range .ThresholdSummary.Results}}
                        <tr>
                            <td>{{.Threshold.Raw}}</td>
                            <td>{{.Threshold.Operator}} {{formatFloat .Threshold.Value}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>{{if .Pass}}<span class="badge badge-success">PASS</span>{{else}}<span class="badge badge-error">FAIL</span>{{end}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>
    <script>
        const pointsJSON = {{.PointsJSON}};
        const seriesJSON = {{.SeriesJSON}};
        const points = JSON.parse(pointsJSON) || [];
        const names = JSON.parse(seriesJSON) || [];
        const el = document.getElementById('results-chart');
        if (el && points.length > 0) {
            const data = [points.map(p => p.t / 1000)];
            names.forEach(n => data.push(points.map(p => (n in p.v) ? p.v[n] : null)));
            const palette = ['#667eea', '#10b981', '#ef4444', '#f59e0b', '#3b82f6', '#8b5cf6', '#ec4899', '#14b8a6'];
            new uPlot({
                width: el.offsetWidth,
                height: 360,
                series: [{ label: 'Time (s)' }].concat(names.map((n, i) => ({
                    label: n,
                    stroke: palette[i % palette.length],
                    width: 2,
                    spanGaps: true,
                }))),
                axes: [{ label: 'Run time (s)' }, {}],
            }, data, el);
        }
    </script>
</body>
</html>
`
