package destination

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/torosent/crankreport/internal/properties"
)

type influxCapture struct {
	mu      sync.Mutex
	bodies  []string
	queries []string
	users   []string
	parents []string
	status  int
}

func (c *influxCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, _, _ := r.BasicAuth()
	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	c.queries = append(c.queries, r.URL.Path+"?"+r.URL.RawQuery)
	c.users = append(c.users, user)
	c.parents = append(c.parents, r.Header.Get("traceparent"))
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	if status >= 400 {
		_, _ = io.WriteString(w, "database not found")
	}
}

func TestInfluxDBLineProtocol(t *testing.T) {
	d, err := NewInfluxDB("influx", InfluxDBConfig{
		URL:         "http://localhost:8086",
		Measurement: "perf test",
		Tags:        map[string]string{"run": "01RUN", "env": "ci"},
	}, nil)
	require.NoError(t, err)
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }

	m := sample(9, 10, 11)
	assert.Equal(t,
		`perf\ test,env=ci,run=01RUN elapsed=61000i,iteration=9i,percentage=10i,Result=12.5,Average=11,threads=4i,warmUp=false 1700000000000`,
		d.Line(m))
}

func TestInfluxDBWritesPoints(t *testing.T) {
	capture := &influxCapture{}
	srv := httptest.NewServer(capture)
	t.Cleanup(srv.Close)

	d, err := NewInfluxDB("influx", InfluxDBConfig{URL: srv.URL + "/", Database: "perf", Username: "alice", Password: "secret"}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Open())
	require.NoError(t, d.Report(sample(0, 0, 1)))
	require.NoError(t, d.Close())

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.bodies, 1)
	assert.Contains(t, capture.bodies[0], "results elapsed=61000i,iteration=0i")
	assert.Equal(t, "/write?db=perf&precision=ms", capture.queries[0])
	assert.Equal(t, "alice", capture.users[0])
	assert.Empty(t, capture.parents[0])
}

func TestInfluxDBPropagatesTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTextMapPropagator(propagation.TraceContext{})

	capture := &influxCapture{}
	srv := httptest.NewServer(capture)
	t.Cleanup(srv.Close)

	d, err := NewInfluxDB("influx", InfluxDBConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	require.NoError(t, d.ReportContext(ctx, sample(0, 0, 1)))
	span.End()

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.parents, 1)
	assert.Contains(t, capture.parents[0], span.SpanContext().TraceID().String())
}

func TestInfluxDBReportsServerErrors(t *testing.T) {
	capture := &influxCapture{status: http.StatusNotFound}
	srv := httptest.NewServer(capture)
	t.Cleanup(srv.Close)

	d, err := NewInfluxDB("influx", InfluxDBConfig{URL: srv.URL}, nil)
	require.NoError(t, err)
	err = d.Report(sample(0, 0, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
}

func TestInfluxDBProperties(t *testing.T) {
	_, err := newInfluxDBFromProperties("i", properties.Properties{}, Env{})
	assert.Error(t, err, "serverUrl is required")

	raw, err := newInfluxDBFromProperties("i", properties.Properties{
		"serverUrl": "http://db:8086",
		"tags":      "env=ci, nightly",
		"timeout":   "2s",
	}, Env{RunID: "01RUN"})
	require.NoError(t, err)
	d := raw.(*InfluxDB)
	assert.Equal(t, map[string]string{"env": "ci", "tag": "nightly", "run": "01RUN"}, d.cfg.Tags)
	assert.Equal(t, 2*time.Second, d.cfg.Timeout)
	assert.Equal(t, "http://db:8086/write?db=crankreport&precision=ms", d.writeURL)
}
