package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
	"github.com/torosent/crankreport/internal/reporter"
	"github.com/torosent/crankreport/internal/tracing"
)

type InfluxDBConfig struct {
	URL         string
	Database    string
	Measurement string
	Username    string
	Password    string
	// Tags are added to every point as key=value pairs.
	Tags    map[string]string
	Timeout time.Duration
}

// InfluxDB writes each measurement as one point in line protocol to the
// InfluxDB 1.x compatible /write endpoint.
type InfluxDB struct {
	name     string
	cfg      InfluxDBConfig
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
	writeURL string
}

func NewInfluxDB(name string, cfg InfluxDBConfig, logger *zap.Logger) (*InfluxDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influxdb url is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("influxdb url: %w", err)
	}
	if cfg.Database == "" {
		cfg.Database = "crankreport"
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "results"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/write"
	q := base.Query()
	q.Set("db", cfg.Database)
	q.Set("precision", "ms")
	base.RawQuery = q.Encode()

	return &InfluxDB{
		name:     name,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		now:      time.Now,
		writeURL: base.String(),
	}, nil
}

func newInfluxDBFromProperties(name string, p properties.Properties, env Env) (reporter.Destination, error) {
	timeout, err := p.Duration("timeout", 0)
	if err != nil {
		return nil, err
	}
	cfg := InfluxDBConfig{
		URL:         p.String("serverUrl", ""),
		Database:    p.String("database", ""),
		Measurement: p.String("measurement", ""),
		Username:    p.String("userName", ""),
		Password:    p.String("password", ""),
		Tags:        parseTags(p.String("tags", "")),
		Timeout:     timeout,
	}
	if env.RunID != "" {
		if cfg.Tags == nil {
			cfg.Tags = map[string]string{}
		}
		cfg.Tags["run"] = env.RunID
	}
	d, err := NewInfluxDB(name, cfg, env.logger())
	if err != nil {
		return nil, err
	}
	return d, nil
}

// parseTags reads "k=v,k2=v2". Entries without "=" become tag=entry.
func parseTags(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		} else {
			out["tag"] = part
		}
	}
	return out
}

func (d *InfluxDB) Name() string { return d.name }

func (d *InfluxDB) Open() error { return nil }

func (d *InfluxDB) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *InfluxDB) Report(m *measurement.Measurement) error {
	return d.ReportContext(context.Background(), m)
}

// ReportContext writes the point, propagating any trace carried by ctx.
func (d *InfluxDB) ReportContext(ctx context.Context, m *measurement.Measurement) error {
	body := d.Line(m)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.writeURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if d.cfg.Username != "" {
		req.SetBasicAuth(d.cfg.Username, d.cfg.Password)
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("influxdb write: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Line renders m in line protocol with a millisecond timestamp.
func (d *InfluxDB) Line(m *measurement.Measurement) string {
	var b strings.Builder
	b.WriteString(escapeKey(d.cfg.Measurement))

	tagKeys := make([]string, 0, len(d.cfg.Tags))
	for k := range d.cfg.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeKey(k))
		b.WriteByte('=')
		b.WriteString(escapeKey(d.cfg.Tags[k]))
	}

	b.WriteByte(' ')
	fmt.Fprintf(&b, "elapsed=%di,iteration=%di,percentage=%di", m.Time().Milliseconds(), m.Iteration(), m.Percentage())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		b.WriteByte(',')
		b.WriteString(escapeKey(k))
		b.WriteByte('=')
		b.WriteString(fieldValue(v))
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(d.now().UnixMilli(), 10))
	return b.String()
}

var keyEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

func escapeKey(s string) string { return keyEscaper.Replace(s) }

var stringEscaper = strings.NewReplacer(`"`, `\"`, `\`, `\\`)

func fieldValue(v any) string {
	switch n := v.(type) {
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n) + "i"
	case int64:
		return strconv.FormatInt(n, 10) + "i"
	case string:
		return `"` + stringEscaper.Replace(n) + `"`
	}
	if f, ok := measurement.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return `"` + stringEscaper.Replace(fmt.Sprint(v)) + `"`
}
