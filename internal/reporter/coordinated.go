package reporter

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/accumulator"
	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/properties"
)

// CorrectionMode selects how the histogram compensates for coordinated
// omission.
type CorrectionMode int

const (
	// CorrectionOff records observed response times only.
	CorrectionOff CorrectionMode = iota
	// CorrectionAuto uses the average observed response time as the
	// expected interval between samples.
	CorrectionAuto
	// CorrectionUser uses a configured expected interval.
	CorrectionUser
)

func (m CorrectionMode) String() string {
	switch m {
	case CorrectionOff:
		return "off"
	case CorrectionAuto:
		return "auto"
	case CorrectionUser:
		return "user"
	default:
		return fmt.Sprintf("CorrectionMode(%d)", int(m))
	}
}

func ParseCorrectionMode(s string) (CorrectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return CorrectionOff, nil
	case "auto":
		return CorrectionAuto, nil
	case "user":
		return CorrectionUser, nil
	}
	return 0, fmt.Errorf("unknown correction mode %q", s)
}

// HistogramConfig configures the response time histogram reporter.
type HistogramConfig struct {
	Mode CorrectionMode
	// Correction is the expected interval in ms used in user mode.
	Correction float64
	// Precision is the number of significant decimal digits kept (1..5).
	Precision int
	// Detail is the number of percentile steps per halving of the distance
	// to 100%.
	Detail int
	// Prefix is prepended to every published percentile key.
	Prefix string
	// MaxExpectedValue drops larger samples; -1 tracks up to an hour.
	MaxExpectedValue int64
	// Filter skips percentiles whose value equals the previous one.
	Filter bool
}

func DefaultHistogramConfig() HistogramConfig {
	return HistogramConfig{
		Mode:             CorrectionAuto,
		Precision:        2,
		Detail:           2,
		Prefix:           "perc",
		MaxExpectedValue: -1,
	}
}

func (c HistogramConfig) validate() error {
	if c.Precision < 1 || c.Precision > 5 {
		return fmt.Errorf("precision must be between 1 and 5, got %d", c.Precision)
	}
	if c.Detail < 1 {
		return fmt.Errorf("detail must be positive, got %d", c.Detail)
	}
	if c.Mode == CorrectionUser && c.Correction <= 0 {
		return fmt.Errorf("correction mode user requires a positive correction, got %v", c.Correction)
	}
	if c.MaxExpectedValue == 0 || c.MaxExpectedValue < -1 {
		return fmt.Errorf("maxExpectedValue must be positive or -1, got %d", c.MaxExpectedValue)
	}
	return nil
}

// ResponseTimeHistogram records response times into an HDR histogram and
// publishes a percentile distribution, optionally corrected for coordinated
// omission.
//
// Each level of the walk is published under Prefix followed by the level as
// a fraction with twelve decimals, so the default detail of 2 yields keys
// such as perc0.500000000000, perc0.992187500000 and perc1.000000000000.
// Values are int64 milliseconds, not formatted strings; thresholds and
// numeric destinations compare them directly.
type ResponseTimeHistogram struct {
	cfg HistogramConfig
	rec *accumulator.Percentiles
	avg *accumulator.Average
}

func NewResponseTimeHistogram(cfg HistogramConfig) (*ResponseTimeHistogram, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rec, err := accumulator.NewPercentiles(cfg.MaxExpectedValue, cfg.Precision)
	if err != nil {
		return nil, err
	}
	return &ResponseTimeHistogram{cfg: cfg, rec: rec, avg: accumulator.NewAverage()}, nil
}

func (h *ResponseTimeHistogram) Config() HistogramConfig { return h.cfg }

func (h *ResponseTimeHistogram) Fold(r *Reporter, u *measurement.Unit) error {
	if !u.IsMeasured() {
		return nil
	}
	total := u.TotalTime()
	_ = h.avg.Add(total)

	v := int64(math.Round(total))
	if err := h.rec.Record(v); err != nil {
		r.Logger().Debug("response time dropped from histogram", zap.Int64("value", v), zap.Error(err))
		return err
	}
	return nil
}

// ExpectedInterval returns the interval used for correction, or 0 when off.
func (h *ResponseTimeHistogram) ExpectedInterval() int64 {
	switch h.cfg.Mode {
	case CorrectionAuto:
		if avg, ok := h.avg.Result().(float64); ok {
			return int64(math.Round(avg))
		}
		return 0
	case CorrectionUser:
		return max(1, int64(math.Round(h.cfg.Correction)))
	default:
		return 0
	}
}

func (h *ResponseTimeHistogram) Snapshot(_ *Reporter, b *measurement.Builder) error {
	levels := h.rec.CorrectedCopy(h.ExpectedInterval()).Iterate(h.cfg.Detail)
	last := int64(-1)
	for _, l := range levels {
		if h.cfg.Filter && l.Value == last {
			continue
		}
		last = l.Value
		b.Set(h.cfg.Prefix+fmt.Sprintf("%.12f", l.Percentile/100), l.Value)
	}
	return nil
}

func (h *ResponseTimeHistogram) Reset() {
	h.rec.Reset()
	h.avg.Reset()
}

// ParseHistogramConfig reads correctionMode, correction, precision, detail,
// prefix, maxExpectedValue and filter.
func ParseHistogramConfig(p properties.Properties) (HistogramConfig, error) {
	cfg := DefaultHistogramConfig()
	var err error
	if cfg.Mode, err = ParseCorrectionMode(p.String("correctionMode", cfg.Mode.String())); err != nil {
		return cfg, err
	}
	if cfg.Correction, err = p.Float("correction", 0); err != nil {
		return cfg, err
	}
	if cfg.Precision, err = p.Int("precision", cfg.Precision); err != nil {
		return cfg, err
	}
	if cfg.Detail, err = p.Int("detail", cfg.Detail); err != nil {
		return cfg, err
	}
	cfg.Prefix = p.String("prefix", cfg.Prefix)
	if cfg.MaxExpectedValue, err = p.Int64("maxExpectedValue", cfg.MaxExpectedValue); err != nil {
		return cfg, err
	}
	if cfg.Filter, err = p.Bool("filter", cfg.Filter); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}
