package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/crankreport/internal/logging"
	"github.com/torosent/crankreport/internal/period"
	"github.com/torosent/crankreport/internal/properties"
)

type Config struct {
	Run     period.Period
	Threads int
	Rate    int
	Arrival ArrivalModel
	Target  string
	Method  string
	Headers map[string]string
	Timeout time.Duration
	Retries int
	// LoadPatterns reshape the iteration rate over time. When the patterns
	// run out the load stops even if the run length is not reached.
	LoadPatterns []LoadPattern
	Simulate     SimulateConfig
	Log          LogConfig
	Tracing      TracingConfig
	Reporters    []ReporterConfig
	Thresholds   []string
	Dashboard    bool
	JSONOutput   bool
	HTMLOutput   string
	ConfigFile   string
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type LoadPatternType string

const (
	LoadPatternTypeRamp  LoadPatternType = "ramp"
	LoadPatternTypeStep  LoadPatternType = "step"
	LoadPatternTypeSpike LoadPatternType = "spike"
)

type LoadPattern struct {
	Name     string
	Type     LoadPatternType
	FromRPS  int
	ToRPS    int
	Duration time.Duration
	Steps    []LoadStep
	RPS      int
}

type LoadStep struct {
	RPS      int
	Duration time.Duration
}

// SimulateConfig shapes the synthetic work used when no target is set.
type SimulateConfig struct {
	Mean        time.Duration
	Jitter      time.Duration
	FailureRate float64
}

type LogConfig struct {
	Level  string
	Format string
	Output string
	File   string
}

// Logging converts the section into the logger configuration.
func (c LogConfig) Logging() *logging.Config {
	return &logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.File,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

type TracingConfig struct {
	Enable      bool
	Endpoint    string
	Protocol    string // grpc or http
	Insecure    bool
	ServiceName string
	SampleRate  float64
	// Propagate overrides whether trace headers are injected; nil follows Enabled.
	Propagate *bool
}

// Enabled reports whether spans should be exported. Setting an endpoint
// implies enabled.
func (c TracingConfig) Enabled() bool {
	return c.Enable || strings.TrimSpace(c.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into
// outgoing destination requests.
func (c TracingConfig) ShouldPropagate() bool {
	if c.Propagate != nil {
		return *c.Propagate
	}
	return c.Enabled()
}

// ReporterConfig declares one reporter and the destinations it feeds.
type ReporterConfig struct {
	Type         string                `yaml:"type"`
	Name         string                `yaml:"name"`
	Enabled      *bool                 `yaml:"enabled"`
	Properties   properties.Properties `yaml:"properties"`
	Destinations []DestinationConfig   `yaml:"destinations"`
}

func (r ReporterConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

type DestinationConfig struct {
	Type       string                `yaml:"type"`
	Name       string                `yaml:"name"`
	Enabled    *bool                 `yaml:"enabled"`
	Periods    []period.Period       `yaml:"periods"`
	Properties properties.Properties `yaml:"properties"`
}

func (d DestinationConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	switch c.Run.Type {
	case period.Iteration, period.Time:
		if c.Run.Value <= 0 {
			issues = append(issues, "run must be a positive iteration count or duration")
		}
	default:
		issues = append(issues, fmt.Sprintf("run: %s is not a supported run length, use an iteration count or a duration", c.Run.Type))
	}

	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High rate limit configured (%d iterations/s). Ensure you have authorization to load the target system.", c.Rate))
	}
	if c.Threads > 500 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High thread count configured (%d workers). Ensure you have authorization to load the target system.", c.Threads))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Threads < 1 {
		issues = append(issues, "threads must be >= 1")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	switch c.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q is not supported", c.Arrival))
	}

	issues = append(issues, validateLoadPatterns(c.LoadPatterns)...)
	issues = append(issues, validateSimulate(c.Simulate)...)
	issues = append(issues, validateLog(c.Log)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateReporters(c.Reporters)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateLoadPatterns(patterns []LoadPattern) []string {
	var issues []string
	for idx, pattern := range patterns {
		typeLabel := strings.TrimSpace(string(pattern.Type))
		if typeLabel == "" {
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: type is required", idx))
			continue
		}
		switch LoadPatternType(strings.ToLower(typeLabel)) {
		case LoadPatternTypeRamp:
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for ramp", idx))
			}
			if pattern.FromRPS < 0 || pattern.ToRPS < 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: from_rps and to_rps must be >= 0", idx))
			}
		case LoadPatternTypeStep:
			if len(pattern.Steps) == 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: steps are required for step pattern", idx))
			}
			for stepIdx, step := range pattern.Steps {
				if step.RPS < 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: rps must be >= 0", idx, stepIdx))
				}
				if step.Duration <= 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: duration must be > 0", idx, stepIdx))
				}
			}
		case LoadPatternTypeSpike:
			if pattern.RPS <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: rps must be > 0 for spike", idx))
			}
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for spike", idx))
			}
		default:
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: unsupported type %q", idx, pattern.Type))
		}
	}
	return issues
}

func validateSimulate(s SimulateConfig) []string {
	var issues []string
	if s.Mean < 0 {
		issues = append(issues, "simulate: mean must be >= 0")
	}
	if s.Jitter < 0 {
		issues = append(issues, "simulate: jitter must be >= 0")
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		issues = append(issues, fmt.Sprintf("simulate: failure_rate must be between 0.0 and 1.0, got %g", s.FailureRate))
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Format) {
	case "", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'json' or 'console', got %q", l.Format))
	}
	switch strings.ToLower(l.Output) {
	case "", "stdout", "stderr", "both":
	case "file":
		if strings.TrimSpace(l.File) == "" {
			issues = append(issues, "log: file is required when output is 'file'")
		}
	default:
		issues = append(issues, fmt.Sprintf("log: output must be 'stdout', 'stderr', 'file' or 'both', got %q", l.Output))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func validateReporters(reporters []ReporterConfig) []string {
	var issues []string
	seen := map[string]int{}
	for idx, r := range reporters {
		if strings.TrimSpace(r.Type) == "" {
			issues = append(issues, fmt.Sprintf("reporters[%d]: type is required", idx))
		}
		name := r.Name
		if name == "" {
			name = r.Type
		}
		if prev, ok := seen[name]; ok && name != "" {
			issues = append(issues, fmt.Sprintf("reporters[%d]: duplicate name %q also defined at index %d", idx, name, prev))
		} else {
			seen[name] = idx
		}
		for didx, d := range r.Destinations {
			if strings.TrimSpace(d.Type) == "" {
				issues = append(issues, fmt.Sprintf("reporters[%d].destinations[%d]: type is required", idx, didx))
			}
			if len(d.Periods) == 0 {
				issues = append(issues, fmt.Sprintf("reporters[%d].destinations[%d]: at least one period is required", idx, didx))
			}
		}
	}
	return issues
}
