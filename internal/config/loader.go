package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crankreport/internal/period"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used when neither the scenario file
// nor a flag sets a value.
func Defaults() *Config {
	return &Config{
		Run:      period.Period{Type: period.Time, Value: 10_000},
		Threads:  1,
		Arrival:  ArrivalModelUniform,
		Method:   "GET",
		Headers:  map[string]string{},
		Timeout:  30 * time.Second,
		Simulate: SimulateConfig{Mean: 10 * time.Millisecond},
		Log:      LogConfig{Level: "info", Format: "console", Output: "stderr"},
		Tracing:  TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and the scenario file to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	return LoadFlags(cmd.Flags(), len(args) == 0)
}

// LoadFlags builds the configuration from an already parsed flag set. When
// showHelp is set and no scenario file is given, help is printed instead.
func LoadFlags(flagSet *pflag.FlagSet, showHelp bool) (*Config, error) {
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if showHelp && configPath == "" {
		cmd := newFlagCommand()
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
			return nil, err
		}
		reporters, err := loadReporters(configPath)
		if err != nil {
			return nil, fmt.Errorf("reporters: %w", err)
		}
		cfg.Reporters = reporters
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	return cfg, nil
}

// loadReporters decodes the reporters section straight from the file.
// Viper folds map keys to lower case, which would break camelCase
// reporter and destination properties.
func loadReporters(path string) ([]ReporterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Reporters []ReporterConfig `yaml:"reporters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Reporters, nil
}

// applyConfigSettings applies settings from a scenario file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	s, err := newSection(settings)
	if err != nil {
		return err
	}

	var method, target, htmlOutput string
	var headers map[string]string
	err = errors.Join(
		s.period(&cfg.Run, "run", "duration"),
		s.integer(&cfg.Threads, "threads", "concurrency"),
		s.integer(&cfg.Rate, "rate"),
		parseArrival(&cfg.Arrival, s),
		s.str(&target, "target"),
		s.str(&method, "method"),
		s.stringMap(&headers, "headers"),
		s.duration(&cfg.Timeout, "timeout"),
		s.integer(&cfg.Retries, "retries"),
		parseLoadPatterns(&cfg.LoadPatterns, s),
		s.with("simulate", func(sub section) error { return parseSimulate(&cfg.Simulate, sub) }),
		s.with("log", func(sub section) error { return parseLog(&cfg.Log, sub) }),
		s.with("tracing", func(sub section) error { return parseTracing(&cfg.Tracing, sub) }),
		s.strings(&cfg.Thresholds, "thresholds"),
		s.boolean(&cfg.Dashboard, "dashboard"),
		s.boolean(&cfg.JSONOutput, "json_output"),
		s.str(&htmlOutput, "html_output"),
	)
	if err != nil {
		return err
	}

	if target != "" {
		cfg.Target = target
	}
	if method != "" {
		cfg.Method = method
	}
	if htmlOutput != "" {
		cfg.HTMLOutput = htmlOutput
	}
	if len(headers) > 0 && cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	for k, v := range headers {
		cfg.Headers[http.CanonicalHeaderKey(k)] = v
	}
	return nil
}

// parseArrival accepts either the model name or a mapping with a model key.
func parseArrival(dst *ArrivalModel, s section) error {
	raw, ok := s.lookup("arrival")
	if !ok || raw == nil {
		return nil
	}
	var model string
	if name, isName := raw.(string); isName {
		model = name
	} else {
		sub, err := newSection(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if _, ok := sub.lookup("model"); !ok {
			return fmt.Errorf("arrival: model field is required")
		}
		if err := sub.str(&model, "model"); err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
	}
	if model = strings.ToLower(strings.TrimSpace(model)); model != "" {
		*dst = ArrivalModel(model)
	}
	return nil
}

func parseLoadPatterns(dst *[]LoadPattern, s section) error {
	items, ok, err := s.list("load_patterns")
	if err != nil || !ok {
		return err
	}
	patterns := make([]LoadPattern, 0, len(items))
	for i, item := range items {
		var p LoadPattern
		var typ string
		if err := errors.Join(
			item.str(&p.Name, "name"),
			item.str(&typ, "type"),
			item.integer(&p.FromRPS, "from_rps"),
			item.integer(&p.ToRPS, "to_rps"),
			item.integer(&p.RPS, "rps"),
			item.duration(&p.Duration, "duration"),
			parseLoadSteps(&p.Steps, item),
		); err != nil {
			return fmt.Errorf("loadPatterns[%d]: %w", i, err)
		}
		p.Type = LoadPatternType(strings.ToLower(typ))
		patterns = append(patterns, p)
	}
	*dst = patterns
	return nil
}

func parseLoadSteps(dst *[]LoadStep, s section) error {
	items, ok, err := s.list("steps")
	if err != nil || !ok {
		return err
	}
	steps := make([]LoadStep, 0, len(items))
	for i, item := range items {
		var step LoadStep
		if err := errors.Join(
			item.integer(&step.RPS, "rps"),
			item.duration(&step.Duration, "duration"),
		); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps = append(steps, step)
	}
	*dst = steps
	return nil
}

func parseSimulate(dst *SimulateConfig, s section) error {
	return errors.Join(
		s.duration(&dst.Mean, "mean"),
		s.duration(&dst.Jitter, "jitter"),
		s.float(&dst.FailureRate, "failure_rate"),
	)
}

func parseLog(dst *LogConfig, s section) error {
	return errors.Join(
		s.str(&dst.Level, "level"),
		s.str(&dst.Format, "format"),
		s.str(&dst.Output, "output"),
		s.str(&dst.File, "file"),
	)
}

func parseTracing(dst *TracingConfig, s section) error {
	err := errors.Join(
		s.boolean(&dst.Enable, "enabled"),
		s.boolean(&dst.Insecure, "insecure"),
		s.float(&dst.SampleRate, "sample_rate"),
		s.str(&dst.Endpoint, "endpoint"),
		s.str(&dst.Protocol, "protocol"),
		s.str(&dst.ServiceName, "service_name"),
	)
	if _, ok := s.lookup("propagate"); ok {
		var propagate bool
		err = errors.Join(err, s.boolean(&propagate, "propagate"))
		dst.Propagate = &propagate
	}
	return err
}
