package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/crankreport/internal/period"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankreport",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to scenario file (JSON or YAML)")

	// Run shape
	flags.StringP("run", "d", "10s", "Run length as a duration (30s) or an iteration count (1000)")
	flags.IntP("threads", "c", 1, "Number of concurrent workers")
	flags.IntP("rate", "r", 0, "Iterations per second limit (0 means unlimited)")
	flags.Int("retries", 0, "Number of retries per iteration")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model to use when pacing iterations (uniform or poisson)")

	// Work
	flags.String("target", "", "URL requested on every iteration; synthetic work is used when empty")
	flags.String("method", "GET", "HTTP method to use against the target")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.Duration("timeout", 30*time.Second, "Per-iteration timeout")
	flags.Duration("simulate-mean", 10*time.Millisecond, "Mean duration of synthetic work")
	flags.Duration("simulate-jitter", 0, "Maximum random deviation added to synthetic work")
	flags.Float64("failure-rate", 0, "Fraction of synthetic iterations that fail (0.0-1.0)")

	// Output
	flags.Bool("json-output", false, "Publish measurements as JSON lines instead of console lines")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("html-output", "", "Write an HTML chart of the run to the specified file path")
	flags.StringSlice("threshold", nil, "Result thresholds checked at the end of the run (repeatable, e.g. 'Average < 50')")

	// Logging
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console or json)")
	flags.String("log-output", "stderr", "Log output (stdout, stderr, file or both)")
	flags.String("log-file", "", "Log file path when log output includes a file")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP endpoint for trace export (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol (grpc or http)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of publish spans to sample (0.0-1.0)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the scenario file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("run") {
		val, err := fs.GetString("run")
		if err != nil {
			return err
		}
		p, err := period.Parse(val)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		cfg.Run = p
	}
	if fs.Changed("threads") {
		val, err := fs.GetInt("threads")
		if err != nil {
			return err
		}
		cfg.Threads = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if fs.Changed("method") {
		val, err := fs.GetString("method")
		if err != nil {
			return err
		}
		cfg.Method = val
	}
	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("simulate-mean") {
		val, err := fs.GetDuration("simulate-mean")
		if err != nil {
			return err
		}
		cfg.Simulate.Mean = val
	}
	if fs.Changed("simulate-jitter") {
		val, err := fs.GetDuration("simulate-jitter")
		if err != nil {
			return err
		}
		cfg.Simulate.Jitter = val
	}
	if fs.Changed("failure-rate") {
		val, err := fs.GetFloat64("failure-rate")
		if err != nil {
			return err
		}
		cfg.Simulate.FailureRate = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append(cfg.Thresholds, val...)
	}

	stringOverrides := map[string]*string{
		"log-level":            &cfg.Log.Level,
		"log-format":           &cfg.Log.Format,
		"log-output":           &cfg.Log.Output,
		"log-file":             &cfg.Log.File,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range stringOverrides {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}
