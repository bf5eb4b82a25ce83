package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/config"
	"github.com/torosent/crankreport/internal/httpclient"
	"github.com/torosent/crankreport/internal/logging"
	"github.com/torosent/crankreport/internal/output"
	"github.com/torosent/crankreport/internal/reporting"
	"github.com/torosent/crankreport/internal/runinfo"
	"github.com/torosent/crankreport/internal/runner"
	"github.com/torosent/crankreport/internal/threshold"
	"github.com/torosent/crankreport/internal/tracing"
)

const (
	progressInterval = time.Second
	baseRetryDelay   = 100 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(cfg.Log.Logging())
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return execute(ctx, cfg, os.Stdout, logging.L())
}

// execute performs one run described by cfg and writes the summary to
// stdout. It fails when an iteration failed or a threshold did not hold.
func execute(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *zap.Logger) error {
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	evaluator := threshold.NewEvaluator(thresholds)

	ri, err := runinfo.New(cfg.Run, runinfo.WithThreads(cfg.Threads))
	if err != nil {
		return err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.WithRunID(ri.ID().String()))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	mgr := reporting.NewManager(reporting.WithLogger(logger))
	mgr.SetRunInfo(ri)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	w := newWiring(cfg, wiringDeps{
		logger:    logger,
		stdout:    stdout,
		runID:     ri.ID().String(),
		tracer:    provider.Tracer(),
		evaluator: evaluator,
		stop:      stopRun,
	})
	reporters, err := w.buildReporters()
	if err != nil {
		return err
	}
	for _, rep := range reporters {
		if err := mgr.RegisterReporter(rep); err != nil {
			return err
		}
	}

	requester, err := newRequester(cfg, provider.ShouldPropagate(), logger)
	if err != nil {
		return err
	}

	r := runner.New(runner.Options{
		Threads:       cfg.Threads,
		RatePerSecond: cfg.Rate,
		ArrivalModel:  toRunnerArrivalModel(cfg.Arrival),
		LoadPatterns:  toRunnerLoadPatterns(cfg.LoadPatterns),
		Timeout:       cfg.Timeout,
		Requester:     requester,
		Source:        mgr,
		Logger:        logger,
	})

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard && !w.hasConsole {
		progress = output.NewProgressReporter(ri, progressInterval, stdout)
	}

	if err := mgr.Start(); err != nil {
		_ = mgr.Stop()
		return fmt.Errorf("start run: %w", err)
	}
	if progress != nil {
		progress.Start()
	}
	result := r.Run(runCtx)
	stopErr := mgr.Stop()
	if progress != nil {
		progress.Stop()
	}
	if stopErr != nil {
		logger.Warn("run stopped with errors", zap.Error(stopErr))
	}

	summary := output.BuildSummary(ri, mgr.Reporters())
	if cfg.JSONOutput {
		if err := output.PrintJSONSummary(stdout, summary); err != nil {
			return err
		}
	} else {
		output.PrintSummary(stdout, summary)
	}

	if result.Errors > 0 {
		return fmt.Errorf("%d iterations failed", result.Errors)
	}
	return checkThresholds(stdout, evaluator, !cfg.JSONOutput)
}

func checkThresholds(w io.Writer, evaluator *threshold.Evaluator, verbose bool) error {
	results := evaluator.Evaluate()
	if len(results) == 0 {
		return nil
	}
	failed := 0
	if verbose {
		fmt.Fprintln(w, "\n--- Thresholds ---")
	}
	for _, r := range results {
		if !r.Pass {
			failed++
		}
		if verbose {
			fmt.Fprintln(w, r.Message)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

// newRequester picks the iteration body: an HTTP request when a target is
// configured, synthetic work otherwise. Logging and retries wrap either.
func newRequester(cfg *config.Config, propagate bool, logger *zap.Logger) (runner.Requester, error) {
	var req runner.Requester
	if cfg.Target != "" {
		builder, err := httpclient.NewRequestBuilder(cfg.Method, cfg.Target, cfg.Headers)
		if err != nil {
			return nil, err
		}
		req = httpclient.NewRequester(httpclient.NewClient(cfg.Timeout), builder, propagate)
	} else {
		req = runner.NewSimulatedRequester(runner.SimulatedConfig{
			Mean:        cfg.Simulate.Mean,
			Jitter:      cfg.Simulate.Jitter,
			FailureRate: cfg.Simulate.FailureRate,
		})
	}

	req = runner.WithLogging(req, logger)
	if cfg.Retries > 0 {
		req = runner.WithRetry(req, newRetryPolicy(cfg.Retries))
	}
	return req, nil
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

func toRunnerLoadPatterns(patterns []config.LoadPattern) []runner.LoadPattern {
	if len(patterns) == 0 {
		return nil
	}
	result := make([]runner.LoadPattern, len(patterns))
	for i, p := range patterns {
		result[i] = runner.LoadPattern{
			Type:     runner.LoadPatternType(p.Type),
			FromRPS:  p.FromRPS,
			ToRPS:    p.ToRPS,
			Duration: p.Duration,
			Steps:    toRunnerLoadSteps(p.Steps),
			RPS:      p.RPS,
		}
	}
	return result
}

func toRunnerLoadSteps(steps []config.LoadStep) []runner.LoadStep {
	if len(steps) == 0 {
		return nil
	}
	result := make([]runner.LoadStep, len(steps))
	for i, s := range steps {
		result[i] = runner.LoadStep{
			RPS:      s.RPS,
			Duration: s.Duration,
		}
	}
	return result
}

func newRetryPolicy(retries int) runner.RetryPolicy {
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: httpclient.IsRetryable,
		DelayFunc: func(attempt int, err error) time.Duration {
			backoff := retryBackoff(attempt)
			return backoff + source.jitter(backoff/2)
		},
	}
}

// retryBackoff doubles from baseRetryDelay per attempt, capped at
// maxRetryDelay.
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxRetryDelay
	}
	backoff := time.Duration(1<<uint(attempt-1)) * baseRetryDelay
	if backoff > maxRetryDelay {
		backoff = maxRetryDelay
	}
	return backoff
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}
