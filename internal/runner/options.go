package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/crankreport/internal/measurement"
)

// Requester performs the work of one iteration. Implementations may append
// named results to u; timing is handled by the runner.
type Requester interface {
	Do(ctx context.Context, u *measurement.Unit) error
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, u *measurement.Unit) error

func (f RequesterFunc) Do(ctx context.Context, u *measurement.Unit) error { return f(ctx, u) }

// UnitSource hands out measurement units and takes them back once filled.
// A nil unit means the run is over.
type UnitSource interface {
	NewMeasurementUnit() *measurement.Unit
	Report(u *measurement.Unit) error
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

// LoadPattern is one segment of a rate profile.
type LoadPattern struct {
	Type     LoadPatternType
	FromRPS  int
	ToRPS    int
	RPS      int
	Duration time.Duration
	Steps    []LoadStep
}

type LoadStep struct {
	RPS      int
	Duration time.Duration
}

// Options configure the Runner.
type Options struct {
	Threads        int                         // number of worker goroutines
	RatePerSecond  int                         // iterations per second pacing (0 means unlimited)
	ArrivalModel   ArrivalModel                // uniform or poisson spacing
	RandomSeed     int64                       // seed for the poisson sampler
	PoissonSampler func() float64              // optional injection for tests
	LoadPatterns   []LoadPattern               // optional rate profile
	Timeout        time.Duration               // per-iteration timeout (0 means none)
	Requester      Requester                   // iteration executor (required)
	Source         UnitSource                  // unit allocator, usually the report manager (required)
	Logger         *zap.Logger                 // optional
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	if o.Requester == nil {
		o.Requester = RequesterFunc(func(context.Context, *measurement.Unit) error { return nil })
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
