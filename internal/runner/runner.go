package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
)

// Result captures execution summary.
type Result struct {
	Total    int64
	Errors   int64
	Duration time.Duration
}

// Runner coordinates concurrent execution with rate limiting.
type Runner struct {
	opt     Options
	profile *rateProfile
	pacer   pacer
}

func New(opt Options) *Runner {
	opt.normalize()
	profile := newRateProfile(opt.LoadPatterns)
	return &Runner{opt: opt, profile: profile, pacer: newPacer(opt, profile)}
}

// Run executes iterations until the source runs dry, the load pattern ends
// or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	var total int64
	var errs int64

	if r.opt.Source == nil {
		return Result{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.profile != nil {
		go r.followProfile(ctx, cancel)
	}

	units := make(chan *measurement.Unit, r.opt.Threads)

	// Scheduler: serializes pacing and unit allocation so iteration numbers
	// follow arrival order.
	go func() {
		defer close(units)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := r.pacer.Wait(ctx); err != nil {
				return
			}
			u := r.opt.Source.NewMeasurementUnit()
			if u == nil {
				return
			}
			select {
			case units <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(r.opt.Threads)
	for i := 0; i < r.opt.Threads; i++ {
		go func() {
			defer wg.Done()
			for u := range units {
				ok, err := r.execute(ctx, u)
				if !ok {
					continue
				}
				atomic.AddInt64(&total, 1)
				if err != nil {
					atomic.AddInt64(&errs, 1)
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Total:    atomic.LoadInt64(&total),
		Errors:   atomic.LoadInt64(&errs),
		Duration: time.Since(start),
	}
}

// execute times one iteration and reports it. ok is false when the run was
// cancelled underneath the iteration; such units are dropped.
func (r *Runner) execute(ctx context.Context, u *measurement.Unit) (bool, error) {
	reqCtx := ctx
	if r.opt.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.opt.Timeout)
		defer cancel()
	}

	u.StartMeasure()
	err := r.opt.Requester.Do(reqCtx, u)
	u.StopMeasure()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return false, err
	}
	u.SetFailure(err)
	if rerr := r.opt.Source.Report(u); rerr != nil {
		r.opt.Logger.Warn("report failed", zap.Int64("iteration", u.Iteration()), zap.Error(rerr))
	}
	return true, err
}
