package runner

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces out unit allocation. SetRate takes effect on the next Wait;
// a rate of zero or less removes the limit.
type pacer interface {
	Wait(ctx context.Context) error
	SetRate(perSecond float64)
}

// newPacer builds the pacer for the configured arrival model. With a rate
// profile the profile's opening rate replaces RatePerSecond.
func newPacer(opt Options, profile *rateProfile) pacer {
	initial := float64(opt.RatePerSecond)
	if profile != nil {
		initial, _ = profile.at(0)
	}

	if opt.ArrivalModel == ArrivalModelPoisson {
		sample := opt.PoissonSampler
		if sample == nil {
			sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		p := &poissonPacer{sample: sample}
		p.SetRate(initial)
		return p
	}

	p := &limiterPacer{limiter: opt.LimiterFactory(opt.RatePerSecond)}
	if profile != nil {
		p.SetRate(initial)
	}
	return p
}

// limiterPacer spaces arrivals evenly through a token bucket.
type limiterPacer struct {
	limiter *rate.Limiter
}

func (p *limiterPacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *limiterPacer) SetRate(perSecond float64) {
	if p.limiter == nil {
		return
	}
	if perSecond <= 0 {
		p.limiter.SetLimit(rate.Inf)
		p.limiter.SetBurst(0)
		return
	}
	p.limiter.SetLimit(rate.Limit(perSecond))
	p.limiter.SetBurst(max(1, int(math.Ceil(perSecond))))
}

// poissonPacer draws exponentially distributed gaps so that arrivals form
// a Poisson process with the configured mean rate.
type poissonPacer struct {
	mu        sync.Mutex
	perSecond float64
	sample    func() float64
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	gap := p.gap()
	if gap <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *poissonPacer) SetRate(perSecond float64) {
	p.mu.Lock()
	p.perSecond = max(perSecond, 0)
	p.mu.Unlock()
}

// gap returns the wait before the next arrival, zero when unpaced.
func (p *poissonPacer) gap() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perSecond <= 0 || p.sample == nil {
		return 0
	}
	ns := float64(time.Second) * p.sample() / p.perSecond
	if ns > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
