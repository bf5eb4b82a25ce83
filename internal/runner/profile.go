package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// profileTick is how often the runner re-reads the rate profile.
const profileTick = 100 * time.Millisecond

// stage is a stretch of the profile whose rate moves linearly from
// `from` to `to`.
type stage struct {
	offset time.Duration
	length time.Duration
	from   float64
	to     float64
}

func (s stage) rateAt(elapsed time.Duration) float64 {
	if s.from == s.to {
		return s.from
	}
	f := float64(elapsed-s.offset) / float64(s.length)
	return s.from + (s.to-s.from)*min(max(f, 0), 1)
}

// rateProfile lays load patterns end to end on one timeline.
type rateProfile struct {
	stages []stage
	length time.Duration
	peak   float64
}

// newRateProfile returns nil when no pattern contributes a stage.
func newRateProfile(patterns []LoadPattern) *rateProfile {
	p := &rateProfile{}
	for _, lp := range patterns {
		switch lp.Type {
		case LoadPatternTypeRamp:
			p.add(lp.Duration, float64(lp.FromRPS), float64(lp.ToRPS))
		case LoadPatternTypeStep:
			for _, s := range lp.Steps {
				p.add(s.Duration, float64(s.RPS), float64(s.RPS))
			}
		case LoadPatternTypeSpike:
			p.add(lp.Duration, float64(lp.RPS), float64(lp.RPS))
		}
	}
	if len(p.stages) == 0 {
		return nil
	}
	return p
}

func (p *rateProfile) add(length time.Duration, from, to float64) {
	if length <= 0 {
		return
	}
	p.stages = append(p.stages, stage{offset: p.length, length: length, from: from, to: to})
	p.length += length
	p.peak = max(p.peak, from, to)
}

// at returns the rate at elapsed; ok is false once the profile is over.
func (p *rateProfile) at(elapsed time.Duration) (perSecond float64, ok bool) {
	if p == nil {
		return 0, false
	}
	elapsed = max(elapsed, 0)
	for _, s := range p.stages {
		if elapsed >= s.offset && elapsed < s.offset+s.length {
			return s.rateAt(elapsed), true
		}
	}
	return 0, false
}

// followProfile retunes the pacer as the profile advances and cancels the
// run once the profile is over.
func (r *Runner) followProfile(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	start := time.Now()
	t := time.NewTicker(profileTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			elapsed := time.Since(start)
			perSecond, ok := r.profile.at(elapsed)
			if !ok {
				r.opt.Logger.Info("load patterns finished", zap.Duration("elapsed", elapsed))
				return
			}
			r.pacer.SetRate(perSecond)
		}
	}
}
