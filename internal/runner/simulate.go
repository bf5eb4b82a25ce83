package runner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
)

// ErrSimulatedFailure is returned by the simulated requester for the share
// of iterations configured to fail.
var ErrSimulatedFailure = errors.New("simulated failure")

// SimulatedConfig shapes synthetic work: each iteration sleeps Mean plus a
// uniform offset in [-Jitter, +Jitter] and fails with probability
// FailureRate.
type SimulatedConfig struct {
	Mean        time.Duration
	Jitter      time.Duration
	FailureRate float64
	Seed        int64
}

// SimulatedRequester stands in for a real target.
type SimulatedRequester struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rnd *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSimulatedRequester(cfg SimulatedConfig) *SimulatedRequester {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &SimulatedRequester{
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(cfg.Seed)),
		sleep: sleepContext,
	}
}

func (s *SimulatedRequester) Do(ctx context.Context, _ *measurement.Unit) error {
	d, fail := s.next()
	if err := s.sleep(ctx, d); err != nil {
		return err
	}
	if fail {
		return ErrSimulatedFailure
	}
	return nil
}

// next draws the latency and outcome of one iteration.
func (s *SimulatedRequester) next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.cfg.Mean
	if s.cfg.Jitter > 0 {
		d += time.Duration((s.rnd.Float64()*2 - 1) * float64(s.cfg.Jitter))
	}
	if d < 0 {
		d = 0
	}
	fail := s.cfg.FailureRate > 0 && s.rnd.Float64() < s.cfg.FailureRate
	return d, fail
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
