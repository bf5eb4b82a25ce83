package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
)

func TestSimulatedRequesterStaysWithinJitter(t *testing.T) {
	s := NewSimulatedRequester(SimulatedConfig{Mean: 10 * time.Millisecond, Jitter: 4 * time.Millisecond, Seed: 7})
	for i := 0; i < 1000; i++ {
		d, fail := s.next()
		if d < 6*time.Millisecond || d > 14*time.Millisecond {
			t.Fatalf("draw %d = %s outside [6ms, 14ms]", i, d)
		}
		if fail {
			t.Fatal("no failures expected with FailureRate 0")
		}
	}
}

func TestSimulatedRequesterClampsNegativeLatency(t *testing.T) {
	s := NewSimulatedRequester(SimulatedConfig{Mean: time.Millisecond, Jitter: 50 * time.Millisecond, Seed: 3})
	for i := 0; i < 200; i++ {
		if d, _ := s.next(); d < 0 {
			t.Fatalf("negative latency %s", d)
		}
	}
}

func TestSimulatedRequesterFailureRate(t *testing.T) {
	s := NewSimulatedRequester(SimulatedConfig{FailureRate: 0.25, Seed: 42})
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	failures := 0
	const n = 4000
	for i := 0; i < n; i++ {
		err := s.Do(context.Background(), measurement.New(int64(i)))
		if errors.Is(err, ErrSimulatedFailure) {
			failures++
		} else if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	share := float64(failures) / n
	if share < 0.20 || share > 0.30 {
		t.Fatalf("failure share %.3f, want about 0.25", share)
	}
	if len(slept) != n {
		t.Fatalf("expected %d sleeps, got %d", n, len(slept))
	}
}

func TestSimulatedRequesterCancelled(t *testing.T) {
	s := NewSimulatedRequester(SimulatedConfig{Mean: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Do(ctx, measurement.New(0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOptionsNormalize(t *testing.T) {
	var o Options
	o.normalize()
	if o.Threads != 1 {
		t.Errorf("Threads = %d, want 1", o.Threads)
	}
	if o.ArrivalModel != ArrivalModelUniform {
		t.Errorf("ArrivalModel = %q, want %q", o.ArrivalModel, ArrivalModelUniform)
	}
	if o.RandomSeed == 0 {
		t.Error("RandomSeed should be non-zero")
	}
	if o.LimiterFactory == nil || o.Requester == nil || o.Logger == nil {
		t.Error("defaults should be filled in")
	}
	if l := o.LimiterFactory(100); l.Burst() != 100 {
		t.Errorf("Burst = %d, want 100", l.Burst())
	}

	o = Options{Threads: -5, RatePerSecond: -1, Timeout: -time.Second}
	o.normalize()
	if o.Threads != 1 || o.RatePerSecond != 0 || o.Timeout != 0 {
		t.Errorf("negative values not corrected: %+v", o)
	}
}
