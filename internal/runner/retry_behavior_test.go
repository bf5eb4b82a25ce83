package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/runner"
)

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	req := &failingRequester{}
	policy := runner.RetryPolicy{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return false }, // never retry
		DelayFunc:   func(int, error) time.Duration { return 0 },
	}
	wrapped := runner.WithRetry(req, policy)
	err := wrapped.Do(context.Background(), measurement.New(0))
	if err == nil {
		t.Fatalf("expected error")
	}
	if req.attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", req.attempts)
	}
}

func TestRetryDelayHonorsCancellation(t *testing.T) {
	req := &failingRequester{}
	wrapped := runner.WithRetry(req, runner.RetryPolicy{MaxAttempts: 3, Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := wrapped.Do(ctx, measurement.New(0)); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if req.attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", req.attempts)
	}
}
