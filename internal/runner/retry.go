package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankreport/internal/measurement"
)

// AttemptsResult is the result name under which retried iterations record
// how many attempts they took.
const AttemptsResult = "Attempts"

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryRequester wraps a Requester with retry logic.
type retryRequester struct {
	inner  Requester
	policy RetryPolicy
}

// WithRetry wraps a Requester with retry capability. All attempts of an
// iteration fall into the same measurement.
func WithRetry(req Requester, policy RetryPolicy) Requester {
	if policy.MaxAttempts <= 1 {
		return req // no retries needed
	}
	return &retryRequester{
		inner:  req,
		policy: policy,
	}
}

func (r *retryRequester) Do(ctx context.Context, u *measurement.Unit) error {
	var lastErr error
	attempt := 1
	defer func() { u.AppendResult(AttemptsResult, int64(attempt)) }()

	for ; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = r.inner.Do(ctx, u)
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt == r.policy.MaxAttempts {
			break
		}
		if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
			return lastErr
		}
		delay := r.policy.Delay
		if r.policy.DelayFunc != nil {
			delay = r.policy.DelayFunc(attempt, lastErr)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner  Requester
	logger *zap.Logger
}

// WithLogging wraps a Requester to log failed iterations at warn level.
func WithLogging(req Requester, logger *zap.Logger) Requester {
	if logger == nil {
		return req
	}
	return &loggingRequester{
		inner:  req,
		logger: logger,
	}
}

func (l *loggingRequester) Do(ctx context.Context, u *measurement.Unit) error {
	err := l.inner.Do(ctx, u)
	if err != nil && ctx.Err() == nil {
		l.logger.Warn("iteration failed", zap.Int64("iteration", u.Iteration()), zap.Error(err))
	}
	return err
}
