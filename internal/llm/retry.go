package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds repeated attempts against a rate-limited upstream.
// Only [ErrRateLimited] is retried; every other error aborts immediately.
// The wait before re-attempt number n (zero-based) is (n+1) * BaseDelay,
// so the default policy sleeps 2s then 4s across its three attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is replaceable for tests. nil means a real timer.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the documented loop limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Wait returns the backoff delay after the given zero-based attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	return time.Duration(attempt+1) * p.BaseDelay
}

// Do runs fn up to MaxAttempts times, sleeping between rate-limited
// attempts. The context cancels both fn and the backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(context.Context) (*ChatResponse, error)) (*ChatResponse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		wait := p.Wait(attempt)
		logger.Warn("rate limited, backing off",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"wait", wait,
		)
		if err := p.doSleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (p RetryPolicy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
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
