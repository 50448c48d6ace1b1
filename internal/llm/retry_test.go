package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fakeSleep(record *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*record = append(*record, d)
		return nil
	}
}

func TestRetryPolicy_Wait(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 6 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Wait(tt.attempt); got != tt.want {
			t.Errorf("Wait(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	var sleeps []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, sleep: fakeSleep(&sleeps)}

	calls := 0
	resp, err := p.Do(context.Background(), nil, func(context.Context) (*ChatResponse, error) {
		calls++
		return &ChatResponse{Model: "m"}, nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if resp.Model != "m" {
		t.Errorf("Model = %q, want %q", resp.Model, "m")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(sleeps) != 0 {
		t.Errorf("slept %v, want no sleeps", sleeps)
	}
}

func TestRetryPolicy_RetriesRateLimitThenSucceeds(t *testing.T) {
	var sleeps []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, sleep: fakeSleep(&sleeps)}

	calls := 0
	resp, err := p.Do(context.Background(), nil, func(context.Context) (*ChatResponse, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("%w: slow down", ErrRateLimited)
		}
		return &ChatResponse{Model: "m"}, nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if resp == nil {
		t.Fatal("Do returned nil response")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Backoff between the three attempts: 2s then 4s.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	var sleeps []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, sleep: fakeSleep(&sleeps)}

	calls := 0
	_, err := p.Do(context.Background(), nil, func(context.Context) (*ChatResponse, error) {
		calls++
		return nil, fmt.Errorf("%w: still throttled", ErrRateLimited)
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (never more than MaxAttempts)", calls)
	}
	if len(sleeps) != 2 {
		t.Errorf("slept %d times, want 2 (no sleep after the last attempt)", len(sleeps))
	}
}

func TestRetryPolicy_NonTransientFailsFast(t *testing.T) {
	var sleeps []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, sleep: fakeSleep(&sleeps)}

	calls := 0
	wantErr := errors.New("upstream on fire")
	_, err := p.Do(context.Background(), nil, func(context.Context) (*ChatResponse, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-transient errors are not retried)", calls)
	}
	if len(sleeps) != 0 {
		t.Errorf("slept %v, want no sleeps", sleeps)
	}
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	_, err := p.Do(ctx, nil, func(context.Context) (*ChatResponse, error) {
		return nil, fmt.Errorf("%w: throttled", ErrRateLimited)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_ZeroAttemptsStillRunsOnce(t *testing.T) {
	p := RetryPolicy{}
	calls := 0
	_, err := p.Do(context.Background(), nil, func(context.Context) (*ChatResponse, error) {
		calls++
		return &ChatResponse{}, nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
