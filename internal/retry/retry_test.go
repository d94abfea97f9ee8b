package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aodunsi/docpipeline/internal/common"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Errorf("out = %d, want 42", out)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", RetryableErr(errors.New("connection reset"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want %q", out, "ok")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_FatalPropagatesImmediately(t *testing.T) {
	calls := 0
	wantErr := errors.New("invalid document type")
	_, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-retryable error)", calls)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	_, err := Do(context.Background(), fastConfig(2), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, RetryableErr(errors.New("down"))
		}
		return 0, RetryableErr(last)
	})
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want last error %v", err, last)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestDo_ContextCancelsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialDelay: time.Hour, ExponentialBase: 2.0}
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(context.Context) (int, error) {
			return 0, RetryableErr(errors.New("down"))
		})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDefaultRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked retryable", RetryableErr(errors.New("x")), true},
		{"marked fatal", FatalErr(common.ErrUnavailable), false},
		{"unavailable sentinel", common.ErrUnavailable, true},
		{"wrapped unavailable", common.WrapError(common.ErrUnavailable, "enqueue"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"validation error", common.ErrValidation, false},
		{"plain error", errors.New("bad input"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultRetryable(tc.err); got != tc.want {
				t.Errorf("DefaultRetryable(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}

func TestDo_DelayGrowsAndCaps(t *testing.T) {
	var gaps []time.Duration
	prev := time.Now()
	cfg := Config{
		MaxRetries:      4,
		InitialDelay:    2 * time.Millisecond,
		MaxDelay:        8 * time.Millisecond,
		ExponentialBase: 2.0,
	}
	calls := 0
	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		now := time.Now()
		if calls > 0 {
			gaps = append(gaps, now.Sub(prev))
		}
		prev = now
		calls++
		return 0, RetryableErr(errors.New("down"))
	})
	if len(gaps) != 4 {
		t.Fatalf("got %d gaps, want 4", len(gaps))
	}
	// 2ms, 4ms, 8ms, then capped at 8ms; timers only guarantee lower bounds.
	mins := []time.Duration{2, 4, 8, 8}
	for i, g := range gaps {
		if g < mins[i]*time.Millisecond {
			t.Errorf("gap %d = %s, want >= %dms", i, g, mins[i])
		}
	}
}
