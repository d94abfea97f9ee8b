package retry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/aodunsi/docpipeline/internal/common"
)

// Config controls the backoff schedule and which errors are worth retrying.
type Config struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	// RetryIf classifies an error as retryable. Nil means DefaultRetryable.
	RetryIf func(error) bool
	Logger  *slog.Logger
}

// DefaultConfig mirrors the settings used for pipeline stage calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Retryable marks err as retryable regardless of its underlying type.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }

// RetryableErr wraps err so DefaultRetryable treats it as transient.
func RetryableErr(err error) error { return &Retryable{Err: err} }

// Fatal marks err as non-retryable regardless of its underlying type.
type Fatal struct{ Err error }

func (e *Fatal) Error() string { return e.Err.Error() }
func (e *Fatal) Unwrap() error { return e.Err }

// FatalErr wraps err so no retry policy will retry it.
func FatalErr(err error) error { return &Fatal{Err: err} }

// DefaultRetryable classifies connection/timeout/network-class failures as
// retryable. Application-level validation errors are not.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.As(err, new(*Fatal)) {
		return false
	}
	if errors.As(err, new(*Retryable)) {
		return true
	}
	if errors.Is(err, common.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Do runs op with bounded exponential backoff. Non-retryable errors propagate
// immediately; once MaxRetries is exhausted the last error is returned. The
// context cancels the wait between attempts.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.ExponentialBase
	if base <= 1 {
		base = 2.0
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryIf(err) {
			logger.Error("retry.fatal", "attempt", attempt+1, "error", err)
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			logger.Error("retry.exhausted", "attempts", cfg.MaxRetries+1, "error", err)
			break
		}

		logger.Warn("retry.backoff",
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay = time.Duration(float64(delay) * base)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, lastErr
}
