package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// OpenError is returned when a call is rejected because the circuit is open.
type OpenError struct{ RetryAfter time.Duration }

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter.Round(100*time.Millisecond))
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// Breaker guards calls to a dependency that may already be down: after
// FailureThreshold consecutive failures it rejects calls fast, then probes
// recovery once RecoveryTimeout elapses. Retries belong inside a
// breaker-protected call, not around it.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	halfOpenCalls int
	openedAt      time.Time
}

func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{cfg: cfg, logger: logger, state: BreakerClosed}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do executes op under breaker protection.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		elapsed := time.Since(b.openedAt)
		if elapsed < b.cfg.RecoveryTimeout {
			return &OpenError{RetryAfter: b.cfg.RecoveryTimeout - elapsed}
		}
		b.logger.Info("circuit breaker entering half-open state")
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case BreakerHalfOpen:
			b.halfOpenCalls++
			if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
				b.logger.Info("circuit breaker closed, dependency recovered")
				b.state = BreakerClosed
				b.failureCount = 0
				b.halfOpenCalls = 0
			}
		case BreakerClosed:
			b.failureCount = 0
		}
		return
	}

	b.failureCount++
	b.openedAt = time.Now()
	if b.state == BreakerHalfOpen || b.failureCount >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			b.logger.Error("circuit breaker opened", "failure_count", b.failureCount)
		}
		b.state = BreakerOpen
	}
}
