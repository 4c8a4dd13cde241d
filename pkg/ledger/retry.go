package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// RetryConfig holds configuration for retrying transient storage failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of tries, including the first.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	// Default: 50ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between tries.
	// Default: 2s
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff after each try.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.1
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff < 0 {
		c.InitialBackoff = 0
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		c.JitterFraction = d.JitterFraction
	}
	return c
}

// retryWithBackoff runs operation until it succeeds, fails with a
// non-retryable error, or runs out of attempts. onRetry is called before
// each wait.
func retryWithBackoff(ctx context.Context, config RetryConfig, onRetry func(error), operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(lastErr)
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableError reports whether err is a transient storage failure.
// Domain failures and context errors are never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return core.IsKind(err, core.KindRetryable)
}
