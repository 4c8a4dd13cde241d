package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}.normalized()
}

func TestRetryWithBackoff_RetriesTransient(t *testing.T) {
	calls, retries := 0, 0
	err := retryWithBackoff(context.Background(), fastRetry(4), func(error) { retries++ }, func() error {
		calls++
		if calls < 3 {
			return core.NewError(core.KindRetryable, "storage.tx", "database is locked", nil)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryWithBackoff_GivesUp(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), nil, func() error {
		calls++
		return core.NewError(core.KindRetryable, "storage.tx", "serialization failure", nil)
	})
	assert.ErrorIs(t, err, core.ErrRetryable)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_DomainErrorsNotRetried(t *testing.T) {
	for _, kind := range []core.Kind{core.KindDuplicateActive, core.KindNotFound, core.KindSequenceViolation, core.KindConstraintViolation} {
		t.Run(string(kind), func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastRetry(5), nil, func() error {
				calls++
				return core.NewError(kind, "ledger.start", "rejected", nil)
			})
			assert.True(t, core.IsKind(err, kind))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWithBackoff(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}.normalized(), nil, func() error {
		calls++
		cancel()
		return core.NewError(core.KindRetryable, "storage.tx", "busy", nil)
	})
	assert.ErrorIs(t, err, core.ErrRetryable)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("plain")))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(core.NewError(core.KindRetryable, "x", "", context.DeadlineExceeded)))
	assert.True(t, IsRetryableError(fmt.Errorf("wrapped: %w", core.NewError(core.KindRetryable, "x", "", nil))))
}

func TestRetryConfig_Normalized(t *testing.T) {
	c := RetryConfig{MaxAttempts: 0, InitialBackoff: -1, BackoffMultiplier: 0.5, JitterFraction: 3}.normalized()
	assert.Equal(t, 1, c.MaxAttempts)
	assert.Equal(t, time.Duration(0), c.InitialBackoff)
	assert.Equal(t, 2.0, c.BackoffMultiplier)
	assert.Equal(t, 0.1, c.JitterFraction)
}
