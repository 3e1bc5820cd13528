package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func quietContext() context.Context {
	return logging.WithLogger(context.Background(), logging.Discard())
}

func TestRetriesTransientProviderErrors(t *testing.T) {
	calls := 0
	err := Do(quietContext(), fastConfig(4), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return apperrors.NewProviderTimeoutError("stripe")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(quietContext(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return apperrors.NewProviderRequestError("stripe", 400, "no such account")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	boom := apperrors.NewProviderError("stripe", errors.New("503"))
	err := Do(quietContext(), fastConfig(3), func(ctx context.Context, attempt int) error {
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestCustomShouldRetry(t *testing.T) {
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(error) bool { return true }

	calls := 0
	_ = Do(quietContext(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("plain")
	})
	assert.Equal(t, 3, calls)
}

func TestCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(quietContext())
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		return apperrors.NewProviderTimeoutError("stripe")
	})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 3*time.Second, calculateDelay(cfg, 3))
}
