package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tip-ledger/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:             "processor",
		MaxFailures:      3,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 2,
	})
	cb.now = clock.now
	return cb
}

var transient = apperrors.NewProviderTimeoutError("stripe")

func fail(ctx context.Context) error { return transient }
func ok(ctx context.Context) error   { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), transient)
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 503, apperrors.GetHTTPStatusCode(err))
}

func TestRejectedRequestsDoNotTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	rejected := apperrors.NewProviderRequestError("stripe", 404, "no such transfer")

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return rejected })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.t = clock.t.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.t = clock.t.Add(2 * time.Minute)

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.True(t, errors.Is(cb.Execute(ctx, ok), ErrCircuitOpen))
}

func TestResetCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}

	cb.Reset()
	stats := cb.GetStats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.TotalCalls)
}
