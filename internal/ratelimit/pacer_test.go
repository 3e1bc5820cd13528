package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerAdmitsWithinBudget(t *testing.T) {
	budget, _ := setupTestBudget(t, 10, 0.5)
	pacer, err := NewPacer(&PacerConfig{Budget: budget})
	require.NoError(t, err)

	ctx := WithPriority(context.Background(), PriorityHigh)
	for i := 0; i < 5; i++ {
		require.NoError(t, pacer.Wait(ctx))
	}
	assert.Equal(t, DefaultBaseDelay, pacer.CurrentDelay())
}

func TestPacerGivesUpAfterMaxWait(t *testing.T) {
	budget, _ := setupTestBudget(t, 2, 0.5)
	pacer, err := NewPacer(&PacerConfig{
		Budget:    budget,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
		MaxWait:   20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pacer.Wait(ctx))

	// the fixed clock never reaches the next window, so the suggested wait is ~50s
	err = pacer.Wait(ctx)
	assert.ErrorIs(t, err, ErrBudgetWaitExceeded)
}

func TestPacerHonoursCancellation(t *testing.T) {
	budget, _ := setupTestBudget(t, 2, 0.5)
	pacer, err := NewPacer(&PacerConfig{Budget: budget})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pacer.Wait(ctx), context.Canceled)
}

func TestNewPacerValidation(t *testing.T) {
	_, err := NewPacer(nil)
	assert.Error(t, err)

	budget, _ := setupTestBudget(t, 2, 0.5)
	_, err = NewPacer(&PacerConfig{Budget: budget, BaseDelay: time.Second, MaxDelay: time.Millisecond})
	assert.Error(t, err)
}
