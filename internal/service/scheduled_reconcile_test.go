package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tip-ledger/internal/adapter"
	"github.com/tip-ledger/internal/job"
	"github.com/tip-ledger/internal/testutil"
	"github.com/tip-ledger/internal/types"
	"github.com/tip-ledger/internal/worker"
)

func newReconcilingScheduler(t *testing.T, f *reconFixture) *worker.Scheduler {
	t.Helper()
	jobs := testutil.NewJobStore()
	w, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Accounts:    f.accounts,
		Jobs:        jobs,
		Ledger:      f.ledger,
		Processor:   f.processor,
		RetryConfig: fastRetry(),
		Clock:       func() time.Time { return reconNow },
	})
	require.NoError(t, err)

	reconcile := func(ctx context.Context, day time.Time, now time.Time) error {
		_, err := f.svc.ReconcileAll(ctx, day, types.ClassAll, 0, now)
		return err
	}
	s, err := worker.NewScheduler(job.NewOrchestrator(f.accounts, jobs), w, reconcile, worker.SchedulerConfig{
		EnqueueInterval:   time.Hour,
		ReconcileInterval: 30 * time.Minute,
		BatchSize:         10,
		AccountClass:      types.ClassAll,
	})
	require.NoError(t, err)
	return s
}

func TestScheduledReconcile_DayRolloverKeepsClosedDay(t *testing.T) {
	f := newReconFixture(t)
	s := newReconcilingScheduler(t, f)
	ctx := context.Background()
	platform := f.platform.ID
	nextDay := reconDay.AddDate(0, 0, 1)

	f.processor.SetBalance(types.PlatformRef(), "usd", 1000, 0)
	res, err := s.Tick(ctx, reconDay.Add(23*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-01"}, res.Reconciled)

	// a charge lands after midnight and the live balance moves with it
	f.processor.AddTransactions(types.PlatformRef(), adapter.BalanceTransaction{
		ID: "txn_after_midnight", Type: "payment", ReportingCategory: types.CategoryCharge,
		Currency: "usd", Amount: 100, Net: 100, Created: nextDay.Add(10 * time.Minute).Unix(),
	})
	f.processor.SetBalance(types.PlatformRef(), "usd", 1100, 0)

	res, err = s.Tick(ctx, nextDay.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, res.EnqueuedDays)
	assert.Equal(t, []string{"2024-03-02"}, res.Reconciled)

	closed, err := f.snapshots.Get(ctx, platform, reconDay)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, int64(1000), closed.OpeningBalance)
	assert.Equal(t, int64(1000), closed.ClosingBalance)
	assert.True(t, closed.Matched)

	current, err := f.snapshots.Get(ctx, platform, nextDay)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, int64(1000), current.OpeningBalance)
	assert.Equal(t, int64(100), current.Delta)
	assert.Equal(t, int64(1100), current.ClosingBalance)
	assert.True(t, current.Matched)

	unmatched, err := f.svc.ListUnmatched(ctx, nextDay)
	require.NoError(t, err)
	assert.Empty(t, unmatched)
}
