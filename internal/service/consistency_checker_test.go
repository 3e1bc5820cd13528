package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// memoryMirror aggregates mirrored rows the way the ClickHouse table does
type memoryMirror struct {
	rows map[string]*models.LedgerTransaction
	err  error
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{rows: make(map[string]*models.LedgerTransaction)}
}

func (m *memoryMirror) MirrorTransactions(ctx context.Context, txs []*models.LedgerTransaction) error {
	if m.err != nil {
		return m.err
	}
	for _, tx := range txs {
		m.rows[tx.ID] = tx
	}
	return nil
}

func (m *memoryMirror) DailyNetHistory(ctx context.Context, accountID string, from, to time.Time) ([]storage.DailyNet, error) {
	byCurrency := make(map[string]*storage.DailyNet)
	for _, tx := range m.rows {
		day := types.StartOfDay(time.Unix(tx.CreatedTS, 0))
		if tx.AccountID != accountID || day.Before(from) || day.After(to) {
			continue
		}
		d, ok := byCurrency[tx.Currency]
		if !ok {
			d = &storage.DailyNet{Day: day, Currency: tx.Currency}
			byCurrency[tx.Currency] = d
		}
		d.Net += tx.Net
		d.Fees += tx.Fee
		d.TransactionCount++
	}
	var out []storage.DailyNet
	for _, d := range byCurrency {
		out = append(out, *d)
	}
	return out, nil
}

func TestCheckConsistency_Consistent(t *testing.T) {
	f := newReconFixture(t)
	ctx := context.Background()
	mirror := newMemoryMirror()

	rows := []*models.LedgerTransaction{netRow("txn_1", 10, 500), netRow("txn_2", 20, -200)}
	f.addRows(t, f.platform, rows...)
	require.NoError(t, mirror.MirrorTransactions(ctx, rows))

	cc := NewConsistencyChecker(f.accounts, f.ledger, mirror)
	res, err := cc.CheckConsistency(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.False(t, res.Repaired)
	assert.Equal(t, int64(300), res.LedgerNet)
	assert.Equal(t, uint64(2), res.MirrorCount)
}

func TestCheckConsistency_RepairsMissingRows(t *testing.T) {
	f := newReconFixture(t)
	ctx := context.Background()
	mirror := newMemoryMirror()

	rows := []*models.LedgerTransaction{netRow("txn_1", 10, 500), netRow("txn_2", 20, -200)}
	f.addRows(t, f.platform, rows...)
	require.NoError(t, mirror.MirrorTransactions(ctx, rows[:1]))

	cc := NewConsistencyChecker(f.accounts, f.ledger, mirror)
	res, err := cc.CheckConsistency(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	assert.Len(t, res.Inconsistencies, 2)
	assert.True(t, res.Repaired)

	res, err = cc.CheckConsistency(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.True(t, res.Consistent)
}

func TestCheckConsistency_RepairFailureReported(t *testing.T) {
	f := newReconFixture(t)
	mirror := newMemoryMirror()
	f.addRows(t, f.platform, netRow("txn_1", 10, 500))
	mirror.err = assert.AnError

	cc := NewConsistencyChecker(f.accounts, f.ledger, mirror)
	res, err := cc.CheckConsistency(context.Background(), f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	assert.False(t, res.Repaired)
}

func TestCheckConsistency_RepairPagesThroughBusyDay(t *testing.T) {
	f := newReconFixture(t)
	ctx := context.Background()
	mirror := newMemoryMirror()

	total := storage.DefaultListLimit*2 + 17
	rows := make([]*models.LedgerTransaction, 0, total)
	for i := 0; i < total; i++ {
		rows = append(rows, netRow(fmt.Sprintf("txn_%05d", i), int64(1+i%40), 3))
	}
	f.addRows(t, f.platform, rows...)

	cc := NewConsistencyChecker(f.accounts, f.ledger, mirror)
	res, err := cc.CheckConsistency(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.Len(t, mirror.rows, total)

	res, err = cc.CheckConsistency(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.Equal(t, int64(3*total), res.MirrorNet)
}
