package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tip-ledger/internal/adapter"
	"github.com/tip-ledger/internal/types"
)

func TestValidateDay(t *testing.T) {
	f := newReconFixture(t)
	ctx := context.Background()
	v := NewImmutabilityValidator(f.accounts, f.ledger, f.processor, fastRetry())

	base := reconDay.Unix()
	f.processor.AddTransactions(types.PlatformRef(),
		adapter.BalanceTransaction{ID: "txn_1", Currency: "usd", Amount: 500, Net: 500, Created: base + 10},
		adapter.BalanceTransaction{ID: "txn_2", Currency: "usd", Amount: 100, Net: 90, Fee: 10, Created: base + 20},
		adapter.BalanceTransaction{ID: "txn_3", Currency: "usd", Amount: 7, Net: 7, Created: base + 30},
	)

	f.addRows(t, f.platform, netRow("txn_1", 10, 500))
	changed := netRow("txn_2", 20, 100)
	f.addRows(t, f.platform, changed)

	res, err := v.ValidateDay(ctx, f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"txn_3"}, res.Missing)
	assert.Len(t, res.Violations, 2, "net and fee differ")
	assert.Equal(t, reconNow, res.CheckedAt)
}

func TestValidateDay_AllPresent(t *testing.T) {
	f := newReconFixture(t)
	v := NewImmutabilityValidator(f.accounts, f.ledger, f.processor, fastRetry())

	f.processor.AddTransactions(types.PlatformRef(),
		adapter.BalanceTransaction{ID: "txn_1", Currency: "usd", Amount: 500, Net: 500, Created: reconDay.Unix() + 10})
	f.addRows(t, f.platform, netRow("txn_1", 10, 500))

	res, err := v.ValidateDay(context.Background(), f.platform.ID, reconDay, reconNow)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
