package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// MirrorStore is the analytics mirror as the consistency checker uses it
type MirrorStore interface {
	storage.LedgerMirror
	HistoryReader
}

// ConsistencyChecker verifies the analytics mirror against the ledger for an account-day
// and re-sends the day's rows when they disagree
type ConsistencyChecker struct {
	accounts storage.AccountStore
	ledger   storage.LedgerStore
	mirror   MirrorStore
}

// NewConsistencyChecker creates a new consistency checker
func NewConsistencyChecker(accounts storage.AccountStore, ledger storage.LedgerStore, mirror MirrorStore) *ConsistencyChecker {
	return &ConsistencyChecker{accounts: accounts, ledger: ledger, mirror: mirror}
}

// ConsistencyCheckResult represents the result of a consistency check
type ConsistencyCheckResult struct {
	AccountID       string    `json:"accountId"`
	Day             string    `json:"day"`
	Consistent      bool      `json:"consistent"`
	LedgerCount     int       `json:"ledgerCount"`
	MirrorCount     uint64    `json:"mirrorCount"`
	LedgerNet       int64     `json:"ledgerNet"`
	MirrorNet       int64     `json:"mirrorNet"`
	Inconsistencies []string  `json:"inconsistencies,omitempty"`
	Repaired        bool      `json:"repaired"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// CheckConsistency compares the day's row count and net total in the account currency
func (cc *ConsistencyChecker) CheckConsistency(ctx context.Context, accountID string, day time.Time, now time.Time) (*ConsistencyCheckResult, error) {
	account, err := cc.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	day = types.StartOfDay(day)
	from, to := types.DayWindow(day)
	result := &ConsistencyCheckResult{
		AccountID: account.ID,
		Day:       day.Format(types.DayLayout),
		CheckedAt: now,
	}

	net, count, err := cc.ledger.SumNet(ctx, account.ID, account.Currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}
	result.LedgerNet, result.LedgerCount = net, count

	history, err := cc.mirror.DailyNetHistory(ctx, account.ID, day, day)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}
	for _, h := range history {
		if h.Currency == account.Currency {
			result.MirrorNet += h.Net
			result.MirrorCount += h.TransactionCount
		}
	}

	if uint64(result.LedgerCount) != result.MirrorCount {
		result.Inconsistencies = append(result.Inconsistencies,
			fmt.Sprintf("count mismatch: ledger=%d, mirror=%d", result.LedgerCount, result.MirrorCount))
	}
	if result.LedgerNet != result.MirrorNet {
		result.Inconsistencies = append(result.Inconsistencies,
			fmt.Sprintf("net mismatch: ledger=%d, mirror=%d", result.LedgerNet, result.MirrorNet))
	}
	result.Consistent = len(result.Inconsistencies) == 0
	if result.Consistent {
		return result, nil
	}

	logger := logging.FromContext(ctx).WithAccount(account.ID).WithField("day", result.Day)
	logger.WithField("inconsistencies", result.Inconsistencies).Warn("Mirror out of sync with ledger")

	// the mirror collapses duplicates by id, so re-sending the whole day is safe
	var after models.Cursor
	for {
		rows, err := cc.ledger.ListAfter(ctx, account.ID, from, to, after, storage.DefaultListLimit)
		if err != nil {
			return result, fmt.Errorf("failed to load rows for repair: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		if err := cc.mirror.MirrorTransactions(ctx, rows); err != nil {
			logger.WithError(err).Warn("Mirror repair failed")
			return result, nil
		}
		last := rows[len(rows)-1]
		after = models.Cursor{TS: last.CreatedTS, TxID: last.ID}
		if len(rows) < storage.DefaultListLimit {
			break
		}
	}
	result.Repaired = true
	return result, nil
}
