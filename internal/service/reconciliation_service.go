package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/adapter"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/retry"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// ReconciliationService compares the ledger with the processor's live balance once per
// account and day and records the outcome as a daily snapshot
type ReconciliationService struct {
	accounts    storage.AccountStore
	ledger      storage.LedgerStore
	snapshots   storage.SnapshotStore
	processor   adapter.Processor
	retryConfig *retry.RetryConfig
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	accounts storage.AccountStore,
	ledger storage.LedgerStore,
	snapshots storage.SnapshotStore,
	processor adapter.Processor,
	retryConfig *retry.RetryConfig,
) *ReconciliationService {
	if retryConfig == nil {
		retryConfig = retry.DefaultRetryConfig()
	}
	return &ReconciliationService{
		accounts:    accounts,
		ledger:      ledger,
		snapshots:   snapshots,
		processor:   processor,
		retryConfig: retryConfig,
	}
}

// ReconcileResult is the outcome of reconciling one account for one day.
// Amounts are in minor units; the *Display fields render them in major units.
type ReconcileResult struct {
	AccountID           string `json:"accountId"`
	Account             string `json:"account"`
	Day                 string `json:"day"`
	Currency            string `json:"currency"`
	Opening             int64  `json:"opening"`
	Delta               int64  `json:"delta"`
	Expected            int64  `json:"expected"`
	Live                int64  `json:"live"`
	Matched             bool   `json:"matched"`
	TransactionCount    int    `json:"transactionCount"`
	OpeningBootstrapped bool   `json:"openingBootstrapped,omitempty"`
	Adjustments         int    `json:"adjustments"`
	SkippedReversals    int    `json:"skippedReversals"`
	ExpectedDisplay     string `json:"expectedDisplay"`
	LiveDisplay         string `json:"liveDisplay"`
}

// Reconcile computes expected = opening + Σnet for day and compares it to the live
// balance (available + pending). The snapshot is written whether or not it matches.
// Transfer reversals in the day produce compensating adjustments on the transfer recipient.
func (s *ReconciliationService) Reconcile(ctx context.Context, day time.Time, accountID string, now time.Time) (*ReconcileResult, error) {
	day = types.StartOfDay(day)
	logger := logging.FromContext(ctx).WithAccount(accountID).WithField("day", day.Format(types.DayLayout))

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	currency := account.Currency
	if currency == "" {
		currency = "usd"
	}

	balance, err := s.liveBalance(ctx, account.Ref(), currency)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch live balance: %w", err)
	}
	live := balance.Total()

	from, to := types.DayWindow(day)
	delta, count, err := s.ledger.SumNet(ctx, account.ID, currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	opening, bootstrapped, err := s.openingBalance(ctx, account.ID, day, live, delta)
	if err != nil {
		return nil, err
	}
	if bootstrapped {
		logger.WithFields(map[string]interface{}{
			"live":  live,
			"delta": delta,
		}).Warn("No prior snapshot; opening balance derived from live balance")
	}

	expected := opening + delta
	snap := &models.DailyBalanceSnapshot{
		SnapshotDate:     day,
		AccountID:        account.ID,
		Currency:         currency,
		OpeningBalance:   opening,
		ClosingBalance:   live,
		Delta:            delta,
		LiveAvailable:    balance.Available,
		LivePending:      balance.Pending,
		TransactionCount: count,
		Matched:          expected == live,
	}
	if err := s.snapshots.Upsert(ctx, snap, now); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	result := &ReconcileResult{
		AccountID:           account.ID,
		Account:             account.Ref().String(),
		Day:                 day.Format(types.DayLayout),
		Currency:            currency,
		Opening:             opening,
		Delta:               delta,
		Expected:            expected,
		Live:                live,
		Matched:             snap.Matched,
		TransactionCount:    count,
		OpeningBootstrapped: bootstrapped,
		ExpectedDisplay:     types.FormatMinor(expected, currency),
		LiveDisplay:         types.FormatMinor(live, currency),
	}

	if err := s.compensateReversals(ctx, account, from, to, now, result); err != nil {
		return result, err
	}

	entry := logger.WithFields(map[string]interface{}{
		"expected": result.ExpectedDisplay,
		"live":     result.LiveDisplay,
		"matched":  result.Matched,
	})
	if result.Matched {
		entry.Info("Reconciled account")
	} else {
		entry.Warn("Ledger does not match live balance")
	}
	return result, nil
}

func (s *ReconciliationService) liveBalance(ctx context.Context, ref types.AccountRef, currency string) (*adapter.Balance, error) {
	var balance *adapter.Balance
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		b, err := s.processor.GetBalance(ctx, ref, currency)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// openingBalance keeps an existing snapshot's opening, else carries the prior day's closing
func (s *ReconciliationService) openingBalance(ctx context.Context, accountID string, day time.Time, live, delta int64) (int64, bool, error) {
	existing, err := s.snapshots.Get(ctx, accountID, day)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if existing != nil {
		return existing.OpeningBalance, false, nil
	}

	prior, err := s.snapshots.Get(ctx, accountID, types.PreviousDay(day))
	if err != nil {
		return 0, false, fmt.Errorf("failed to load prior snapshot: %w", err)
	}
	if prior != nil {
		return prior.ClosingBalance, false, nil
	}
	return live - delta, true, nil
}

// compensateReversals writes a negative adjustment against the recipient of every
// transfer reversed during the window
func (s *ReconciliationService) compensateReversals(ctx context.Context, account *models.SyncAccount, from, to int64, now time.Time, result *ReconcileResult) error {
	logger := logging.FromContext(ctx)

	rows, err := s.ledger.ListReversals(ctx, account.ID, from, to)
	if err != nil {
		return fmt.Errorf("failed to list transfer reversals: %w", err)
	}

	for _, row := range rows {
		rowLogger := logger.WithField("reversalTxId", row.ID)

		if row.RelatedTransferID == nil || *row.RelatedTransferID == "" {
			result.SkippedReversals++
			rowLogger.Warn("Transfer reversal without a related transfer; skipping")
			continue
		}

		transfer, err := s.transfer(ctx, *row.RelatedTransferID)
		if err != nil {
			if apperrors.Categorize(err).Category == apperrors.CategoryProviderRequest {
				result.SkippedReversals++
				rowLogger.WithError(err).Warn("Reversed transfer not found; skipping")
				continue
			}
			return fmt.Errorf("failed to fetch transfer %s: %w", *row.RelatedTransferID, err)
		}
		if transfer.Destination == "" {
			result.SkippedReversals++
			rowLogger.Warn("Reversed transfer has no destination; skipping")
			continue
		}

		recipient, err := s.accounts.ResolveInternalAccount(ctx, transfer.Destination)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrAccountNotFound) || apperrors.Is(err, apperrors.ErrAmbiguousAccount) {
				result.SkippedReversals++
				rowLogger.WithError(err).Warn("Transfer recipient not resolvable; skipping")
				continue
			}
			return fmt.Errorf("failed to resolve transfer recipient: %w", err)
		}

		amount := row.Amount
		if amount > 0 {
			amount = -amount
		}
		adj := &models.LedgerAdjustment{
			ReversalTxID: row.ID,
			AccountID:    recipient.ID,
			TransferID:   transfer.ID,
			Currency:     row.Currency,
			Amount:       amount,
			EffectiveTS:  row.CreatedTS,
		}
		if err := s.ledger.UpsertAdjustment(ctx, adj, now); err != nil {
			return fmt.Errorf("failed to write adjustment for %s: %w", row.ID, err)
		}
		result.Adjustments++
	}
	return nil
}

func (s *ReconciliationService) transfer(ctx context.Context, id string) (*adapter.Transfer, error) {
	var transfer *adapter.Transfer
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		t, err := s.processor.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		transfer = t
		return nil
	})
	return transfer, err
}

// AccountFailure records an account that could not be reconciled
type AccountFailure struct {
	AccountID string `json:"accountId"`
	Account   string `json:"account"`
	Error     string `json:"error"`
}

// ReconcileSummary is the outcome of reconciling many accounts for one day
type ReconcileSummary struct {
	Day       string             `json:"day"`
	Accounts  int                `json:"accounts"`
	Matched   int                `json:"matched"`
	Unmatched int                `json:"unmatched"`
	Results   []*ReconcileResult `json:"results"`
	Failures  []AccountFailure   `json:"failures,omitempty"`
}

// ReconcileAll reconciles every selected active account for day.
// One account's failure is recorded and never stops the others.
func (s *ReconciliationService) ReconcileAll(ctx context.Context, day time.Time, class types.AccountClass, limit int, now time.Time) (*ReconcileSummary, error) {
	if limit <= 0 {
		limit = 1000
	}
	accounts, err := s.accounts.ListActive(ctx, class, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	summary := &ReconcileSummary{
		Day:      types.StartOfDay(day).Format(types.DayLayout),
		Accounts: len(accounts),
		Results:  make([]*ReconcileResult, 0, len(accounts)),
	}
	for _, account := range accounts {
		res, err := s.Reconcile(ctx, day, account.ID, now)
		if err != nil {
			summary.Failures = append(summary.Failures, AccountFailure{
				AccountID: account.ID,
				Account:   account.Ref().String(),
				Error:     err.Error(),
			})
			logging.FromContext(ctx).WithAccount(account.ID).WithError(err).Error("Reconciliation failed")
			continue
		}
		summary.Results = append(summary.Results, res)
		if res.Matched {
			summary.Matched++
		} else {
			summary.Unmatched++
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"day":       summary.Day,
		"accounts":  summary.Accounts,
		"matched":   summary.Matched,
		"unmatched": summary.Unmatched,
		"failed":    len(summary.Failures),
	}).Info("Reconciliation pass finished")

	return summary, nil
}

// ListUnmatched returns the day's snapshots that did not match
func (s *ReconciliationService) ListUnmatched(ctx context.Context, day time.Time) ([]*models.DailyBalanceSnapshot, error) {
	return s.snapshots.ListUnmatched(ctx, day)
}
