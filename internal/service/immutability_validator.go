package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/adapter"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/retry"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

// ImmutabilityValidator re-reads a day of balance transactions from the processor and
// checks every one is in the ledger with unchanged monetary fields
type ImmutabilityValidator struct {
	accounts    storage.AccountStore
	ledger      storage.LedgerStore
	processor   adapter.Processor
	retryConfig *retry.RetryConfig
}

// NewImmutabilityValidator creates a new immutability validator
func NewImmutabilityValidator(accounts storage.AccountStore, ledger storage.LedgerStore, processor adapter.Processor, retryConfig *retry.RetryConfig) *ImmutabilityValidator {
	if retryConfig == nil {
		retryConfig = retry.DefaultRetryConfig()
	}
	return &ImmutabilityValidator{
		accounts:    accounts,
		ledger:      ledger,
		processor:   processor,
		retryConfig: retryConfig,
	}
}

// ValidationResult represents the result of validating one account-day
type ValidationResult struct {
	AccountID  string    `json:"accountId"`
	Day        string    `json:"day"`
	Checked    int       `json:"checked"`
	Missing    []string  `json:"missing,omitempty"`
	Violations []string  `json:"violations,omitempty"`
	Valid      bool      `json:"valid"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// ValidateDay compares the processor's view of day with the stored ledger rows.
// Transactions the ledger skipped as unmapped are reported as missing.
func (v *ImmutabilityValidator) ValidateDay(ctx context.Context, accountID string, day time.Time, now time.Time) (*ValidationResult, error) {
	account, err := v.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	from, to := types.DayWindow(day)
	txs, err := adapter.DrainWindow(ctx, v.processor, adapter.ListRequest{
		Account: account.Ref(),
		From:    from,
		To:      to,
	}, v.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	result := &ValidationResult{
		AccountID: account.ID,
		Day:       types.StartOfDay(day).Format(types.DayLayout),
		Checked:   len(txs),
		Valid:     true,
		CheckedAt: now,
	}

	for i := range txs {
		tx := &txs[i]
		stored, err := v.ledger.GetTransaction(ctx, tx.ID)
		if err != nil {
			if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
				result.Missing = append(result.Missing, tx.ID)
				continue
			}
			return nil, err
		}

		if stored.Amount != tx.Amount {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: amount %d != %d", tx.ID, stored.Amount, tx.Amount))
		}
		if stored.Net != tx.Net {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: net %d != %d", tx.ID, stored.Net, tx.Net))
		}
		if stored.Fee != tx.Fee {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: fee %d != %d", tx.ID, stored.Fee, tx.Fee))
		}
		if stored.Currency != tx.Currency {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: currency %s != %s", tx.ID, stored.Currency, tx.Currency))
		}
		if stored.CreatedTS != tx.Created {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: created %d != %d", tx.ID, stored.CreatedTS, tx.Created))
		}
	}

	result.Valid = len(result.Missing) == 0 && len(result.Violations) == 0
	if !result.Valid {
		logging.FromContext(ctx).WithAccount(account.ID).WithFields(map[string]interface{}{
			"day":        result.Day,
			"missing":    len(result.Missing),
			"violations": len(result.Violations),
		}).Warn("Ledger differs from processor history")
	}
	return result, nil
}
