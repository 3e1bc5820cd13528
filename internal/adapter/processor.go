package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/retry"
	"github.com/tip-ledger/internal/types"
)

// ProviderName identifies the payment processor in errors and logs
const ProviderName = "stripe"

// Processor defines the read-only view of the payment processor the engine needs
type Processor interface {
	// ListBalanceTransactions returns one page of balance transactions for an account and window.
	// Returns a provider-category error if the request fails
	ListBalanceTransactions(ctx context.Context, req ListRequest) (*Page, error)

	// GetBalance returns the live balance of an account in one currency
	GetBalance(ctx context.Context, account types.AccountRef, currency string) (*Balance, error)

	// GetTransfer retrieves a platform transfer by id
	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
}

// ListRequest selects one page of an account's balance transactions.
// From and To are inclusive unix seconds.
type ListRequest struct {
	Account       types.AccountRef
	From          int64
	To            int64
	Limit         int
	StartingAfter string // opaque continuation token from the previous page
}

// BalanceTransaction is a processor balance transaction with its source expanded
type BalanceTransaction struct {
	ID                string
	Type              string
	ReportingCategory string
	Currency          string
	Amount            int64
	Net               int64
	Fee               int64
	Created           int64
	Description       string
	SourceID          string
	// SourceTransferID is the transfer a reversal source points back to
	SourceTransferID string
	// SourceDestination is the connected account a transfer source pays
	SourceDestination string
	Raw               json.RawMessage
}

// Page is one page of a list call
type Page struct {
	Data       []BalanceTransaction
	HasMore    bool
	NextCursor string
}

// Balance is the live balance of an account in one currency
type Balance struct {
	Currency  string
	Available int64
	Pending   int64
}

// Total returns available plus pending
func (b *Balance) Total() int64 {
	return b.Available + b.Pending
}

// Transfer is a platform to connected account transfer
type Transfer struct {
	ID          string
	Amount      int64
	Currency    string
	Destination string
	Created     int64
}

// DrainWindow fetches every page of req, retrying each page call on retryable errors.
// A page that reports more data without a continuation token fails the whole drain.
func DrainWindow(ctx context.Context, p Processor, req ListRequest, retryCfg *retry.RetryConfig) ([]BalanceTransaction, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account": req.Account.String(),
		"from":    req.From,
		"to":      req.To,
	})
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}

	var all []BalanceTransaction
	seen := make(map[string]struct{})
	pages := 0

	for {
		var page *Page
		err := retry.Do(ctx, retryCfg, func(ctx context.Context, attempt int) error {
			var err error
			page, err = p.ListBalanceTransactions(ctx, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", pages+1, err)
		}
		pages++

		all = append(all, page.Data...)

		if !page.HasMore {
			break
		}
		if page.NextCursor == "" {
			return nil, apperrors.NewIncompletePageError(ProviderName)
		}
		if _, dup := seen[page.NextCursor]; dup {
			return nil, apperrors.NewIncompletePageError(ProviderName)
		}
		seen[page.NextCursor] = struct{}{}
		req.StartingAfter = page.NextCursor
	}

	logger.WithFields(map[string]interface{}{
		"pages":        pages,
		"transactions": len(all),
	}).Debug("Drained processor window")

	return all, nil
}
