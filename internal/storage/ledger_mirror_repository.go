package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tip-ledger/internal/models"
)

// DailyNet is one day's ledger movement for an account as seen by the analytics mirror
type DailyNet struct {
	Day              time.Time `json:"day"`
	Currency         string    `json:"currency"`
	Net              int64     `json:"net"`
	Fees             int64     `json:"fees"`
	TransactionCount uint64    `json:"transactionCount"`
}

// LedgerMirrorRepository copies ledger rows into ClickHouse for reporting.
// The table is a ReplacingMergeTree keyed by transaction id, so re-sent rows collapse.
type LedgerMirrorRepository struct {
	db *ClickHouseDB
}

// NewLedgerMirrorRepository creates a new ledger mirror repository
func NewLedgerMirrorRepository(db *ClickHouseDB) *LedgerMirrorRepository {
	return &LedgerMirrorRepository{db: db}
}

// MirrorTransactions appends rows to the mirror in one batch
func (r *LedgerMirrorRepository) MirrorTransactions(ctx context.Context, txs []*models.LedgerTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ledger_transactions_mirror (
			id, account_id, account_kind, type, reporting_category,
			currency, amount, net, fee, created_at, version
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	version := uint64(time.Now().UnixNano())
	for _, tx := range txs {
		err := batch.Append(
			tx.ID,
			tx.AccountID,
			string(tx.AccountKind),
			tx.Type,
			tx.ReportingCategory,
			tx.Currency,
			tx.Amount,
			tx.Net,
			tx.Fee,
			time.Unix(tx.CreatedTS, 0).UTC(),
			version,
		)
		if err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// DailyNetHistory aggregates an account's mirrored rows per day between two days inclusive
func (r *LedgerMirrorRepository) DailyNetHistory(ctx context.Context, accountID string, from, to time.Time) ([]DailyNet, error) {
	query := `
		SELECT toDate(created_at) AS day, currency, sum(net), sum(fee), count()
		FROM ledger_transactions_mirror FINAL
		WHERE account_id = ? AND toDate(created_at) >= toDate(?) AND toDate(created_at) <= toDate(?)
		GROUP BY day, currency
		ORDER BY day ASC, currency ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily net history: %w", err)
	}
	defer rows.Close()

	var history []DailyNet
	for rows.Next() {
		var d DailyNet
		if err := rows.Scan(&d.Day, &d.Currency, &d.Net, &d.Fees, &d.TransactionCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily net: %w", err)
		}
		history = append(history, d)
	}

	return history, rows.Err()
}
