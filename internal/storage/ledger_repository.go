package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

const ledgerColumns = `
	id, account_id, account_kind, processor_account_id, type, reporting_category,
	currency, amount, net, fee, source_id, related_transfer_id, description,
	created_ts, raw, ingested_at, updated_at`

// LedgerRepository handles ledger transactions and adjustments
type LedgerRepository struct {
	db *PostgresDB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *PostgresDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func scanLedgerTransaction(row pgx.Row) (*models.LedgerTransaction, error) {
	var t models.LedgerTransaction
	var raw []byte
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.AccountKind,
		&t.ProcessorAccountID,
		&t.Type,
		&t.ReportingCategory,
		&t.Currency,
		&t.Amount,
		&t.Net,
		&t.Fee,
		&t.SourceID,
		&t.RelatedTransferID,
		&t.Description,
		&t.CreatedTS,
		&raw,
		&t.IngestedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Raw = raw
	return &t, nil
}

// UpsertTransactions writes rows keyed by processor transaction id.
// On conflict only annotations are refreshed; owner and monetary columns keep their first values.
// The rows are written in one transaction.
func (r *LedgerRepository) UpsertTransactions(ctx context.Context, txs []*models.LedgerTransaction, now time.Time) error {
	if len(txs) == 0 {
		return nil
	}

	query := `
		INSERT INTO ledger_transactions (
			id, account_id, account_kind, processor_account_id, type, reporting_category,
			currency, amount, net, fee, source_id, related_transfer_id, description,
			created_ts, raw, ingested_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (id) DO UPDATE SET
			related_transfer_id = COALESCE(EXCLUDED.related_transfer_id, ledger_transactions.related_transfer_id),
			description = EXCLUDED.description,
			raw = EXCLUDED.raw,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, tx := range txs {
		var raw interface{}
		if len(tx.Raw) > 0 {
			raw = []byte(tx.Raw)
		}
		batch.Queue(query,
			tx.ID,
			tx.AccountID,
			tx.AccountKind,
			tx.ProcessorAccountID,
			tx.Type,
			tx.ReportingCategory,
			tx.Currency,
			tx.Amount,
			tx.Net,
			tx.Fee,
			tx.SourceID,
			tx.RelatedTransferID,
			tx.Description,
			tx.CreatedTS,
			raw,
			now,
		)
	}

	// a page is persisted whole or not at all
	return r.db.InTx(ctx, func(dbtx pgx.Tx) error {
		results := dbtx.SendBatch(ctx, batch)
		for _, tx := range txs {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return apperrors.NewDatabaseError(fmt.Sprintf("upsert ledger transaction %s", tx.ID), err)
			}
		}
		if err := results.Close(); err != nil {
			return apperrors.NewDatabaseError("upsert ledger transactions", err)
		}
		return nil
	})
}

// GetTransaction retrieves one ledger row by processor transaction id
func (r *LedgerRepository) GetTransaction(ctx context.Context, id string) (*models.LedgerTransaction, error) {
	tx, err := scanLedgerTransaction(r.db.Pool().QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("transaction", id)
		}
		return nil, apperrors.NewDatabaseError("get ledger transaction", err)
	}
	return tx, nil
}

// ListForAccount returns an account's rows in [from, to], oldest first
func (r *LedgerRepository) ListForAccount(ctx context.Context, accountID string, from, to int64, limit int) ([]*models.LedgerTransaction, error) {
	return r.ListAfter(ctx, accountID, from, to, models.Cursor{}, limit)
}

// ListAfter pages an account's rows in [from, to] by (created_ts, id)
func (r *LedgerRepository) ListAfter(ctx context.Context, accountID string, from, to int64, after models.Cursor, limit int) ([]*models.LedgerTransaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return r.queryLedger(ctx, "list ledger transactions", `SELECT `+ledgerColumns+`
		FROM ledger_transactions
		WHERE account_id = $1 AND created_ts BETWEEN $2 AND $3
			AND (created_ts, id) > ($4, $5)
		ORDER BY created_ts, id
		LIMIT $6`, accountID, from, to, after.TS, after.TxID, limit)
}

// ListReversals returns all of an account's transfer reversals in [from, to]
func (r *LedgerRepository) ListReversals(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerTransaction, error) {
	return r.queryLedger(ctx, "list transfer reversals", `SELECT `+ledgerColumns+`
		FROM ledger_transactions
		WHERE reporting_category = $1 AND created_ts BETWEEN $2 AND $3
			AND account_id = $4
		ORDER BY created_ts, id`, types.CategoryTransferReversal, from, to, accountID)
}

func (r *LedgerRepository) queryLedger(ctx context.Context, op, query string, args ...interface{}) ([]*models.LedgerTransaction, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var txs []*models.LedgerTransaction
	for rows.Next() {
		tx, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan ledger transaction", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	return txs, nil
}

// SumNet totals the account's net amounts in currency over [from, to]
func (r *LedgerRepository) SumNet(ctx context.Context, accountID, currency string, from, to int64) (int64, int, error) {
	var sum int64
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(net), 0)::BIGINT, COUNT(*)
		FROM ledger_transactions
		WHERE account_id = $1 AND currency = $2 AND created_ts BETWEEN $3 AND $4
	`, accountID, currency, from, to).Scan(&sum, &count)
	if err != nil {
		return 0, 0, apperrors.NewDatabaseError("sum ledger net", err)
	}
	return sum, count, nil
}

// UpsertAdjustment writes a compensating entry keyed by its reversal transaction
func (r *LedgerRepository) UpsertAdjustment(ctx context.Context, adj *models.LedgerAdjustment, now time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO ledger_adjustments (
			reversal_tx_id, account_id, transfer_id, currency, amount, effective_ts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (reversal_tx_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			transfer_id = EXCLUDED.transfer_id,
			currency = EXCLUDED.currency,
			amount = EXCLUDED.amount,
			effective_ts = EXCLUDED.effective_ts,
			updated_at = EXCLUDED.updated_at
	`, adj.ReversalTxID, adj.AccountID, adj.TransferID, adj.Currency, adj.Amount, adj.EffectiveTS, now)
	if err != nil {
		return apperrors.NewDatabaseError("upsert ledger adjustment", err)
	}
	return nil
}

// ListAdjustments returns an account's adjustments effective in [from, to]
func (r *LedgerRepository) ListAdjustments(ctx context.Context, accountID string, from, to int64) ([]*models.LedgerAdjustment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT reversal_tx_id, account_id, transfer_id, currency, amount, effective_ts, created_at, updated_at
		FROM ledger_adjustments
		WHERE account_id = $1 AND effective_ts BETWEEN $2 AND $3
		ORDER BY effective_ts, reversal_tx_id
	`, accountID, from, to)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list ledger adjustments", err)
	}
	defer rows.Close()

	var adjustments []*models.LedgerAdjustment
	for rows.Next() {
		var a models.LedgerAdjustment
		if err := rows.Scan(&a.ReversalTxID, &a.AccountID, &a.TransferID, &a.Currency,
			&a.Amount, &a.EffectiveTS, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan ledger adjustment", err)
		}
		adjustments = append(adjustments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list ledger adjustments", err)
	}
	return adjustments, nil
}
