package models

import (
	"encoding/json"
	"time"

	"github.com/tip-ledger/internal/types"
)

// LedgerTransaction is a persisted processor balance transaction.
// ID is the processor's transaction id; monetary fields never change after the first write.
type LedgerTransaction struct {
	ID                 string            `json:"id" db:"id"`
	AccountID          string            `json:"accountId" db:"account_id"`
	AccountKind        types.AccountKind `json:"accountKind" db:"account_kind"`
	ProcessorAccountID *string           `json:"processorAccountId,omitempty" db:"processor_account_id"`
	Type               string            `json:"type" db:"type"`
	ReportingCategory  string            `json:"reportingCategory" db:"reporting_category"`
	Currency           string            `json:"currency" db:"currency"`
	Amount             int64             `json:"amount" db:"amount"` // gross, minor units
	Net                int64             `json:"net" db:"net"`
	Fee                int64             `json:"fee" db:"fee"`
	SourceID           *string           `json:"sourceId,omitempty" db:"source_id"`
	RelatedTransferID  *string           `json:"relatedTransferId,omitempty" db:"related_transfer_id"`
	Description        *string           `json:"description,omitempty" db:"description"`
	CreatedTS          int64             `json:"createdTs" db:"created_ts"`
	Raw                json.RawMessage   `json:"raw,omitempty" db:"raw"`
	IngestedAt         time.Time         `json:"ingestedAt" db:"ingested_at"`
	UpdatedAt          time.Time         `json:"updatedAt" db:"updated_at"`
}

// IsTransferReversal reports whether the row reverses an earlier transfer
func (t *LedgerTransaction) IsTransferReversal() bool {
	return t.ReportingCategory == types.CategoryTransferReversal
}

// LedgerAdjustment is a compensating entry derived by reconciliation.
// It is keyed by the reversal transaction that caused it.
type LedgerAdjustment struct {
	ReversalTxID string    `json:"reversalTxId" db:"reversal_tx_id"`
	AccountID    string    `json:"accountId" db:"account_id"` // recipient of the original transfer
	TransferID   string    `json:"transferId" db:"transfer_id"`
	Currency     string    `json:"currency" db:"currency"`
	Amount       int64     `json:"amount" db:"amount"` // always negative
	EffectiveTS  int64     `json:"effectiveTs" db:"effective_ts"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
