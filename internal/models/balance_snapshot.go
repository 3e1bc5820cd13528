package models

import (
	"time"
)

// DailyBalanceSnapshot records one reconciliation outcome per account per day.
// Opening is fixed when the row is first written; later passes overwrite the rest.
type DailyBalanceSnapshot struct {
	SnapshotDate     time.Time `json:"snapshotDate" db:"snapshot_date"`
	AccountID        string    `json:"accountId" db:"account_id"`
	Currency         string    `json:"currency" db:"currency"`
	OpeningBalance   int64     `json:"openingBalance" db:"opening_balance"`
	ClosingBalance   int64     `json:"closingBalance" db:"closing_balance"` // live balance at reconcile time
	Delta            int64     `json:"delta" db:"delta"`
	LiveAvailable    int64     `json:"liveAvailable" db:"live_available"`
	LivePending      int64     `json:"livePending" db:"live_pending"`
	TransactionCount int       `json:"transactionCount" db:"transaction_count"`
	Matched          bool      `json:"matched" db:"matched"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// Expected returns opening plus the day's ledger delta
func (s *DailyBalanceSnapshot) Expected() int64 {
	return s.OpeningBalance + s.Delta
}
