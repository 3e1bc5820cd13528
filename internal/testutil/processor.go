package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/tip-ledger/internal/adapter"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/types"
)

// Processor is a scripted in-memory payment processor.
// Transactions are served newest first in pages of PageSize, like the real list endpoint.
type Processor struct {
	mu        sync.Mutex
	txs       map[string][]adapter.BalanceTransaction
	balances  map[string]*adapter.Balance
	transfers map[string]*adapter.Transfer
	failures  map[string]int
	failErr   error
	listCalls map[string]int

	PageSize int
}

// NewProcessor creates an empty processor with a page size of 2
func NewProcessor() *Processor {
	return &Processor{
		txs:       make(map[string][]adapter.BalanceTransaction),
		balances:  make(map[string]*adapter.Balance),
		transfers: make(map[string]*adapter.Transfer),
		failures:  make(map[string]int),
		listCalls: make(map[string]int),
		PageSize:  2,
	}
}

// AddTransactions appends balance transactions to an account's history
func (p *Processor) AddTransactions(account types.AccountRef, txs ...adapter.BalanceTransaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs[account.String()] = append(p.txs[account.String()], txs...)
}

// SetBalance sets the live balance returned for an account
func (p *Processor) SetBalance(account types.AccountRef, currency string, available, pending int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account.String()] = &adapter.Balance{Currency: currency, Available: available, Pending: pending}
}

// AddTransfer registers a transfer that GetTransfer can return
func (p *Processor) AddTransfer(t adapter.Transfer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := t
	p.transfers[t.ID] = &c
}

// FailListing makes the next n list calls for account fail with err; n < 0 fails forever
func (p *Processor) FailListing(account types.AccountRef, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[account.String()] = n
	p.failErr = err
}

// ListCalls returns how many list calls were made for account
func (p *Processor) ListCalls(account types.AccountRef) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls[account.String()]
}

// ListBalanceTransactions serves one page of the window, newest first
func (p *Processor) ListBalanceTransactions(ctx context.Context, req adapter.ListRequest) (*adapter.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := req.Account.String()
	p.listCalls[key]++

	if n := p.failures[key]; n != 0 {
		if n > 0 {
			p.failures[key] = n - 1
		}
		err := p.failErr
		if err == nil {
			err = apperrors.NewProviderTimeoutError(adapter.ProviderName)
		}
		return nil, err
	}

	var window []adapter.BalanceTransaction
	for _, tx := range p.txs[key] {
		if tx.Created >= req.From && tx.Created <= req.To {
			window = append(window, tx)
		}
	}
	sort.Slice(window, func(i, j int) bool {
		if window[i].Created == window[j].Created {
			return window[i].ID > window[j].ID
		}
		return window[i].Created > window[j].Created
	})

	start := 0
	if req.StartingAfter != "" {
		for i, tx := range window {
			if tx.ID == req.StartingAfter {
				start = i + 1
				break
			}
		}
	}

	size := p.PageSize
	if req.Limit > 0 && req.Limit < size {
		size = req.Limit
	}
	end := start + size
	if end > len(window) {
		end = len(window)
	}

	page := &adapter.Page{Data: append([]adapter.BalanceTransaction(nil), window[start:end]...)}
	if end < len(window) {
		page.HasMore = true
		page.NextCursor = window[end-1].ID
	}
	return page, nil
}

// GetBalance returns the configured balance or zero
func (p *Processor) GetBalance(ctx context.Context, account types.AccountRef, currency string) (*adapter.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.balances[account.String()]; ok {
		c := *b
		return &c, nil
	}
	return &adapter.Balance{Currency: currency}, nil
}

// GetTransfer returns a registered transfer
func (p *Processor) GetTransfer(ctx context.Context, transferID string) (*adapter.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.transfers[transferID]
	if !ok {
		return nil, apperrors.NewProviderRequestError(adapter.ProviderName, 404, "No such transfer: "+transferID)
	}
	c := *t
	return &c, nil
}
