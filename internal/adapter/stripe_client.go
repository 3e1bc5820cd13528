package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tip-ledger/internal/circuitbreaker"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/ratelimit"
	"github.com/tip-ledger/internal/types"
)

// maxPageSize is the largest page the processor accepts
const maxPageSize = 100

// StripeClient talks to a Stripe-compatible REST API.
// Every request passes the local limiter, the shared budget pacer and the circuit breaker.
type StripeClient struct {
	apiKey   string
	baseURL  string
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
	pacer    *ratelimit.Pacer
	breaker  *circuitbreaker.CircuitBreaker
}

// StripeConfig configures a StripeClient
type StripeConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	PageSize          int
	Pacer             *ratelimit.Pacer // optional cross-process budget
	Breaker           *circuitbreaker.CircuitBreaker
	HTTPClient        *http.Client
}

// NewStripeClient creates a new processor API client
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("processor API key not configured")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("processor base URL not configured")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(ProviderName))
	}

	return &StripeClient{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		client:   httpClient,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		pacer:    cfg.Pacer,
		breaker:  breaker,
	}, nil
}

// stripeList is the list envelope returned by the API
type stripeList struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

type stripeBalanceTransaction struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	ReportingCategory string          `json:"reporting_category"`
	Currency          string          `json:"currency"`
	Amount            int64           `json:"amount"`
	Net               int64           `json:"net"`
	Fee               int64           `json:"fee"`
	Created           int64           `json:"created"`
	Description       *string         `json:"description"`
	Source            json.RawMessage `json:"source"`
}

// stripeSource is the subset of an expanded source object the ledger reads
type stripeSource struct {
	ID          string          `json:"id"`
	Object      string          `json:"object"`
	Transfer    json.RawMessage `json:"transfer"`
	Destination json.RawMessage `json:"destination"`
}

type stripeAmount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type stripeBalance struct {
	Available []stripeAmount `json:"available"`
	Pending   []stripeAmount `json:"pending"`
}

type stripeTransfer struct {
	ID          string          `json:"id"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Destination json.RawMessage `json:"destination"`
	Created     int64           `json:"created"`
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListBalanceTransactions fetches one page of balance transactions, newest first
func (c *StripeClient) ListBalanceTransactions(ctx context.Context, req ListRequest) (*Page, error) {
	if err := req.Account.Validate(); err != nil {
		return nil, apperrors.NewInvalidParameterError("account", err.Error())
	}

	limit := req.Limit
	if limit <= 0 || limit > c.pageSize {
		limit = c.pageSize
	}

	query := url.Values{}
	query.Set("created[gte]", strconv.FormatInt(req.From, 10))
	query.Set("created[lte]", strconv.FormatInt(req.To, 10))
	query.Set("limit", strconv.Itoa(limit))
	query.Add("expand[]", "data.source")
	if req.StartingAfter != "" {
		query.Set("starting_after", req.StartingAfter)
	}

	body, err := c.doRequest(ctx, "/v1/balance_transactions", query, req.Account)
	if err != nil {
		return nil, err
	}

	var list stripeList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, apperrors.NewProviderError(ProviderName, fmt.Errorf("failed to parse balance transactions: %w", err))
	}

	page := &Page{
		Data:    make([]BalanceTransaction, 0, len(list.Data)),
		HasMore: list.HasMore,
	}
	for _, raw := range list.Data {
		tx, err := convertBalanceTransaction(raw)
		if err != nil {
			return nil, apperrors.NewProviderError(ProviderName, err)
		}
		page.Data = append(page.Data, tx)
	}
	if page.HasMore && len(page.Data) > 0 {
		page.NextCursor = page.Data[len(page.Data)-1].ID
	}

	return page, nil
}

// GetBalance fetches the live balance and sums the entries in currency
func (c *StripeClient) GetBalance(ctx context.Context, account types.AccountRef, currency string) (*Balance, error) {
	if err := account.Validate(); err != nil {
		return nil, apperrors.NewInvalidParameterError("account", err.Error())
	}

	body, err := c.doRequest(ctx, "/v1/balance", nil, account)
	if err != nil {
		return nil, err
	}

	var raw stripeBalance
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(ProviderName, fmt.Errorf("failed to parse balance: %w", err))
	}

	currency = strings.ToLower(currency)
	balance := &Balance{Currency: currency}
	for _, a := range raw.Available {
		if strings.EqualFold(a.Currency, currency) {
			balance.Available += a.Amount
		}
	}
	for _, p := range raw.Pending {
		if strings.EqualFold(p.Currency, currency) {
			balance.Pending += p.Amount
		}
	}
	return balance, nil
}

// GetTransfer fetches a transfer made by the platform account
func (c *StripeClient) GetTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	if transferID == "" {
		return nil, apperrors.NewInvalidParameterError("transferId", "required")
	}

	body, err := c.doRequest(ctx, "/v1/transfers/"+url.PathEscape(transferID), nil, types.PlatformRef())
	if err != nil {
		return nil, err
	}

	var raw stripeTransfer
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(ProviderName, fmt.Errorf("failed to parse transfer: %w", err))
	}

	return &Transfer{
		ID:          raw.ID,
		Amount:      raw.Amount,
		Currency:    raw.Currency,
		Destination: expandableID(raw.Destination),
		Created:     raw.Created,
	}, nil
}

// convertBalanceTransaction maps the wire shape to the adapter type, keeping the raw payload
func convertBalanceTransaction(raw json.RawMessage) (BalanceTransaction, error) {
	var bt stripeBalanceTransaction
	if err := json.Unmarshal(raw, &bt); err != nil {
		return BalanceTransaction{}, fmt.Errorf("failed to parse balance transaction: %w", err)
	}
	if bt.ID == "" {
		return BalanceTransaction{}, fmt.Errorf("balance transaction without id")
	}

	tx := BalanceTransaction{
		ID:                bt.ID,
		Type:              bt.Type,
		ReportingCategory: bt.ReportingCategory,
		Currency:          strings.ToLower(bt.Currency),
		Amount:            bt.Amount,
		Net:               bt.Net,
		Fee:               bt.Fee,
		Created:           bt.Created,
		Raw:               raw,
	}
	if bt.Description != nil {
		tx.Description = *bt.Description
	}

	// source is either an id string or an expanded object
	if len(bt.Source) > 0 && bt.Source[0] == '{' {
		var src stripeSource
		if err := json.Unmarshal(bt.Source, &src); err != nil {
			return BalanceTransaction{}, fmt.Errorf("failed to parse source of %s: %w", bt.ID, err)
		}
		tx.SourceID = src.ID
		tx.SourceTransferID = expandableID(src.Transfer)
		tx.SourceDestination = expandableID(src.Destination)
		if src.Object == "transfer" && tx.SourceTransferID == "" {
			tx.SourceTransferID = src.ID
		}
	} else {
		tx.SourceID = expandableID(bt.Source)
	}

	return tx, nil
}

// expandableID reads an expandable field that is either "id" or {"id": ...}
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// doRequest performs a GET through the limiter, budget and breaker and maps failures to categorized errors
func (c *StripeClient) doRequest(ctx context.Context, path string, query url.Values, account types.AccountRef) ([]byte, error) {
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				if errors.Is(err, ratelimit.ErrBudgetWaitExceeded) {
					return apperrors.NewProviderRateLimitError(ProviderName)
				}
				if ctx.Err() != nil {
					return err
				}
				// budget store unavailable; proceed on the local limiter alone
				logging.FromContext(ctx).WithError(err).Warn("Processor budget check failed")
			}
		}

		var err error
		body, err = c.send(ctx, path, query, account)
		return err
	})
	return body, err
}

func (c *StripeClient) send(ctx context.Context, path string, query url.Values, account types.AccountRef) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if account.Kind.IsConnected() {
		req.Header.Set("Stripe-Account", account.ProcessorAccountID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			timeoutErr := apperrors.NewProviderTimeoutError(ProviderName)
			timeoutErr.Cause = err
			return nil, timeoutErr
		}
		return nil, apperrors.NewProviderError(ProviderName, fmt.Errorf("failed to make request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(ProviderName, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		rateErr := apperrors.NewProviderRateLimitError(ProviderName)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				rateErr.Details["retryAfter"] = seconds
			}
		}
		return nil, rateErr
	case resp.StatusCode >= 500:
		return nil, apperrors.NewProviderError(ProviderName,
			fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(body)))
	default:
		return nil, apperrors.NewProviderRequestError(ProviderName, resp.StatusCode, errorMessage(body))
	}
}

func errorMessage(body []byte) string {
	var e stripeErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
