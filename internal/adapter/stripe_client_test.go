package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tip-ledger/internal/circuitbreaker"
	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewStripeClient(StripeConfig{
		APIKey:            "sk_test_123",
		BaseURL:           server.URL,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		PageSize:          2,
	})
	require.NoError(t, err)
	return client
}

func TestNewStripeClientValidation(t *testing.T) {
	_, err := NewStripeClient(StripeConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)

	_, err = NewStripeClient(StripeConfig{APIKey: "sk_test"})
	assert.Error(t, err)
}

func TestListBalanceTransactions_ConnectedAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance_transactions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "acct_A", r.Header.Get("Stripe-Account"))

		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("created[gte]"))
		assert.Equal(t, "200", q.Get("created[lte]"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "data.source", q.Get("expand[]"))
		assert.Equal(t, "txn_prev", q.Get("starting_after"))

		_, _ = fmt.Fprint(w, `{
			"object": "list",
			"has_more": true,
			"data": [
				{"id": "txn_2", "type": "payment", "reporting_category": "charge", "currency": "USD",
				 "amount": 500, "net": 470, "fee": 30, "created": 150, "description": "tip", "source": "py_1"},
				{"id": "txn_1", "type": "payment", "reporting_category": "charge", "currency": "usd",
				 "amount": 200, "net": 200, "fee": 0, "created": 120, "description": null, "source": null}
			]
		}`)
	})

	page, err := client.ListBalanceTransactions(context.Background(), ListRequest{
		Account:       types.ConnectedRef(types.KindEarner, "acct_A"),
		From:          100,
		To:            200,
		StartingAfter: "txn_prev",
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "txn_1", page.NextCursor)

	first := page.Data[0]
	assert.Equal(t, "usd", first.Currency)
	assert.Equal(t, int64(470), first.Net)
	assert.Equal(t, "py_1", first.SourceID)
	assert.Equal(t, "tip", first.Description)
	assert.NotEmpty(t, first.Raw)
	assert.Empty(t, page.Data[1].SourceID)
}

func TestListBalanceTransactions_PlatformHasNoAccountHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Stripe-Account"))
		assert.Empty(t, r.URL.Query().Get("starting_after"))
		_, _ = fmt.Fprint(w, `{"has_more": false, "data": []}`)
	})

	page, err := client.ListBalanceTransactions(context.Background(), ListRequest{Account: types.PlatformRef(), From: 0, To: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestListBalanceTransactions_ExpandedReversalSource(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"has_more": false, "data": [
			{"id": "txn_rev", "type": "transfer_refund", "reporting_category": "transfer_reversal",
			 "currency": "usd", "amount": 1000, "net": 1000, "fee": 0, "created": 300,
			 "source": {"id": "trr_1", "object": "transfer_reversal", "transfer": "tr_1"}},
			{"id": "txn_tr", "type": "transfer", "reporting_category": "transfer",
			 "currency": "usd", "amount": -1000, "net": -1000, "fee": 0, "created": 200,
			 "source": {"id": "tr_1", "object": "transfer", "destination": {"id": "acct_A"}}}
		]}`)
	})

	page, err := client.ListBalanceTransactions(context.Background(), ListRequest{Account: types.PlatformRef(), To: 400})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)

	rev := page.Data[0]
	assert.Equal(t, "trr_1", rev.SourceID)
	assert.Equal(t, "tr_1", rev.SourceTransferID)

	tr := page.Data[1]
	assert.Equal(t, "tr_1", tr.SourceTransferID)
	assert.Equal(t, "acct_A", tr.SourceDestination)
}

func TestListBalanceTransactions_InvalidAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})

	_, err := client.ListBalanceTransactions(context.Background(), ListRequest{Account: types.AccountRef{Kind: types.KindEarner}})
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.Categorize(err).Category)
}

func TestStripeClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, "PROVIDER_RATE_LIMIT", true},
		{"server error", http.StatusBadGateway, `oops`, "PROVIDER_ERROR", true},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "No such account"}}`, "PROVIDER_REQUEST_REJECTED", false},
		{"unauthorized", http.StatusUnauthorized, `{"error": {"message": "Invalid API Key"}}`, "PROVIDER_REQUEST_REJECTED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			})

			_, err := client.GetBalance(context.Background(), types.PlatformRef(), "usd")
			require.Error(t, err)

			catErr := apperrors.Categorize(err)
			assert.Equal(t, tt.code, catErr.Code)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestStripeClient_RejectionMessageKept(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "No such transfer: 'tr_x'"}}`)
	})

	_, err := client.GetTransfer(context.Background(), "tr_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such transfer")
}

func TestGetBalance_SumsCurrency(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance", r.URL.Path)
		assert.Equal(t, "acct_B", r.Header.Get("Stripe-Account"))
		_, _ = fmt.Fprint(w, `{
			"available": [{"amount": 1000, "currency": "usd"}, {"amount": 77, "currency": "eur"}],
			"pending": [{"amount": 355, "currency": "usd"}]
		}`)
	})

	balance, err := client.GetBalance(context.Background(), types.ConnectedRef(types.KindEmployer, "acct_B"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "usd", balance.Currency)
	assert.Equal(t, int64(1000), balance.Available)
	assert.Equal(t, int64(355), balance.Pending)
	assert.Equal(t, int64(1355), balance.Total())
}

func TestGetTransfer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers/tr_1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Stripe-Account"))
		_, _ = fmt.Fprint(w, `{"id": "tr_1", "amount": 1000, "currency": "usd", "destination": "acct_A", "created": 200}`)
	})

	transfer, err := client.GetTransfer(context.Background(), "tr_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_A", transfer.Destination)
	assert.Equal(t, int64(1000), transfer.Amount)

	_, err = client.GetTransfer(context.Background(), "")
	assert.Error(t, err)
}

func TestStripeClient_CircuitOpensOnRepeatedFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client, err := NewStripeClient(StripeConfig{
		APIKey:            "sk_test",
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
		Breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:             ProviderName,
			MaxFailures:      2,
			FailureThreshold: 0.5,
			Timeout:          time.Minute,
			HalfOpenMaxCalls: 1,
		}),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.GetBalance(context.Background(), types.PlatformRef(), "usd")
		require.Error(t, err)
	}

	_, err = client.GetBalance(context.Background(), types.PlatformRef(), "usd")
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExpandableID(t *testing.T) {
	assert.Equal(t, "acct_A", expandableID([]byte(`"acct_A"`)))
	assert.Equal(t, "acct_B", expandableID([]byte(`{"id": "acct_B", "object": "account"}`)))
	assert.Empty(t, expandableID([]byte(`null`)))
	assert.Empty(t, expandableID(nil))
}
