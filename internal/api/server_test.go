package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/service"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
)

var testNow = time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC)

// Mock services for testing
type mockWebhooks struct {
	handleFunc func(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error)
}

func (m *mockWebhooks) HandleEvent(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error) {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, payload, header, now)
	}
	return &service.WebhookResult{OK: true, EventID: "evt_1"}, nil
}

type mockBackfill struct {
	last *service.BackfillRequest
	err  error
}

func (m *mockBackfill) Backfill(ctx context.Context, req service.BackfillRequest, now time.Time) (*service.BackfillResult, error) {
	m.last = &req
	if m.err != nil {
		return nil, m.err
	}
	return &service.BackfillResult{Jobs: 3, Ran: req.Run}, nil
}

type mockReconciler struct {
	oneCalls []string
	allClass types.AccountClass
	lastDay  time.Time
	err      error
}

func (m *mockReconciler) Reconcile(ctx context.Context, day time.Time, accountID string, now time.Time) (*service.ReconcileResult, error) {
	m.oneCalls = append(m.oneCalls, accountID)
	m.lastDay = day
	if m.err != nil {
		return nil, m.err
	}
	return &service.ReconcileResult{AccountID: accountID, Day: day.Format(types.DayLayout), Matched: true}, nil
}

func (m *mockReconciler) ReconcileAll(ctx context.Context, day time.Time, class types.AccountClass, limit int, now time.Time) (*service.ReconcileSummary, error) {
	m.allClass = class
	m.lastDay = day
	if m.err != nil {
		return nil, m.err
	}
	return &service.ReconcileSummary{Day: day.Format(types.DayLayout), Accounts: 2, Matched: 2}, nil
}

type mockRequeuer struct {
	requeueFunc func(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error)
}

func (m *mockRequeuer) Requeue(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error) {
	if m.requeueFunc != nil {
		return m.requeueFunc(ctx, jobID, now)
	}
	end := int64(200)
	return models.NewSyncJob("job-new", types.PlatformRef(), 100, &end), nil
}

type mockQuery struct {
	lastFilter models.JobFilter
	lastFrom   time.Time
	lastTo     time.Time
	err        error
}

func (m *mockQuery) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return []*models.SyncJob{models.NewSyncJob("job-1", types.PlatformRef(), 0, nil)}, nil
}

func (m *mockQuery) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	if m.err != nil {
		return nil, m.err
	}
	return models.NewSyncJob(id, types.PlatformRef(), 0, nil), nil
}

func (m *mockQuery) GetAccount(ctx context.Context, id string) (*models.SyncAccount, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.SyncAccount{ID: id, Kind: types.KindPlatform, Currency: "usd"}, nil
}

func (m *mockQuery) AccountTransactions(ctx context.Context, accountID string, from, to time.Time, limit int) (*service.AccountLedger, error) {
	m.lastFrom, m.lastTo = from, to
	if m.err != nil {
		return nil, m.err
	}
	return &service.AccountLedger{From: from.Format(types.DayLayout), To: to.Format(types.DayLayout), NetTotal: "0.00"}, nil
}

func (m *mockQuery) AccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.DailyBalanceSnapshot, error) {
	m.lastFrom, m.lastTo = from, to
	return nil, m.err
}

func (m *mockQuery) AccountHistory(ctx context.Context, accountID string, from, to time.Time) ([]storage.DailyNet, error) {
	m.lastFrom, m.lastTo = from, to
	if m.err != nil {
		return nil, m.err
	}
	return []storage.DailyNet{{Day: from, Currency: "usd", Net: 100, TransactionCount: 1}}, nil
}

type mockAuditor struct{}

func (mockAuditor) ValidateDay(ctx context.Context, accountID string, day time.Time, now time.Time) (*service.ValidationResult, error) {
	return &service.ValidationResult{AccountID: accountID, Day: day.Format(types.DayLayout), Valid: true}, nil
}

type testServer struct {
	server    *Server
	webhooks  *mockWebhooks
	backfill  *mockBackfill
	reconcile *mockReconciler
	jobs      *mockRequeuer
	query     *mockQuery
}

func newTestServer(t *testing.T, mutate func(cfg *ServerConfig, svc *Services)) *testServer {
	t.Helper()

	ts := &testServer{
		webhooks:  &mockWebhooks{},
		backfill:  &mockBackfill{},
		reconcile: &mockReconciler{},
		jobs:      &mockRequeuer{},
		query:     &mockQuery{},
	}
	cfg := &ServerConfig{
		Host:           "localhost",
		Port:           "0",
		RequestsPerSec: 1000,
		Clock:          func() time.Time { return testNow },
	}
	svc := Services{
		Webhooks:  ts.webhooks,
		Backfill:  ts.backfill,
		Reconcile: ts.reconcile,
		Jobs:      ts.jobs,
		Query:     ts.query,
	}
	if mutate != nil {
		mutate(cfg, &svc)
	}

	server, err := NewServer(cfg, svc)
	require.NoError(t, err)
	ts.server = server
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(&ServerConfig{}, Services{})
	assert.Error(t, err)

	_, err = NewServer(nil, Services{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestProcessorWebhook_Acknowledges(t *testing.T) {
	ts := newTestServer(t, nil)

	var gotHeader string
	var gotPayload []byte
	var gotNow time.Time
	ts.webhooks.handleFunc = func(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error) {
		gotHeader, gotPayload, gotNow = header, payload, now
		return &service.WebhookResult{OK: true, EventID: "evt_1", Duplicate: true}, nil
	}

	body := `{"id":"evt_1","type":"balance.available"}`
	req := httptest.NewRequest("POST", "/webhooks/processor", strings.NewReader(body))
	req.Header.Set(SignatureHeader, "t=1,v1=abc")
	rr := ts.do(req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	assert.Equal(t, "t=1,v1=abc", gotHeader)
	assert.Equal(t, body, string(gotPayload))
	assert.Equal(t, testNow, gotNow)
}

func TestProcessorWebhook_InvalidSignature(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.webhooks.handleFunc = func(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error) {
		return nil, apperrors.NewInvalidSignatureError("no matching signature")
	}

	rr := ts.do(httptest.NewRequest("POST", "/webhooks/processor", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decodeError(t, rr).Code)
}

func TestProcessorWebhook_InternalErrorIsGeneric(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.webhooks.handleFunc = func(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error) {
		return nil, errors.New("pq: connection refused at 10.0.0.3")
	}

	rr := ts.do(httptest.NewRequest("POST", "/webhooks/processor", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	svcErr := decodeError(t, rr)
	assert.Equal(t, ErrCodeInternalError, svcErr.Code)
	assert.NotContains(t, svcErr.Message, "10.0.0.3")
}

func TestProcessorWebhook_PayloadTooLarge(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig, _ *Services) {
		cfg.MaxWebhookBytes = 8
	})
	called := false
	ts.webhooks.handleFunc = func(ctx context.Context, payload []byte, header string, now time.Time) (*service.WebhookResult, error) {
		called = true
		return &service.WebhookResult{OK: true}, nil
	}

	rr := ts.do(httptest.NewRequest("POST", "/webhooks/processor", strings.NewReader(`{"id":"evt_123456789"}`)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.False(t, called)
}

func TestHandleSync(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		query      string
		wantStatus int
		check      func(t *testing.T, req *service.BackfillRequest)
	}{
		{
			name:       "range with class and run",
			method:     "POST",
			query:      "from=2024-03-01&to=2024-03-03&accounts=connected&limit=50&run=true",
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T, req *service.BackfillRequest) {
				assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), req.From)
				assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), req.To)
				assert.Equal(t, types.ClassConnected, req.Class)
				assert.Equal(t, 50, req.Limit)
				assert.True(t, req.Run)
			},
		},
		{
			name:       "to defaults to from and class to all",
			method:     "GET",
			query:      "from=2024-03-01",
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T, req *service.BackfillRequest) {
				assert.Equal(t, req.From, req.To)
				assert.Equal(t, types.ClassAll, req.Class)
				assert.False(t, req.Run)
			},
		},
		{name: "missing from", method: "POST", query: "to=2024-03-01", wantStatus: http.StatusBadRequest},
		{name: "bad date", method: "POST", query: "from=03/01/2024", wantStatus: http.StatusBadRequest},
		{name: "bad class", method: "POST", query: "from=2024-03-01&accounts=earners", wantStatus: http.StatusBadRequest},
		{name: "bad limit", method: "POST", query: "from=2024-03-01&limit=ten", wantStatus: http.StatusBadRequest},
		{name: "bad run", method: "POST", query: "from=2024-03-01&run=maybe", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			rr := ts.do(httptest.NewRequest(tt.method, "/admin/sync?"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.check != nil {
				require.NotNil(t, ts.backfill.last)
				tt.check(t, ts.backfill.last)
			} else {
				assert.Nil(t, ts.backfill.last)
			}
		})
	}
}

func TestHandleSync_ServiceValidationError(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.backfill.err = apperrors.NewInvalidParameterError("to", "must not be before from")

	rr := ts.do(httptest.NewRequest("POST", "/admin/sync?from=2024-03-05&to=2024-03-01", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rr).Code)
}

func TestHandleReconcile(t *testing.T) {
	t.Run("single account", func(t *testing.T) {
		ts := newTestServer(t, nil)
		id := uuid.NewString()

		rr := ts.do(httptest.NewRequest("POST", "/admin/reconcile?day=2024-03-01&account="+id, nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{id}, ts.reconcile.oneCalls)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ts.reconcile.lastDay)
	})

	t.Run("class defaults to today", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rr := ts.do(httptest.NewRequest("POST", "/admin/reconcile?accounts=platform", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, ts.reconcile.oneCalls)
		assert.Equal(t, types.ClassPlatform, ts.reconcile.allClass)
		assert.Equal(t, types.StartOfDay(testNow), ts.reconcile.lastDay)
	})

	t.Run("invalid account id", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rr := ts.do(httptest.NewRequest("POST", "/admin/reconcile?account=not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Details, "Account")
	})

	t.Run("unknown account", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.reconcile.err = apperrors.NewAccountNotFoundError("acct")

		rr := ts.do(httptest.NewRequest("POST", "/admin/reconcile?account="+uuid.NewString(), nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeError(t, rr).Code)
	})
}

func TestHandleRequeueJob(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("POST", "/admin/jobs/job-1/requeue", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)

	var job models.SyncJob
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "job-new", job.ID)

	ts.jobs.requeueFunc = func(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error) {
		return nil, apperrors.NewConflictError("job " + jobID + " is done")
	}
	rr = ts.do(httptest.NewRequest("POST", "/admin/jobs/job-1/requeue", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	ts.jobs.requeueFunc = func(ctx context.Context, jobID string, now time.Time) (*models.SyncJob, error) {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	rr = ts.do(httptest.NewRequest("POST", "/admin/jobs/missing/requeue", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig, _ *Services) {
		cfg.AdminToken = "s3cret"
	})

	rr := ts.do(httptest.NewRequest("POST", "/admin/sync?from=2024-03-01", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")

	req := httptest.NewRequest("POST", "/admin/sync?from=2024-03-01", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = httptest.NewRequest("POST", "/admin/sync?from=2024-03-01", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusAccepted, ts.do(req).Code)

	req = httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	// health and webhooks are not behind the token
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest("GET", "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest("POST", "/webhooks/processor", strings.NewReader(`{}`))).Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig, _ *Services) {
		cfg.RequestsPerSec = 1
	})

	limited := 0
	for i := 0; i < 15; i++ {
		rr := ts.do(httptest.NewRequest("GET", "/api/jobs", nil))
		if rr.Code == http.StatusTooManyRequests {
			limited++
			assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			assert.Contains(t, rr.Body.String(), "RATE_LIMIT_EXCEEDED")
		}
	}
	assert.Greater(t, limited, 0)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(10))
	assert.Equal(t, 1, retryAfterSeconds(1))
	assert.Equal(t, 4, retryAfterSeconds(0.25))
	assert.Equal(t, 1, retryAfterSeconds(0))
}

func TestHandleAudit(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(httptest.NewRequest("POST", "/admin/audit?account="+uuid.NewString()+"&day=2024-03-01", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ts = newTestServer(t, func(_ *ServerConfig, svc *Services) {
		svc.Auditor = mockAuditor{}
	})
	rr = ts.do(httptest.NewRequest("POST", "/admin/audit?day=2024-03-01", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(httptest.NewRequest("POST", "/admin/audit?account="+uuid.NewString()+"&day=2024-03-01", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var result service.ValidationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, "2024-03-01", result.Day)
	assert.True(t, result.Valid)
}

func TestHandleMirrorCheck_NotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("POST", "/admin/mirror/check?account="+uuid.NewString()+"&day=2024-03-01", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleListJobs(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("GET", "/api/jobs?status=error&kind=earner&processorAccount=acct_A&limit=5", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.JobFilter{
		Status:             types.JobStatusError,
		AccountKind:        types.KindEarner,
		ProcessorAccountID: "acct_A",
		Limit:              5,
	}, ts.query.lastFilter)

	var body struct {
		Jobs  []*models.SyncJob `json:"jobs"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rr = ts.do(httptest.NewRequest("GET", "/api/jobs?kind=customer", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.query.err = apperrors.NewJobNotFoundError("job-x")

	rr := ts.do(httptest.NewRequest("GET", "/api/jobs/job-x", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rr).Code)
}

func TestHandleAccountTransactions_DefaultsToToday(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("GET", "/api/accounts/acc-1/transactions", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.StartOfDay(testNow), ts.query.lastFrom)
	assert.Equal(t, types.StartOfDay(testNow), ts.query.lastTo)

	rr = ts.do(httptest.NewRequest("GET", "/api/accounts/acc-1/transactions?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleAccountSnapshots_DefaultRange(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest("GET", "/api/accounts/acc-1/snapshots?to=2024-02-29", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), ts.query.lastTo)
	assert.Equal(t, time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), ts.query.lastFrom)
}

func TestHandleAccountHistory_MirrorDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.query.err = apperrors.NewServiceUnavailableError("ledger mirror")

	rr := ts.do(httptest.NewRequest("GET", "/api/accounts/acc-1/history", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, ErrCodeServiceUnavailable, decodeError(t, rr).Code)
}

func TestCompression(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/accounts/acc-1", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := ts.do(req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)

	var account models.SyncAccount
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, "acc-1", account.ID)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
