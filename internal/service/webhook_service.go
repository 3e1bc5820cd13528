package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/ratelimit"
	"github.com/tip-ledger/internal/storage"
	"github.com/tip-ledger/internal/types"
	"github.com/tip-ledger/internal/worker"
)

// EventBalanceAvailable is the only webhook event that triggers work
const EventBalanceAvailable = "balance.available"

// DefaultSignatureTolerance bounds the age of a signed webhook timestamp
const DefaultSignatureTolerance = 5 * time.Minute

// WebhookEvent is the subset of a processor event the ingestor reads
type WebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account,omitempty"` // empty for platform events
	Created int64  `json:"created"`
}

// WebhookResult describes how an event was handled
type WebhookResult struct {
	OK         bool               `json:"ok"`
	EventID    string             `json:"eventId,omitempty"`
	Duplicate  bool               `json:"duplicate,omitempty"`
	Ignored    bool               `json:"ignored,omitempty"`
	Unresolved bool               `json:"unresolved,omitempty"`
	Job        *worker.JobOutcome `json:"job,omitempty"`
	Reconcile  *ReconcileResult   `json:"reconcile,omitempty"`
}

// WebhookService verifies processor webhooks and turns balance events into an
// immediate sync and reconciliation of the affected account
type WebhookService struct {
	secret     string
	tolerance  time.Duration
	dedupeTTL  time.Duration
	deduper    storage.EventDeduper
	accounts   storage.AccountStore
	jobs       storage.JobStore
	worker     *worker.SyncWorker
	reconciler *ReconciliationService
}

// WebhookServiceConfig holds webhook service dependencies
type WebhookServiceConfig struct {
	Secret     string
	Tolerance  time.Duration
	DedupeTTL  time.Duration
	Deduper    storage.EventDeduper // optional
	Accounts   storage.AccountStore
	Jobs       storage.JobStore
	Worker     *worker.SyncWorker
	Reconciler *ReconciliationService
}

// NewWebhookService creates a new webhook service
func NewWebhookService(cfg *WebhookServiceConfig) (*WebhookService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("webhook secret cannot be empty")
	}
	if cfg.Accounts == nil || cfg.Jobs == nil || cfg.Worker == nil || cfg.Reconciler == nil {
		return nil, fmt.Errorf("webhook service requires accounts, jobs, worker and reconciler")
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	dedupeTTL := cfg.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	return &WebhookService{
		secret:     cfg.Secret,
		tolerance:  tolerance,
		dedupeTTL:  dedupeTTL,
		deduper:    cfg.Deduper,
		accounts:   cfg.Accounts,
		jobs:       cfg.Jobs,
		worker:     cfg.Worker,
		reconciler: cfg.Reconciler,
	}, nil
}

// SignPayload returns the v1 signature of payload at timestamp
func SignPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against payload.
// Any v1 entry may match; the timestamp must be within the tolerance of now.
func (s *WebhookService) VerifySignature(payload []byte, header string, now time.Time) error {
	if header == "" {
		return apperrors.NewInvalidSignatureError("missing signature header")
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return apperrors.NewInvalidSignatureError("malformed timestamp")
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 {
		return apperrors.NewInvalidSignatureError("missing timestamp")
	}
	if len(signatures) == 0 {
		return apperrors.NewInvalidSignatureError("missing v1 signature")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > s.tolerance {
		return apperrors.NewInvalidSignatureError("timestamp outside tolerance")
	}

	expected := []byte(SignPayload(s.secret, timestamp, payload))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return apperrors.NewInvalidSignatureError("no matching signature")
}

// HandleEvent verifies and processes one webhook delivery.
// A bad signature returns an error wrapping ErrInvalidSignature and touches nothing.
// An account that cannot be resolved is acknowledged without work.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string, now time.Time) (*WebhookResult, error) {
	if err := s.VerifySignature(payload, signatureHeader, now); err != nil {
		return nil, err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.NewInvalidParameterError("payload", "malformed event JSON")
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"eventId":   event.ID,
		"eventType": event.Type,
		"account":   event.Account,
	})
	ctx = logging.WithLogger(ctx, logger)
	result := &WebhookResult{OK: true, EventID: event.ID}

	if s.deduper != nil && event.ID != "" {
		first, err := s.deduper.MarkSeen(ctx, event.ID, s.dedupeTTL)
		if err != nil {
			logger.WithError(err).Warn("Event dedupe unavailable; processing anyway")
		} else if !first {
			logger.Debug("Duplicate webhook event")
			result.Duplicate = true
			return result, nil
		}
	}

	if event.Type != EventBalanceAvailable {
		result.Ignored = true
		return result, nil
	}

	account, err := s.resolveAccount(ctx, event.Account)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAccountNotFound) || apperrors.Is(err, apperrors.ErrAmbiguousAccount) {
			logger.WithError(err).Warn("Webhook account not resolvable; acknowledging")
			result.Unresolved = true
			return result, nil
		}
		s.forget(ctx, event.ID)
		return nil, err
	}

	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityHigh)
	today := types.StartOfDay(now)

	outcome, err := s.syncToday(ctx, account, now)
	if err != nil {
		logger.WithError(err).Warn("Webhook sync failed; reconciling with the current ledger")
	}
	result.Job = outcome

	recon, err := s.reconciler.Reconcile(ctx, today, account.ID, now)
	if err != nil {
		s.forget(ctx, event.ID)
		return nil, fmt.Errorf("failed to reconcile %s: %w", account.Ref(), err)
	}
	result.Reconcile = recon
	return result, nil
}

func (s *WebhookService) resolveAccount(ctx context.Context, processorAccountID string) (*models.SyncAccount, error) {
	if processorAccountID == "" {
		return s.accounts.FindByRef(ctx, types.PlatformRef())
	}
	return s.accounts.ResolveInternalAccount(ctx, processorAccountID)
}

// syncToday enqueues and immediately runs a job for the account's current day
func (s *WebhookService) syncToday(ctx context.Context, account *models.SyncAccount, now time.Time) (*worker.JobOutcome, error) {
	from, to := types.DayWindow(now)
	job := models.NewSyncJob("", account.Ref(), from, &to)
	if err := s.jobs.CreateBatch(ctx, []*models.SyncJob{job}, now); err != nil {
		return nil, fmt.Errorf("failed to enqueue webhook sync: %w", err)
	}

	outcome, err := s.worker.RunJob(ctx, job.ID, now)
	if err != nil {
		return nil, err
	}
	if outcome.Status != types.JobStatusDone {
		return outcome, fmt.Errorf("sync job %s failed: %s", job.ID, outcome.Error)
	}
	return outcome, nil
}

// forget lets the processor's redelivery retry a failed event
func (s *WebhookService) forget(ctx context.Context, eventID string) {
	if s.deduper == nil || eventID == "" {
		return
	}
	if err := s.deduper.Forget(context.WithoutCancel(ctx), eventID); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to forget webhook event")
	}
}
