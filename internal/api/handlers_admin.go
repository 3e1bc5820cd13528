package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tip-ledger/internal/service"
	"github.com/tip-ledger/internal/types"
)

// syncRequest is the query of GET|POST /admin/sync
type syncRequest struct {
	From     string `validate:"required,datetime=2006-01-02"`
	To       string `validate:"omitempty,datetime=2006-01-02"`
	Accounts string `validate:"omitempty,oneof=platform connected all"`
	Limit    int    `validate:"gte=0,lte=10000"`
	Run      bool
}

// reconcileRequest is the query of POST /admin/reconcile
type reconcileRequest struct {
	Day      string `validate:"omitempty,datetime=2006-01-02"`
	Accounts string `validate:"omitempty,oneof=platform connected all"`
	Account  string `validate:"omitempty,uuid"`
	Limit    int    `validate:"gte=0,lte=10000"`
}

// accountDayRequest is the query of the audit and mirror check endpoints
type accountDayRequest struct {
	Account string `validate:"required,uuid"`
	Day     string `validate:"required,datetime=2006-01-02"`
}

// handleSync handles GET|POST /admin/sync - enqueue (and optionally run) a date range
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := syncRequest{
		From:     q.Get("from"),
		To:       q.Get("to"),
		Accounts: strings.ToLower(q.Get("accounts")),
	}

	var ok bool
	if req.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if v := q.Get("run"); v != "" {
		run, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "run must be a boolean", nil)
			return
		}
		req.Run = run
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	from, _ := types.ParseDay(req.From)
	to := from
	if req.To != "" {
		to, _ = types.ParseDay(req.To)
	}
	class, _ := types.ParseAccountClass(req.Accounts)

	result, err := s.services.Backfill.Backfill(r.Context(), service.BackfillRequest{
		From:  from,
		To:    to,
		Class: class,
		Limit: req.Limit,
		Run:   req.Run,
	}, s.config.Clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, result)
}

// handleReconcile handles POST /admin/reconcile - reconcile one account or a class for a day
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := reconcileRequest{
		Day:      q.Get("day"),
		Accounts: strings.ToLower(q.Get("accounts")),
		Account:  q.Get("account"),
	}

	var ok bool
	if req.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	now := s.config.Clock()
	day := types.StartOfDay(now)
	if req.Day != "" {
		day, _ = types.ParseDay(req.Day)
	}

	if req.Account != "" {
		result, err := s.services.Reconcile.Reconcile(r.Context(), day, req.Account, now)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	class, _ := types.ParseAccountClass(req.Accounts)
	summary, err := s.services.Reconcile.ReconcileAll(r.Context(), day, class, req.Limit, now)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleRequeueJob handles POST /admin/jobs/{id}/requeue
func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := s.services.Jobs.Requeue(r.Context(), id, s.config.Clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// handleAudit handles POST /admin/audit - re-fetch a stored day and compare it with the ledger
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.services.Auditor == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Ledger audit is not configured", nil)
		return
	}

	account, day, ok := s.parseAccountDay(w, r)
	if !ok {
		return
	}

	result, err := s.services.Auditor.ValidateDay(r.Context(), account, day, s.config.Clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleMirrorCheck handles POST /admin/mirror/check - compare and repair the reporting mirror
func (s *Server) handleMirrorCheck(w http.ResponseWriter, r *http.Request) {
	if s.services.Mirror == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Ledger mirror is not configured", nil)
		return
	}

	account, day, ok := s.parseAccountDay(w, r)
	if !ok {
		return
	}

	result, err := s.services.Mirror.CheckConsistency(r.Context(), account, day, s.config.Clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) parseAccountDay(w http.ResponseWriter, r *http.Request) (string, time.Time, bool) {
	q := r.URL.Query()
	req := accountDayRequest{Account: q.Get("account"), Day: q.Get("day")}
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return "", time.Time{}, false
	}
	day, _ := types.ParseDay(req.Day)
	return req.Account, day, true
}

// intParam parses an optional integer query parameter, writing a 400 on failure
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, name+" must be an integer", map[string]interface{}{
			"parameter": name,
		})
		return 0, false
	}
	return n, true
}
