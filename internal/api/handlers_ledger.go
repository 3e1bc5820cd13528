package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tip-ledger/internal/models"
	"github.com/tip-ledger/internal/types"
)

// defaultHistoryDays is the range served when from is omitted
const defaultHistoryDays = 30

// handleListJobs handles GET /api/jobs?status=&kind=&processorAccount=&limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.JobFilter{
		Status:             types.JobStatus(q.Get("status")),
		AccountKind:        types.AccountKind(q.Get("kind")),
		ProcessorAccountID: q.Get("processorAccount"),
	}
	if filter.AccountKind != "" && !filter.AccountKind.Valid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "kind must be platform, earner or employer", nil)
		return
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}

	jobs, err := s.services.Query.ListJobs(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.services.Query.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleGetAccount handles GET /api/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.services.Query.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// handleAccountTransactions handles GET /api/accounts/{id}/transactions?from=&to=&limit=
func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.dayRange(w, r, 0)
	if !ok {
		return
	}
	limit, ok := intParam(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}

	ledger, err := s.services.Query.AccountTransactions(r.Context(), mux.Vars(r)["id"], from, to, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ledger)
}

// handleAccountSnapshots handles GET /api/accounts/{id}/snapshots?from=&to=
func (s *Server) handleAccountSnapshots(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.dayRange(w, r, defaultHistoryDays)
	if !ok {
		return
	}

	snapshots, err := s.services.Query.AccountSnapshots(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// handleAccountHistory handles GET /api/accounts/{id}/history?from=&to=
func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.dayRange(w, r, defaultHistoryDays)
	if !ok {
		return
	}

	history, err := s.services.Query.AccountHistory(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// dayRange reads from/to days. to defaults to today and from to span days before to.
func (s *Server) dayRange(w http.ResponseWriter, r *http.Request, span int) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	to := types.StartOfDay(s.config.Clock())
	if v := q.Get("to"); v != "" {
		day, err := types.ParseDay(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be a YYYY-MM-DD date", nil)
			return time.Time{}, time.Time{}, false
		}
		to = day
	}

	from := to.AddDate(0, 0, -span)
	if v := q.Get("from"); v != "" {
		day, err := types.ParseDay(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be a YYYY-MM-DD date", nil)
			return time.Time{}, time.Time{}, false
		}
		from = day
	}

	return from, to, true
}
