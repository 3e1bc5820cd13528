package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tip-ledger/internal/logging"
)

// SignatureHeader carries the processor's webhook signature
const SignatureHeader = "Stripe-Signature"

// handleProcessorWebhook handles POST /webhooks/processor
func (s *Server) handleProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidInput, "Payload too large", nil)
			return
		}
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Failed to read body", nil)
		return
	}

	result, err := s.services.Webhooks.HandleEvent(r.Context(), body, r.Header.Get(SignatureHeader), s.config.Clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"event_id":   result.EventID,
		"duplicate":  result.Duplicate,
		"ignored":    result.Ignored,
		"unresolved": result.Unresolved,
	}).Debug("Webhook acknowledged")

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
