package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/logging"
	"github.com/tip-ledger/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondServiceError maps a service error to its HTTP status and writes it.
// Server side failures are logged and reported with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   catErr.Code,
		}).Error("Request failed")

		code, message := ErrCodeInternalError, "An internal error occurred"
		if catErr.StatusCode == http.StatusServiceUnavailable {
			code, message = ErrCodeServiceUnavailable, catErr.Message
		}
		respondError(w, catErr.StatusCode, code, message, nil)
		return
	}

	svcErr := catErr.ToServiceError()
	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondValidationError reports struct validation failures field by field.
func respondValidationError(w http.ResponseWriter, err error) {
	details := make(map[string]interface{})
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details[fe.Field()] = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
	}
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request parameters", details)
}
