package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Issues  []domain.Issue `json:"issues,omitempty"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeErrorResponse(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func writeErrorResponse(w http.ResponseWriter, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Code)
	json.NewEncoder(w).Encode(response)
}

// writeError maps a binding error onto a status code.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		h.logger.Printf("WARN: %s rejected, database not connected", op)
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &ve):
		h.logger.Printf("INFO: %s rejected: %v", op, err)
		writeErrorResponse(w, ErrorResponse{
			Error:   http.StatusText(http.StatusUnprocessableEntity),
			Message: ve.Error(),
			Code:    http.StatusUnprocessableEntity,
			Issues:  ve.Issues,
		})
	default:
		h.logger.Printf("ERROR: %s failed: %v", op, err)
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
