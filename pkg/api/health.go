package api

import (
	"net/http"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleHealth reports 503 until the database connection is established.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.status.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "unavailable",
			Message: "database is not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Message: "docbind is running",
	})
}
