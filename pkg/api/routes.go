package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Projects
	router.HandleFunc("/projects", h.HandleListProjects).Methods("GET")
	router.HandleFunc("/projects", h.HandleCreateProject).Methods("POST")
	router.HandleFunc("/projects/{id}", h.HandleGetProject).Methods("GET")
	router.HandleFunc("/projects/{id}", h.HandleUpdateProject).Methods("PATCH")

	// Log lines
	router.HandleFunc("/log-lines", h.HandleListLogLines).Methods("GET")
	router.HandleFunc("/log-lines", h.HandleCreateLogLine).Methods("POST")
	router.HandleFunc("/log-lines/{id}", h.HandleGetLogLine).Methods("GET")

	// Index operations
	router.HandleFunc("/collections/{coll}/indexes", h.HandleGetIndexes).Methods("GET")
	router.HandleFunc("/collections/{coll}/indexes/sync", h.HandleSyncIndexes).Methods("POST")
}
