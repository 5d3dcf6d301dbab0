package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleGetIndexes handles GET requests to retrieve all live indexes for a collection
func (h *Handler) HandleGetIndexes(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]
	store := h.store(collName)
	if store == nil {
		WriteJSONError(w, http.StatusNotFound, "unknown collection "+collName)
		return
	}

	indexes, err := store.Indexes().List(r.Context())
	if err != nil {
		h.writeError(w, "listIndexes on "+collName, err)
		return
	}

	// bson.D renders as a list of key/value pairs in JSON, so flatten to maps.
	out := make([]map[string]interface{}, len(indexes))
	for i, d := range indexes {
		out[i] = d.Map()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection":  collName,
		"indexes":     out,
		"index_count": len(out),
	})
	h.logger.Printf("INFO: Retrieved %d indexes for collection '%s'", len(out), collName)
}

// HandleSyncIndexes reconciles a collection's live indexes with its
// declared ones and reports what changed.
func (h *Handler) HandleSyncIndexes(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]
	store := h.store(collName)
	if store == nil {
		WriteJSONError(w, http.StatusNotFound, "unknown collection "+collName)
		return
	}

	result, err := store.SyncIndexes(r.Context())
	if err != nil {
		h.writeError(w, "syncIndexes on "+collName, err)
		return
	}

	failures := make(map[string]string, len(result.DropFailures))
	for name, err := range result.DropFailures {
		failures[name] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection":    collName,
		"dropped":       result.Dropped,
		"created":       result.Created,
		"drop_failures": failures,
	})
}
