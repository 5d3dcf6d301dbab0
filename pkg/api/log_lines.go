package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

type logLineRequest struct {
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
}

// HandleListLogLines returns log lines, optionally only those of one project.
func (h *Handler) HandleListLogLines(w http.ResponseWriter, r *http.Request) {
	filter := bson.M{}
	if raw := r.URL.Query().Get("projectId"); raw != "" {
		id, ok := parseID(w, raw)
		if !ok {
			return
		}
		filter["projectId"] = id
	}

	lines, err := h.logLines.Find(r.Context(), filter, domain.FindOptions{
		Sort: bson.D{{Key: "occurredAt", Value: 1}, {Key: domain.IDField, Value: 1}},
	})
	if err != nil {
		h.writeError(w, "list log lines", err)
		return
	}
	h.logger.Printf("INFO: Found %d log lines with filter %v", len(lines), filter)
	writeJSON(w, http.StatusOK, lines)
}

func (h *Handler) HandleGetLogLine(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	h.respondWithDocument(w, r, h.logLines, id, http.StatusOK)
}

// HandleCreateLogLine records a message against an existing project,
// stamped with the time it was received.
func (h *Handler) HandleCreateLogLine(w http.ResponseWriter, r *http.Request) {
	var body logLineRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Printf("ERROR: Decoding body failed: %v", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	projectID, ok := parseID(w, body.ProjectID)
	if !ok {
		return
	}

	project, err := h.projects.FindByID(r.Context(), projectID)
	if err != nil {
		h.writeError(w, "get project", err)
		return
	}
	if project == nil {
		WriteJSONError(w, http.StatusUnprocessableEntity, "project "+projectID.Hex()+" does not exist")
		return
	}

	id, err := h.logLines.CreateDocument(r.Context(), domain.Document{
		"projectId":  projectID,
		"message":    body.Message,
		"occurredAt": time.Now().UTC(),
	})
	if err != nil {
		h.writeError(w, "create log line", err)
		return
	}
	h.respondWithDocument(w, r, h.logLines, id, http.StatusCreated)
}
