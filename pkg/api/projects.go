package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/writes"
)

type projectRequest struct {
	Name *string `json:"name"`
}

// HandleListProjects returns every project in creation order.
func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.Find(r.Context(), bson.M{}, domain.FindOptions{
		Sort: bson.D{{Key: domain.IDField, Value: 1}},
	})
	if err != nil {
		h.writeError(w, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleCreateProject validates and stores a project, returning it with its
// system fields.
func (h *Handler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body projectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Printf("ERROR: Decoding body failed: %v", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	attrs := domain.Document{}
	if body.Name != nil {
		attrs["name"] = *body.Name
	}
	id, err := h.projects.CreateDocument(r.Context(), attrs)
	if err != nil {
		h.writeError(w, "create project", err)
		return
	}

	h.respondWithDocument(w, r, h.projects, id, http.StatusCreated)
}

func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	h.respondWithDocument(w, r, h.projects, id, http.StatusOK)
}

// HandleUpdateProject renames a project. The update is validated against the
// full schema before it is applied.
func (h *Handler) HandleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	var body projectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Printf("ERROR: Decoding body failed: %v", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == nil {
		WriteJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	current, err := h.projects.FindByID(r.Context(), id)
	if err != nil {
		h.writeError(w, "get project", err)
		return
	}
	if current == nil {
		WriteJSONError(w, http.StatusNotFound, "project "+id.Hex()+" not found")
		return
	}

	updated, err := h.projects.UpdateDocument(r.Context(), current,
		bson.M{"$set": bson.M{"name": *body.Name}},
		writes.UpdateOptions{FullValidate: true})
	if err != nil {
		h.writeError(w, "update project", err)
		return
	}
	h.logger.Printf("INFO: Updated project '%s'", id.Hex())
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) respondWithDocument(w http.ResponseWriter, r *http.Request, store Store, id domain.ID, statusCode int) {
	doc, err := store.FindByID(r.Context(), id)
	if err != nil {
		h.writeError(w, "get "+store.Name(), err)
		return
	}
	if doc == nil {
		WriteJSONError(w, http.StatusNotFound, store.Name()+" "+id.Hex()+" not found")
		return
	}
	writeJSON(w, statusCode, doc)
}

func parseID(w http.ResponseWriter, raw string) (domain.ID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil || id.IsZero() {
		WriteJSONError(w, http.StatusBadRequest, "invalid id "+raw)
		return domain.NilID, false
	}
	return id, true
}
