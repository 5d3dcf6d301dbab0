package api

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/indexing"
	"github.com/adfharrison1/docbind/pkg/writes"
)

// Store is the part of a collection binding the API uses.
type Store interface {
	Name() string
	Find(ctx context.Context, filter bson.M, opts domain.FindOptions) ([]domain.Document, error)
	FindByID(ctx context.Context, id domain.ID) (domain.Document, error)
	CreateDocument(ctx context.Context, attrs domain.Document) (domain.ID, error)
	UpdateDocument(ctx context.Context, doc domain.Document, update bson.M, opts writes.UpdateOptions) (domain.Document, error)
	Indexes() domain.IndexView
	SyncIndexes(ctx context.Context) (indexing.Result, error)
}

// Status reports whether the database connection is up.
type Status interface {
	IsConnected() bool
}

// Handler provides HTTP handlers for the log aggregator API
type Handler struct {
	projects Store
	logLines Store
	status   Status
	logger   *log.Logger
}

type Option func(*Handler)

func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(projects, logLines Store, status Status, options ...Option) *Handler {
	h := &Handler{
		projects: projects,
		logLines: logLines,
		status:   status,
		logger:   log.Default(),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

func (h *Handler) store(name string) Store {
	switch name {
	case h.projects.Name():
		return h.projects
	case h.logLines.Name():
		return h.logLines
	}
	return nil
}
