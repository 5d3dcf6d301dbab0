package api

import (
	"context"
	"log"

	"github.com/adfharrison1/docbind/pkg/collection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/schema"
)

// Collection names of the log aggregator.
const (
	ProjectsCollection = "projects"
	LogLinesCollection = "log-lines"
)

const projectSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1}
  },
  "required": ["name"],
  "additionalProperties": false
}`

// ObjectIDs reach the validator as their hex form.
const logLineSchema = `{
  "type": "object",
  "properties": {
    "projectId":  {"type": "string", "pattern": "^[0-9a-f]{24}$"},
    "occurredAt": {"type": "string", "format": "date-time"},
    "message":    {"type": "string"}
  },
  "required": ["projectId", "occurredAt", "message"],
  "additionalProperties": false
}`

// Collections are the bindings behind the API.
type Collections struct {
	Projects *collection.Binding
	LogLines *collection.Binding
}

// Declare binds the log aggregator's collections to lifecycle.
func Declare(ctx context.Context, lifecycle collection.Lifecycle, logger *log.Logger) (*Collections, error) {
	projects, err := collection.New(ctx, lifecycle, ProjectsCollection, collection.Config{
		Schema: schema.MustNew(ProjectsCollection, projectSchema),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	logLines, err := collection.New(ctx, lifecycle, LogLinesCollection, collection.Config{
		Schema: schema.MustNew(LogLinesCollection, logLineSchema),
		Indexes: []domain.IndexSpec{
			domain.NewIndex("projectId", 1),
			domain.NewIndex("occurredAt", 1),
		},
		Logger: logger,
	})
	if err != nil {
		projects.Close()
		return nil, err
	}

	return &Collections{Projects: projects, LogLines: logLines}, nil
}

// Close detaches both bindings from their lifecycle.
func (c *Collections) Close() {
	c.Projects.Close()
	c.LogLines.Close()
}
