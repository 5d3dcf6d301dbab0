package writes

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// DefaultBatchSize is used by ProcessInBatches when no size is given.
const DefaultBatchSize = 1000

// Pipeline validates and timestamps every create and update of one
// collection.
type Pipeline struct {
	name    string
	schema  domain.Schema
	partial domain.Schema
	access  domain.CollectionAccessor
	scratch domain.CollectionAccessor
	now     func() time.Time
	logger  *log.Logger
}

type Option func(*Pipeline)

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline for the collection called name. access returns the
// live collection and scratch the shared collection used by full-validation
// updates. A nil schema disables validation.
func New(name string, schema domain.Schema, access, scratch domain.CollectionAccessor, options ...Option) *Pipeline {
	p := &Pipeline{
		name:    name,
		schema:  schema,
		access:  access,
		scratch: scratch,
		now:     time.Now,
		logger:  log.Default(),
	}
	if schema != nil {
		p.partial = schema.DeepPartial()
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// timestamp returns the current time at the precision the database stores.
func (p *Pipeline) timestamp() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

func (p *Pipeline) invalid(op, path, message string) *domain.ValidationError {
	return &domain.ValidationError{
		Collection: p.name,
		Op:         op,
		Issues:     []domain.Issue{{Path: path, Message: message}},
	}
}

func (p *Pipeline) validate(s domain.Schema, op string, doc domain.Document) (domain.Document, error) {
	if s == nil {
		return domain.Clone(doc), nil
	}
	out, err := s.Validate(doc)
	if err != nil {
		if ve, ok := err.(*domain.ValidationError); ok {
			return nil, ve.In(p.name, op)
		}
		return nil, err
	}
	return out, nil
}

// CreateDocument validates attrs without its system fields, stamps it and
// inserts it. A caller-supplied _id, createdAt or updatedAt is kept as
// given; missing ones are generated, with both timestamps equal.
func (p *Pipeline) CreateDocument(ctx context.Context, attrs domain.Document) (domain.ID, error) {
	coll, err := p.access()
	if err != nil {
		return domain.NilID, err
	}

	doc, err := p.validate(p.schema, "create", domain.WithoutSystemFields(attrs))
	if err != nil {
		return domain.NilID, err
	}

	id := domain.NewID()
	if raw, present := attrs[domain.IDField]; present {
		given, ok := raw.(domain.ID)
		if !ok || given.IsZero() {
			return domain.NilID, p.invalid("create", "/_id", "must be a non-zero ObjectID")
		}
		id = given
	}

	now := p.timestamp()
	createdAt, err := p.stamp(attrs, domain.CreatedAtField, now)
	if err != nil {
		return domain.NilID, err
	}
	updatedAt, err := p.stamp(attrs, domain.UpdatedAtField, now)
	if err != nil {
		return domain.NilID, err
	}
	if updatedAt.Before(createdAt) {
		return domain.NilID, p.invalid("create", "/updatedAt", "must not be before createdAt")
	}

	doc[domain.IDField] = id
	doc[domain.CreatedAtField] = createdAt
	doc[domain.UpdatedAtField] = updatedAt

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return domain.NilID, domain.WrapDriver("insertOne", err)
	}
	return id, nil
}

// stamp returns the caller's timestamp for field, or now when absent.
func (p *Pipeline) stamp(attrs domain.Document, field string, now time.Time) (time.Time, error) {
	raw, present := attrs[field]
	if !present || raw == nil {
		return now, nil
	}
	switch t := raw.(type) {
	case time.Time:
		return t, nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	}
	return time.Time{}, p.invalid("create", "/"+field, "must be a date")
}
