package lookup

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// Defaults for the batching window.
const (
	DefaultWait          = 2 * time.Millisecond
	DefaultBatchCapacity = 1000
)

// Accessor returns the current collection handle, or domain.ErrNotConnected.
type Accessor = domain.CollectionAccessor

// Loader coalesces concurrent by-id reads issued within one wait window into
// a single $in query. Nothing is cached between batches.
type Loader struct {
	access   Accessor
	wait     time.Duration
	capacity int
	loader   *dataloader.Loader[domain.ID, domain.Document]
}

type Option func(*Loader)

// WithWait sets how long the loader collects keys before querying.
func WithWait(d time.Duration) Option {
	return func(l *Loader) {
		l.wait = d
	}
}

// WithBatchCapacity caps the number of keys per query.
func WithBatchCapacity(n int) Option {
	return func(l *Loader) {
		l.capacity = n
	}
}

// New creates a loader reading through access.
func New(access Accessor, options ...Option) *Loader {
	l := &Loader{
		access:   access,
		wait:     DefaultWait,
		capacity: DefaultBatchCapacity,
	}
	for _, option := range options {
		option(l)
	}
	l.loader = dataloader.NewBatchedLoader(l.batch,
		dataloader.WithCache[domain.ID, domain.Document](&dataloader.NoCache[domain.ID, domain.Document]{}),
		dataloader.WithWait[domain.ID, domain.Document](l.wait),
		dataloader.WithBatchCapacity[domain.ID, domain.Document](l.capacity),
	)
	return l
}

// FindByID returns the document with id, or nil when id is the zero value
// or nothing matches.
func (l *Loader) FindByID(ctx context.Context, id domain.ID) (domain.Document, error) {
	if _, err := l.access(); err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, nil
	}
	return l.loader.Load(ctx, id)()
}

// FindByIDs returns one slot per requested id, in request order. Zero ids
// and unmatched ids yield nil slots; duplicates are preserved. The first
// per-key error is returned alongside the partial result.
func (l *Loader) FindByIDs(ctx context.Context, ids []domain.ID) ([]domain.Document, error) {
	if _, err := l.access(); err != nil {
		return nil, err
	}

	thunks := make([]dataloader.Thunk[domain.Document], len(ids))
	for i, id := range ids {
		if !id.IsZero() {
			thunks[i] = l.loader.Load(ctx, id)
		}
	}

	docs := make([]domain.Document, len(ids))
	var firstErr error
	for i, thunk := range thunks {
		if thunk == nil {
			continue
		}
		doc, err := thunk()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		docs[i] = doc
	}
	return docs, firstErr
}

// batch runs one query for the distinct ids of a batch and scatters the
// documents back by _id.
func (l *Loader) batch(ctx context.Context, ids []domain.ID) []*dataloader.Result[domain.Document] {
	results := make([]*dataloader.Result[domain.Document], len(ids))
	fail := func(err error) []*dataloader.Result[domain.Document] {
		for i := range results {
			results[i] = &dataloader.Result[domain.Document]{Error: err}
		}
		return results
	}

	coll, err := l.access()
	if err != nil {
		return fail(err)
	}

	seen := make(map[domain.ID]bool, len(ids))
	distinct := make(bson.A, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	docs, err := coll.Find(ctx, bson.M{domain.IDField: bson.M{"$in": distinct}}, domain.FindOptions{})
	if err != nil {
		return fail(domain.WrapDriver("find", err))
	}

	byID := make(map[domain.ID]domain.Document, len(docs))
	for _, doc := range docs {
		if id, ok := domain.DocumentID(doc); ok {
			byID[id] = doc
		}
	}

	for i, id := range ids {
		results[i] = &dataloader.Result[domain.Document]{Data: byID[id]}
	}
	return results
}
