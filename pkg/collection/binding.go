package collection

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/indexing"
	"github.com/adfharrison1/docbind/pkg/lookup"
	"github.com/adfharrison1/docbind/pkg/writes"
)

// DefaultScratchCollection holds the transient copies made by full-validation
// updates.
const DefaultScratchCollection = "_docbind_scratch"

// Lifecycle is the subscription surface of a connection.Manager.
type Lifecycle interface {
	OnConnected(ctx context.Context, fn connection.ConnectedFunc) (func(), error)
	OnDisconnected(fn connection.DisconnectedFunc) func()
}

// Config declares one entity type.
type Config struct {
	// Schema validates writes. Nil disables validation.
	Schema  domain.Schema
	Indexes []domain.IndexSpec
	// ScratchCollection defaults to DefaultScratchCollection.
	ScratchCollection string
	// BatchWait defaults to lookup.DefaultWait.
	BatchWait time.Duration
	Clock     func() time.Time
	Logger    *log.Logger
}

// Binding ties one collection to its schema and declared indexes. It holds
// no handle until the first connect and drops it on every disconnect.
type Binding struct {
	name       string
	scratch    string
	reconciler *indexing.Reconciler
	loader     *lookup.Loader
	pipeline   *writes.Pipeline
	logger     *log.Logger

	mu   sync.RWMutex
	db   domain.Database
	coll domain.Collection

	unsubscribe []func()
}

var _ domain.Collection = (*Binding)(nil)

// New declares the collection called name and subscribes it to lifecycle.
// When a connection is already established the binding attaches to it and
// reconciles its indexes before New returns.
func New(ctx context.Context, lifecycle Lifecycle, name string, cfg Config) (*Binding, error) {
	if name == "" {
		return nil, errors.New("collection name must not be empty")
	}
	if cfg.ScratchCollection == "" {
		cfg.ScratchCollection = DefaultScratchCollection
	}
	if cfg.ScratchCollection == name {
		return nil, errors.New("collection cannot be its own scratch collection")
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = lookup.DefaultWait
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	reconciler, err := indexing.NewReconciler(cfg.Indexes, indexing.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}

	b := &Binding{
		name:       name,
		scratch:    cfg.ScratchCollection,
		reconciler: reconciler,
		logger:     cfg.Logger,
	}
	b.loader = lookup.New(b.access, lookup.WithWait(cfg.BatchWait))

	pipelineOptions := []writes.Option{writes.WithLogger(cfg.Logger)}
	if cfg.Clock != nil {
		pipelineOptions = append(pipelineOptions, writes.WithClock(cfg.Clock))
	}
	b.pipeline = writes.New(name, cfg.Schema, b.access, b.scratchAccess, pipelineOptions...)

	b.unsubscribe = append(b.unsubscribe, lifecycle.OnDisconnected(b.detach))
	unsubscribe, err := lifecycle.OnConnected(ctx, b.attach)
	b.unsubscribe = append(b.unsubscribe, unsubscribe)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Close unsubscribes the binding from its lifecycle and drops the handle.
func (b *Binding) Close() {
	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
	b.unsubscribe = nil
	_ = b.detach(context.Background())
}

func (b *Binding) attach(ctx context.Context, db domain.Database) error {
	coll := db.Collection(b.name)
	b.mu.Lock()
	b.db = db
	b.coll = coll
	b.mu.Unlock()

	_, err := b.reconcile(ctx, db, coll)
	return err
}

func (b *Binding) detach(context.Context) error {
	b.mu.Lock()
	b.db = nil
	b.coll = nil
	b.mu.Unlock()
	return nil
}

func (b *Binding) reconcile(ctx context.Context, db domain.Database, coll domain.Collection) (indexing.Result, error) {
	result, err := b.reconciler.Reconcile(ctx, db, coll)
	if err != nil {
		b.logger.Printf("ERROR: failed to sync indexes of %s: %v", b.name, err)
		return result, err
	}
	if result.Changed() {
		b.logger.Printf("INFO: synced indexes of %s: dropped %v, created %v", b.name, result.Dropped, result.Created)
	}
	return result, nil
}

// SyncIndexes reconciles the live indexes with the declared ones again.
func (b *Binding) SyncIndexes(ctx context.Context) (indexing.Result, error) {
	b.mu.RLock()
	db, coll := b.db, b.coll
	b.mu.RUnlock()
	if coll == nil {
		return indexing.Result{}, domain.ErrNotConnected
	}
	return b.reconcile(ctx, db, coll)
}

// Name returns the collection name. It is available before connecting.
func (b *Binding) Name() string {
	return b.name
}

// Handle returns the underlying collection, or nil when not connected.
func (b *Binding) Handle() domain.Collection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.coll
}

// IndexSpecs returns the declared indexes.
func (b *Binding) IndexSpecs() []domain.IndexSpec {
	return b.reconciler.Specs()
}

func (b *Binding) access() (domain.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.coll == nil {
		return nil, domain.ErrNotConnected
	}
	return b.coll, nil
}

func (b *Binding) scratchAccess() (domain.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, domain.ErrNotConnected
	}
	return b.db.Collection(b.scratch), nil
}

// FindByID returns the document with id through the batching loader.
func (b *Binding) FindByID(ctx context.Context, id domain.ID) (domain.Document, error) {
	return b.loader.FindByID(ctx, id)
}

// FindByIDs returns one slot per id, in order, through the batching loader.
func (b *Binding) FindByIDs(ctx context.Context, ids []domain.ID) ([]domain.Document, error) {
	return b.loader.FindByIDs(ctx, ids)
}

func (b *Binding) CreateDocument(ctx context.Context, attrs domain.Document) (domain.ID, error) {
	return b.pipeline.CreateDocument(ctx, attrs)
}

func (b *Binding) UpdateDocument(ctx context.Context, doc domain.Document, update bson.M, opts writes.UpdateOptions) (domain.Document, error) {
	return b.pipeline.UpdateDocument(ctx, doc, update, opts)
}

func (b *Binding) Exists(ctx context.Context, query bson.M) (bool, error) {
	return b.pipeline.Exists(ctx, query)
}

func (b *Binding) ProcessInBatches(ctx context.Context, query bson.M, batchSize int, handler writes.BatchHandler) error {
	return b.pipeline.ProcessInBatches(ctx, query, batchSize, handler)
}

func (b *Binding) DeleteDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	return b.pipeline.DeleteDocument(ctx, doc)
}

func (b *Binding) DeleteDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	return b.pipeline.DeleteDocuments(ctx, docs)
}
