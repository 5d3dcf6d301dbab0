package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// Scheme is the URI scheme served by the embedded engine.
const Scheme = "memdb"

// ErrClientDisconnected is returned by every operation on a client, or on a
// handle obtained from it, after Disconnect.
var ErrClientDisconnected = errors.New("client is disconnected")

// Engine is an embedded document store that speaks the same driver surface
// as a real server. Databases and their collections live in memory and can
// be persisted to a single snapshot file.
type Engine struct {
	mu        sync.RWMutex
	databases map[string]map[string]*collection

	// Configuration
	dialDelay    time.Duration
	dialHook     func(ctx context.Context, uri string) error
	snapshotFile string
	logger       *log.Logger

	loadOnce sync.Once
	loadErr  error

	dials       atomic.Int64
	openClients atomic.Int64
}

// NewEngine creates a new embedded engine
func NewEngine(options ...EngineOption) *Engine {
	engine := &Engine{
		databases: make(map[string]map[string]*collection),
		logger:    log.Default(),
	}

	for _, option := range options {
		option(engine)
	}

	return engine
}

// Dial opens a client on the database named by uri, e.g. "memdb://app".
func (e *Engine) Dial(ctx context.Context, uri string) (domain.Client, error) {
	e.dials.Add(1)

	dbName, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	if e.dialDelay > 0 {
		timer := time.NewTimer(e.dialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if e.dialHook != nil {
		if err := e.dialHook(ctx, uri); err != nil {
			return nil, err
		}
	}

	if e.snapshotFile != "" {
		e.loadOnce.Do(func() {
			e.loadErr = e.LoadFromFile(e.snapshotFile)
		})
		if e.loadErr != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", e.loadErr)
		}
	}

	e.openClients.Add(1)
	e.logger.Printf("DEBUG: Opened client on database '%s'", dbName)
	return &client{engine: e, db: dbName}, nil
}

// Dials returns how many times Dial has been called.
func (e *Engine) Dials() int64 {
	return e.dials.Load()
}

// OpenClients returns how many dialed clients have not been disconnected.
func (e *Engine) OpenClients() int64 {
	return e.openClients.Load()
}

// ParseURI extracts the database name from a memdb URI. Both
// "memdb://name" and "memdb://host/name" are accepted.
func ParseURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid connection string %q: %w", uri, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("unsupported scheme %q: expected %s", u.Scheme, Scheme)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		name = u.Host
	}
	if name == "" {
		return "", fmt.Errorf("connection string %q names no database", uri)
	}
	return name, nil
}

// getCollection returns the collection if it exists.
func (e *Engine) getCollection(dbName, collName string) *collection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.databases[dbName][collName]
}

// getOrCreateCollection registers the collection on first use. It only
// becomes visible to listCollections once it holds data or indexes.
func (e *Engine) getOrCreateCollection(dbName, collName string) *collection {
	if coll := e.getCollection(dbName, collName); coll != nil {
		return coll
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check in case another goroutine created it
	db, exists := e.databases[dbName]
	if !exists {
		db = make(map[string]*collection)
		e.databases[dbName] = db
	}
	if coll, exists := db[collName]; exists {
		return coll
	}
	coll := newCollection(collName)
	db[collName] = coll
	return coll
}

// withCollectionReadLock executes fn with a read lock on the collection. A
// missing collection is presented as an empty one.
func (e *Engine) withCollectionReadLock(dbName, collName string, fn func(*collection) error) error {
	coll := e.getCollection(dbName, collName)
	if coll == nil {
		return fn(newCollection(collName))
	}
	coll.mu.RLock()
	defer coll.mu.RUnlock()
	return fn(coll)
}

// withCollectionWriteLock executes fn with a write lock on the collection
func (e *Engine) withCollectionWriteLock(dbName, collName string, fn func(*collection) error) error {
	coll := e.getOrCreateCollection(dbName, collName)
	coll.mu.Lock()
	defer coll.mu.Unlock()
	return fn(coll)
}

// collectionNames lists the collections of a database that exist.
func (e *Engine) collectionNames(dbName string) []string {
	e.mu.RLock()
	colls := make([]*collection, 0, len(e.databases[dbName]))
	for _, coll := range e.databases[dbName] {
		colls = append(colls, coll)
	}
	e.mu.RUnlock()

	var names []string
	for _, coll := range colls {
		coll.mu.RLock()
		if coll.created {
			names = append(names, coll.name)
		}
		coll.mu.RUnlock()
	}
	return names
}
