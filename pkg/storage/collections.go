package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// client is one dialed connection to an engine database.
type client struct {
	engine *Engine
	db     string
	closed atomic.Bool
	once   sync.Once
}

func (c *client) Database() domain.Database {
	return &database{client: c, name: c.db}
}

// Disconnect releases the client and, when the engine persists to a
// snapshot file, writes the snapshot.
func (c *client) Disconnect(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.closed.Store(true)
		c.engine.openClients.Add(-1)
	})
	if !first {
		return ErrClientDisconnected
	}

	c.engine.logger.Printf("DEBUG: Closed client on database '%s'", c.db)
	if c.engine.snapshotFile == "" {
		return nil
	}
	if err := c.engine.SaveToFile(c.engine.snapshotFile); err != nil {
		c.engine.logger.Printf("ERROR: Failed to save snapshot on disconnect: %v", err)
		return err
	}
	return nil
}

type database struct {
	client *client
	name   string
}

func (d *database) Name() string {
	return d.name
}

func (d *database) Collection(name string) domain.Collection {
	return &collectionHandle{client: d.client, db: d.name, name: name}
}

// ListCollectionNames returns the sorted names of existing collections
// whose {name, type} description matches filter.
func (d *database) ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error) {
	if err := checkClient(ctx, d.client); err != nil {
		return nil, err
	}
	names := []string{}
	for _, name := range d.client.engine.collectionNames(d.name) {
		if MatchesFilter(bson.M{"name": name, "type": "collection"}, filter) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// collectionHandle implements domain.Collection on top of the engine.
type collectionHandle struct {
	client *client
	db     string
	name   string
}

func (h *collectionHandle) Name() string {
	return h.name
}

func (h *collectionHandle) Indexes() domain.IndexView {
	return &indexView{coll: h}
}

func checkClient(ctx context.Context, c *client) error {
	if c.closed.Load() {
		return ErrClientDisconnected
	}
	return ctx.Err()
}

func (h *collectionHandle) check(ctx context.Context) error {
	return checkClient(ctx, h.client)
}

func (h *collectionHandle) read(fn func(*collection) error) error {
	return h.client.engine.withCollectionReadLock(h.db, h.name, fn)
}

func (h *collectionHandle) write(fn func(*collection) error) error {
	return h.client.engine.withCollectionWriteLock(h.db, h.name, fn)
}
