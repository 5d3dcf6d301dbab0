package storage

import (
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateKey is wrapped by every unique index violation.
var ErrDuplicateKey = errors.New("E11000 duplicate key error")

// collection holds the documents of one collection keyed by the canonical
// form of their _id, plus the order in which they were inserted.
type collection struct {
	mu      sync.RWMutex
	name    string
	created bool
	docs    map[string]bson.M
	order   []string
	indexes []*index
}

func newCollection(name string) *collection {
	return &collection{
		name:    name,
		docs:    make(map[string]bson.M),
		indexes: []*index{newIDIndex()},
	}
}

func duplicateKeyError(collName, indexName string, key string) error {
	return fmt.Errorf("%w collection: %s index: %s dup key: %s", ErrDuplicateKey, collName, indexName, key)
}

// documents returns stored documents in insertion order.
func (c *collection) documents() []bson.M {
	out := make([]bson.M, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.docs[key])
	}
	return out
}

// matching returns the keys of documents that match filter, in insertion
// order.
func (c *collection) matching(filter bson.M) []string {
	var keys []string
	for _, key := range c.order {
		if MatchesFilter(c.docs[key], filter) {
			keys = append(keys, key)
		}
	}
	return keys
}

// insert stores doc, assigning an ObjectID when it has no _id.
func (c *collection) insert(doc bson.M) (bson.M, error) {
	stored, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = primitive.NewObjectID()
	}
	key := canonicalKey(stored["_id"])
	if _, exists := c.docs[key]; exists {
		return nil, duplicateKeyError(c.name, idIndexName, key)
	}
	if err := c.checkUnique(key, stored); err != nil {
		return nil, err
	}

	c.docs[key] = stored
	c.order = append(c.order, key)
	for _, idx := range c.indexes {
		idx.add(key, stored)
	}
	c.created = true
	return stored, nil
}

// replace swaps the document stored under key for next. The _id must not
// change.
func (c *collection) replace(key string, next bson.M) error {
	prev := c.docs[key]
	if !ValuesMatch(prev["_id"], next["_id"]) {
		return ErrImmutableID
	}
	if err := c.checkUnique(key, next); err != nil {
		return err
	}
	for _, idx := range c.indexes {
		idx.remove(key, prev)
		idx.add(key, next)
	}
	c.docs[key] = next
	return nil
}

func (c *collection) remove(key string) {
	doc, exists := c.docs[key]
	if !exists {
		return
	}
	for _, idx := range c.indexes {
		idx.remove(key, doc)
	}
	delete(c.docs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// checkUnique reports the first unique index doc would violate. The
// document stored under self does not conflict with itself.
func (c *collection) checkUnique(self string, doc bson.M) error {
	for _, idx := range c.indexes {
		if !idx.unique {
			continue
		}
		if tuple, ok := idx.conflicts(self, doc); ok {
			return duplicateKeyError(c.name, idx.name, tuple)
		}
	}
	return nil
}

func (c *collection) findIndex(name string) (int, *index) {
	for i, idx := range c.indexes {
		if idx.name == name {
			return i, idx
		}
	}
	return -1, nil
}
