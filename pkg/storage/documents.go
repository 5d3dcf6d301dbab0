package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// cloneDoc deep-copies a stored document so callers never share maps with
// the engine.
func cloneDoc(doc bson.M) bson.M {
	out, err := normalize(doc)
	if err != nil {
		return doc
	}
	return out
}

// InsertOne inserts a document, assigning an ObjectID when it has no _id.
func (h *collectionHandle) InsertOne(ctx context.Context, doc domain.Document) (interface{}, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	var id interface{}
	err := h.write(func(c *collection) error {
		stored, err := c.insert(doc)
		if err != nil {
			return err
		}
		id = stored["_id"]
		return nil
	})
	return id, err
}

// InsertMany inserts documents in order and stops at the first failure.
// Documents inserted before the failure stay inserted.
func (h *collectionHandle) InsertMany(ctx context.Context, docs []domain.Document) ([]interface{}, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(docs))
	err := h.write(func(c *collection) error {
		for i, doc := range docs {
			stored, err := c.insert(doc)
			if err != nil {
				return fmt.Errorf("write error at index %d: %w", i, err)
			}
			ids = append(ids, stored["_id"])
		}
		return nil
	})
	return ids, err
}

// Find returns matching documents with sort, skip, limit and projection
// applied in that order.
func (h *collectionHandle) Find(ctx context.Context, filter bson.M, opts domain.FindOptions) ([]domain.Document, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	var results []domain.Document
	err := h.read(func(c *collection) error {
		keys := c.matching(filter)
		docs := make([]bson.M, len(keys))
		for i, key := range keys {
			docs[i] = c.docs[key]
		}
		sortDocuments(docs, opts.Sort)
		docs = window(docs, opts.Skip, opts.Limit)

		results = make([]domain.Document, 0, len(docs))
		for _, doc := range docs {
			results = append(results, project(cloneDoc(doc), opts.Projection))
		}
		return nil
	})
	return results, err
}

func window(docs []bson.M, skip, limit int64) []bson.M {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit < 0 {
		limit = -limit
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// FindOne returns the first matching document, or nil when none matches.
func (h *collectionHandle) FindOne(ctx context.Context, filter bson.M, opts domain.FindOptions) (domain.Document, error) {
	opts.Limit = 1
	docs, err := h.Find(ctx, filter, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindOneAndUpdate updates the first matching document and returns it as it
// is after the update.
func (h *collectionHandle) FindOneAndUpdate(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.Document, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	var result domain.Document
	err := h.write(func(c *collection) error {
		if keys := c.matching(filter); len(keys) > 0 {
			next, err := applyUpdate(c.docs[keys[0]], update, false)
			if err != nil {
				return err
			}
			if err := c.replace(keys[0], next); err != nil {
				return err
			}
			result = cloneDoc(next)
			return nil
		}
		if !opts.Upsert {
			return nil
		}
		stored, err := h.upsert(c, filter, update)
		if err != nil {
			return err
		}
		result = cloneDoc(stored)
		return nil
	})
	return result, err
}

func (h *collectionHandle) upsert(c *collection, filter, update bson.M) (bson.M, error) {
	next, err := applyUpdate(upsertSeed(filter), update, true)
	if err != nil {
		return nil, err
	}
	return c.insert(next)
}

// FindOneAndDelete removes the first matching document and returns it.
func (h *collectionHandle) FindOneAndDelete(ctx context.Context, filter bson.M) (domain.Document, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	var result domain.Document
	err := h.write(func(c *collection) error {
		keys := c.matching(filter)
		if len(keys) == 0 {
			return nil
		}
		result = cloneDoc(c.docs[keys[0]])
		c.remove(keys[0])
		return nil
	})
	return result, err
}

func (h *collectionHandle) UpdateOne(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	return h.updateMatching(ctx, filter, update, opts, false)
}

func (h *collectionHandle) UpdateMany(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	return h.updateMatching(ctx, filter, update, opts, true)
}

func (h *collectionHandle) updateMatching(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions, many bool) (domain.UpdateResult, error) {
	var result domain.UpdateResult
	if err := h.check(ctx); err != nil {
		return result, err
	}
	err := h.write(func(c *collection) error {
		keys := c.matching(filter)
		if !many && len(keys) > 1 {
			keys = keys[:1]
		}
		for _, key := range keys {
			prev := c.docs[key]
			next, err := applyUpdate(prev, update, false)
			if err != nil {
				return err
			}
			result.MatchedCount++
			if canonicalKey(prev) == canonicalKey(next) {
				continue
			}
			if err := c.replace(key, next); err != nil {
				return err
			}
			result.ModifiedCount++
		}
		if len(keys) == 0 && opts.Upsert {
			stored, err := h.upsert(c, filter, update)
			if err != nil {
				return err
			}
			result.UpsertedID = stored["_id"]
		}
		return nil
	})
	return result, err
}

// ReplaceOne swaps the first matching document for replacement, keeping
// its _id.
func (h *collectionHandle) ReplaceOne(ctx context.Context, filter bson.M, replacement domain.Document, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	var result domain.UpdateResult
	if err := h.check(ctx); err != nil {
		return result, err
	}
	for k := range replacement {
		if strings.HasPrefix(k, "$") {
			return result, errors.New("replacement document cannot contain keys beginning with '$'")
		}
	}
	next, err := normalize(replacement)
	if err != nil {
		return result, err
	}

	err = h.write(func(c *collection) error {
		if keys := c.matching(filter); len(keys) > 0 {
			prev := c.docs[keys[0]]
			if id, ok := next["_id"]; ok && !ValuesMatch(id, prev["_id"]) {
				return ErrImmutableID
			}
			next["_id"] = prev["_id"]
			result.MatchedCount = 1
			if canonicalKey(prev) == canonicalKey(next) {
				return nil
			}
			if err := c.replace(keys[0], next); err != nil {
				return err
			}
			result.ModifiedCount = 1
			return nil
		}
		if !opts.Upsert {
			return nil
		}
		if _, ok := next["_id"]; !ok {
			if id, ok := upsertSeed(filter)["_id"]; ok {
				next["_id"] = id
			}
		}
		stored, err := c.insert(next)
		if err != nil {
			return err
		}
		result.UpsertedID = stored["_id"]
		return nil
	})
	return result, err
}

func (h *collectionHandle) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	return h.deleteMatching(ctx, filter, false)
}

func (h *collectionHandle) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	return h.deleteMatching(ctx, filter, true)
}

func (h *collectionHandle) deleteMatching(ctx context.Context, filter bson.M, many bool) (int64, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	var deleted int64
	err := h.write(func(c *collection) error {
		keys := c.matching(filter)
		if !many && len(keys) > 1 {
			keys = keys[:1]
		}
		for _, key := range keys {
			c.remove(key)
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (h *collectionHandle) CountDocuments(ctx context.Context, filter bson.M, opts domain.CountOptions) (int64, error) {
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	var count int64
	err := h.read(func(c *collection) error {
		count = int64(len(c.matching(filter)))
		if opts.Skip > 0 {
			count -= opts.Skip
			if count < 0 {
				count = 0
			}
		}
		if opts.Limit > 0 && opts.Limit < count {
			count = opts.Limit
		}
		return nil
	})
	return count, err
}

// Distinct returns the distinct values of field across matching documents,
// unwinding arrays.
func (h *collectionHandle) Distinct(ctx context.Context, field string, filter bson.M) ([]interface{}, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	values := []interface{}{}
	err := h.read(func(c *collection) error {
		seen := make(map[string]bool)
		for _, key := range c.matching(filter) {
			for _, v := range expand(resolvePath(c.docs[key], field)) {
				ck := canonicalKey(v)
				if seen[ck] {
					continue
				}
				seen[ck] = true
				values = append(values, v)
			}
		}
		return nil
	})
	return values, err
}

// Aggregate runs a pipeline of $match, $sort, $skip, $limit, $project and
// $count stages.
func (h *collectionHandle) Aggregate(ctx context.Context, pipeline []bson.M) ([]domain.Document, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	var docs []bson.M
	err := h.read(func(c *collection) error {
		for _, doc := range c.documents() {
			docs = append(docs, cloneDoc(doc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("a pipeline stage specification object must contain exactly one field")
		}
		for name, arg := range stage {
			docs, err = runStage(docs, name, arg)
			if err != nil {
				return nil, err
			}
		}
	}

	out := make([]domain.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out, nil
}

func runStage(docs []bson.M, name string, arg interface{}) ([]bson.M, error) {
	switch name {
	case "$match":
		filter, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("the match filter must be an expression in an object")
		}
		var out []bson.M
		for _, doc := range docs {
			if MatchesFilter(doc, filter) {
				out = append(out, doc)
			}
		}
		return out, nil
	case "$sort":
		spec, ok := arg.(bson.D)
		if !ok {
			m, isDoc := asDoc(arg)
			if !isDoc {
				return nil, fmt.Errorf("the $sort key specification must be an object")
			}
			for k, v := range m {
				spec = append(spec, bson.E{Key: k, Value: v})
			}
		}
		sortDocuments(docs, spec)
		return docs, nil
	case "$skip":
		n, ok := ToFloat64(arg)
		if !ok {
			return nil, fmt.Errorf("invalid argument to $skip stage")
		}
		return window(docs, int64(n), 0), nil
	case "$limit":
		n, ok := ToFloat64(arg)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("the limit must be positive")
		}
		return window(docs, 0, int64(n)), nil
	case "$project":
		projection, ok := asDoc(arg)
		if !ok {
			return nil, fmt.Errorf("$project specification must be an object")
		}
		out := make([]bson.M, len(docs))
		for i, doc := range docs {
			out[i] = project(doc, projection)
		}
		return out, nil
	case "$count":
		field, ok := arg.(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("the count field must be a non-empty string")
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.M{{field: int32(len(docs))}}, nil
	}
	return nil, fmt.Errorf("unrecognized pipeline stage name: '%s'", name)
}
