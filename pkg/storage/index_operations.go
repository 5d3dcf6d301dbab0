package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

const idIndexName = "_id_"

// index stores a mapping from the canonical tuple of a document's key
// fields to the keys of the documents holding it.
type index struct {
	name       string
	spec       domain.IndexSpec
	background bool
	unique     bool
	inverted   map[string][]string
}

func newIndex(spec domain.IndexSpec, background bool) *index {
	spec.Options.Name = spec.IndexName()
	return &index{
		name:       spec.Options.Name,
		spec:       spec,
		background: background,
		unique:     spec.Options.Unique,
		inverted:   make(map[string][]string),
	}
}

func newIDIndex() *index {
	idx := newIndex(domain.IndexSpec{
		Keys:    bson.D{{Key: "_id", Value: int32(1)}},
		Options: domain.IndexOptions{Name: idIndexName},
	}, false)
	idx.unique = true
	return idx
}

// descriptor renders the index the way listIndexes reports it.
func (idx *index) descriptor() bson.D {
	d := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: idx.spec.Keys},
		{Key: "name", Value: idx.name},
	}
	for _, e := range idx.spec.Descriptor() {
		if e.Key == "key" || e.Key == "name" {
			continue
		}
		d = append(d, e)
	}
	if idx.background {
		d = append(d, bson.E{Key: "background", Value: true})
	}
	return d
}

// tuple returns the index entry for doc, or false when a sparse or partial
// index skips the document.
func (idx *index) tuple(doc bson.M) (string, bool) {
	if filter := idx.spec.Options.PartialFilterExpression; len(filter) > 0 && !MatchesFilter(doc, filter) {
		return "", false
	}
	parts := make([]string, len(idx.spec.Keys))
	present := false
	for i, k := range idx.spec.Keys {
		if values := resolvePath(doc, k.Key); len(values) > 0 {
			present = true
			parts[i] = canonicalKey(values[0])
		} else {
			parts[i] = canonicalKey(nil)
		}
	}
	if idx.spec.Options.Sparse && !present {
		return "", false
	}
	return "{" + strings.Join(parts, ", ") + "}", true
}

// Query returns the keys of documents whose indexed fields equal tuple.
func (idx *index) Query(tuple string) []string {
	return idx.inverted[tuple]
}

func (idx *index) add(docKey string, doc bson.M) {
	if tuple, ok := idx.tuple(doc); ok {
		idx.inverted[tuple] = append(idx.inverted[tuple], docKey)
	}
}

func (idx *index) remove(docKey string, doc bson.M) {
	tuple, ok := idx.tuple(doc)
	if !ok {
		return
	}
	keys := idx.inverted[tuple]
	for i, k := range keys {
		if k == docKey {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(idx.inverted, tuple)
		return
	}
	idx.inverted[tuple] = keys
}

// conflicts reports whether a document other than self already holds the
// tuple of doc.
func (idx *index) conflicts(self string, doc bson.M) (string, bool) {
	tuple, ok := idx.tuple(doc)
	if !ok {
		return "", false
	}
	for _, k := range idx.inverted[tuple] {
		if k != self {
			return tuple, true
		}
	}
	return "", false
}

// build indexes every stored document, failing on the first duplicate when
// the index is unique.
func (idx *index) build(c *collection) error {
	for _, key := range c.order {
		doc := c.docs[key]
		if idx.unique {
			if tuple, ok := idx.conflicts(key, doc); ok {
				return duplicateKeyError(c.name, idx.name, tuple)
			}
		}
		idx.add(key, doc)
	}
	return nil
}

// definition renders the key pattern and options, ignoring the name.
func definition(spec domain.IndexSpec) string {
	keys := make([]string, len(spec.Keys))
	for i, e := range spec.Keys {
		keys[i] = strconv.Quote(e.Key) + ":" + canonicalKey(e.Value)
	}
	opts := bson.M{}
	for _, e := range spec.Descriptor() {
		if e.Key != "key" && e.Key != "name" {
			opts[e.Key] = e.Value
		}
	}
	return "[" + strings.Join(keys, ",") + "]" + canonicalKey(opts)
}

// SpecFromDescriptor parses a listIndexes descriptor back into a spec.
func SpecFromDescriptor(d bson.D) (domain.IndexSpec, error) {
	var spec domain.IndexSpec
	rawKeys, ok := domain.Lookup(d, "key")
	if !ok {
		return spec, fmt.Errorf("index descriptor has no key")
	}
	switch keys := rawKeys.(type) {
	case bson.D:
		spec.Keys = keys
	case bson.M:
		// Unordered; only safe for single-field keys.
		for k, v := range keys {
			spec.Keys = append(spec.Keys, bson.E{Key: k, Value: v})
		}
	default:
		return spec, fmt.Errorf("index key has unexpected type %T", rawKeys)
	}

	for _, e := range d {
		switch e.Key {
		case "name":
			spec.Options.Name, _ = e.Value.(string)
		case "unique":
			spec.Options.Unique = truthy(e.Value)
		case "sparse":
			spec.Options.Sparse = truthy(e.Value)
		case "expireAfterSeconds":
			if f, ok := ToFloat64(e.Value); ok {
				seconds := int32(f)
				spec.Options.ExpireAfterSeconds = &seconds
			}
		case "partialFilterExpression":
			spec.Options.PartialFilterExpression, _ = asDoc(e.Value)
		case "collation":
			if c, ok := asDoc(e.Value); ok {
				locale, _ := c["locale"].(string)
				strength, _ := ToFloat64(c["strength"])
				spec.Options.Collation = &domain.Collation{Locale: locale, Strength: int(strength)}
			}
		}
	}
	return spec, nil
}

// indexView manages the indexes of one collection.
type indexView struct {
	coll *collectionHandle
}

// List returns one descriptor per index, or nothing when the collection
// does not exist.
func (iv *indexView) List(ctx context.Context) ([]bson.D, error) {
	if err := iv.coll.check(ctx); err != nil {
		return nil, err
	}
	var out []bson.D
	err := iv.coll.read(func(c *collection) error {
		if !c.created {
			return nil
		}
		for _, idx := range c.indexes {
			out = append(out, idx.descriptor())
		}
		return nil
	})
	return out, err
}

// CreateMany builds every spec or none of them. Re-declaring an identical
// index is a no-op.
func (iv *indexView) CreateMany(ctx context.Context, specs []domain.IndexSpec, opts domain.CreateIndexesOptions) ([]string, error) {
	if err := iv.coll.check(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(specs))
	err := iv.coll.write(func(c *collection) error {
		var built []*index
		rollback := func() {
			for _, idx := range built {
				if i, _ := c.findIndex(idx.name); i >= 0 {
					c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
				}
			}
		}

		for _, spec := range specs {
			if len(spec.Keys) == 0 {
				rollback()
				return fmt.Errorf("index key pattern must not be empty")
			}
			name := spec.IndexName()
			if _, existing := c.findIndex(name); existing != nil {
				if definition(existing.spec) != definition(spec) {
					rollback()
					return fmt.Errorf("index with name: %s already exists with different options", name)
				}
				names = append(names, name)
				continue
			}
			for _, existing := range c.indexes {
				if definition(existing.spec) == definition(spec) {
					rollback()
					return fmt.Errorf("index already exists with a different name: %s", existing.name)
				}
			}

			idx := newIndex(spec, opts.Background)
			if err := idx.build(c); err != nil {
				rollback()
				return err
			}
			c.indexes = append(c.indexes, idx)
			built = append(built, idx)
			names = append(names, name)
		}
		c.created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		iv.coll.client.engine.logger.Printf("DEBUG: Ensured index '%s' on collection '%s'", name, iv.coll.name)
	}
	return names, nil
}

// DropOne removes the named index. The _id index cannot be dropped.
func (iv *indexView) DropOne(ctx context.Context, name string) error {
	if err := iv.coll.check(ctx); err != nil {
		return err
	}
	if name == idIndexName {
		return fmt.Errorf("cannot drop _id index")
	}
	return iv.coll.write(func(c *collection) error {
		if !c.created {
			return fmt.Errorf("ns not found: %s", c.name)
		}
		i, _ := c.findIndex(name)
		if i < 0 {
			return fmt.Errorf("index not found with name [%s]", name)
		}
		c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
		return nil
	})
}
