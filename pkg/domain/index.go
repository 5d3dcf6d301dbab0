package domain

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Collation is a string comparison rule attached to an index.
type Collation struct {
	Locale   string
	Strength int
}

// CaseInsensitiveCollation compares strings ignoring case.
var CaseInsensitiveCollation = Collation{Locale: "en", Strength: 2}

// IndexOptions are the driver-level options of a declared index.
type IndexOptions struct {
	Name                    string
	Unique                  bool
	Sparse                  bool
	ExpireAfterSeconds      *int32
	PartialFilterExpression bson.M
	Collation               *Collation
}

// IndexSpec declares one desired index: an ordered key pattern plus options.
type IndexSpec struct {
	Keys    bson.D
	Options IndexOptions
}

// NewIndex declares an index on keys, given as alternating field names and
// directions: NewIndex("projectId", 1, "occurredAt", -1).
func NewIndex(pairs ...interface{}) IndexSpec {
	keys := make(bson.D, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		field, _ := pairs[i].(string)
		keys = append(keys, bson.E{Key: field, Value: pairs[i+1]})
	}
	return IndexSpec{Keys: keys}
}

// Unique marks the index unique.
func (s IndexSpec) Unique() IndexSpec {
	s.Options.Unique = true
	return s
}

// Named sets an explicit index name.
func (s IndexSpec) Named(name string) IndexSpec {
	s.Options.Name = name
	return s
}

// ExpireAfter turns the index into a TTL index.
func (s IndexSpec) ExpireAfter(seconds int32) IndexSpec {
	s.Options.ExpireAfterSeconds = &seconds
	return s
}

// DefaultName derives the server-style name, e.g. "email_1" or "a_1_b_-1".
func (s IndexSpec) DefaultName() string {
	parts := make([]string, 0, len(s.Keys)*2)
	for _, e := range s.Keys {
		parts = append(parts, e.Key, fmt.Sprint(e.Value))
	}
	return strings.Join(parts, "_")
}

// IndexName returns the explicit name or the default one.
func (s IndexSpec) IndexName() string {
	if s.Options.Name != "" {
		return s.Options.Name
	}
	return s.DefaultName()
}

// Descriptor renders the spec the way listIndexes reports an index. Only
// options that were set are included so the descriptor can be matched as a
// subset of a live one.
func (s IndexSpec) Descriptor() bson.D {
	d := bson.D{{Key: "key", Value: s.Keys}}
	if s.Options.Name != "" {
		d = append(d, bson.E{Key: "name", Value: s.Options.Name})
	}
	if s.Options.Unique {
		d = append(d, bson.E{Key: "unique", Value: true})
	}
	if s.Options.Sparse {
		d = append(d, bson.E{Key: "sparse", Value: true})
	}
	if s.Options.ExpireAfterSeconds != nil {
		d = append(d, bson.E{Key: "expireAfterSeconds", Value: *s.Options.ExpireAfterSeconds})
	}
	if len(s.Options.PartialFilterExpression) > 0 {
		d = append(d, bson.E{Key: "partialFilterExpression", Value: s.Options.PartialFilterExpression})
	}
	if s.Options.Collation != nil {
		d = append(d, bson.E{Key: "collation", Value: bson.D{
			{Key: "locale", Value: s.Options.Collation.Locale},
			{Key: "strength", Value: s.Options.Collation.Strength},
		}})
	}
	return d
}

// Lookup returns the value stored under key in d.
func Lookup(d bson.D, key string) (interface{}, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
