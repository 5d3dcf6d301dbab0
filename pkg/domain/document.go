package domain

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document represents a document in the database
type Document = bson.M

// ID is the identity key of a bound document.
type ID = primitive.ObjectID

// System fields maintained by the write pipeline.
const (
	IDField        = "_id"
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// NilID is the absent identity key.
var NilID = primitive.NilObjectID

// NewID generates a fresh identity key.
func NewID() ID {
	return primitive.NewObjectID()
}

// DocumentID returns the identity key of doc, if it carries one.
func DocumentID(doc Document) (ID, bool) {
	if doc == nil {
		return NilID, false
	}
	id, ok := doc[IDField].(primitive.ObjectID)
	return id, ok
}

// IsSystemField reports whether field is managed by the write pipeline
// rather than described by a schema.
func IsSystemField(field string) bool {
	switch field {
	case IDField, CreatedAtField, UpdatedAtField:
		return true
	}
	return false
}

// WithoutSystemFields returns a shallow copy of doc without the identity
// key and timestamps.
func WithoutSystemFields(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if !IsSystemField(k) {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
