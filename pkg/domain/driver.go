package domain

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Dialer opens physical connections. Each successful Dial is one live
// connection that must be released with Client.Disconnect.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Client, error)
}

// Client is an established connection.
type Client interface {
	// Database returns the default database named by the connection URI.
	Database() Database
	Disconnect(ctx context.Context) error
}

// Database is a named group of collections.
type Database interface {
	Name() string
	Collection(name string) Collection
	ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error)
}

// FindOptions narrows a find.
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection bson.M
}

// CountOptions narrows a count.
type CountOptions struct {
	Skip  int64
	Limit int64
}

// UpdateOptions configures update and replace operations.
type UpdateOptions struct {
	Upsert bool
}

// UpdateResult reports the outcome of an update or replace.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    interface{}
}

// Collection is the driver surface the core depends on.
type Collection interface {
	Name() string

	InsertOne(ctx context.Context, doc Document) (interface{}, error)
	InsertMany(ctx context.Context, docs []Document) ([]interface{}, error)

	Find(ctx context.Context, filter bson.M, opts FindOptions) ([]Document, error)
	// FindOne returns nil without an error when nothing matches.
	FindOne(ctx context.Context, filter bson.M, opts FindOptions) (Document, error)
	// FindOneAndUpdate returns the post-update document, or nil when nothing
	// matched and no upsert happened.
	FindOneAndUpdate(ctx context.Context, filter, update bson.M, opts UpdateOptions) (Document, error)
	FindOneAndDelete(ctx context.Context, filter bson.M) (Document, error)

	UpdateOne(ctx context.Context, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	ReplaceOne(ctx context.Context, filter bson.M, replacement Document, opts UpdateOptions) (UpdateResult, error)

	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, filter bson.M) (int64, error)

	CountDocuments(ctx context.Context, filter bson.M, opts CountOptions) (int64, error)
	Distinct(ctx context.Context, field string, filter bson.M) ([]interface{}, error)
	Aggregate(ctx context.Context, pipeline []bson.M) ([]Document, error)

	Indexes() IndexView
}

// IndexView manages the indexes of one collection.
type IndexView interface {
	// List returns one descriptor per live index, as reported by the
	// server (key, name, and any options).
	List(ctx context.Context) ([]bson.D, error)
	// CreateMany creates all specs in a single call and returns their names.
	CreateMany(ctx context.Context, specs []IndexSpec, opts CreateIndexesOptions) ([]string, error)
	DropOne(ctx context.Context, name string) error
}

// CreateIndexesOptions configures index builds.
type CreateIndexesOptions struct {
	// Background requests a build that does not block reads and writes.
	Background bool
}

// Schema validates documents of one entity type. Implementations receive
// documents without system fields.
type Schema interface {
	// Validate returns the validated and coerced value, or a
	// *ValidationError describing every failing field.
	Validate(doc Document) (Document, error)
	// DeepPartial returns a relaxed variant where every field is optional
	// and unknown fields are ignored, recursively.
	DeepPartial() Schema
}

// CollectionAccessor returns the current collection handle, or
// ErrNotConnected when there is none.
type CollectionAccessor func() (Collection, error)
