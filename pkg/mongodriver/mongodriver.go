// Package mongodriver adapts the official MongoDB Go driver to the domain
// driver interfaces.
package mongodriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// DefaultDatabase is used when the URI names no database, as the server
// shell does.
const DefaultDatabase = "test"

// Dialer opens MongoDB connections.
type Dialer struct {
	appName        string
	connectTimeout time.Duration
}

type Option func(*Dialer)

// WithAppName reports name to the server in the connection handshake.
func WithAppName(name string) Option {
	return func(d *Dialer) {
		d.appName = name
	}
}

// WithConnectTimeout bounds the initial connect and ping.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.connectTimeout = timeout
	}
}

func NewDialer(options ...Option) *Dialer {
	d := &Dialer{connectTimeout: 10 * time.Second}
	for _, option := range options {
		option(d)
	}
	return d
}

// Dial connects to uri and verifies the server answers a ping.
func (d *Dialer) Dial(ctx context.Context, uri string) (domain.Client, error) {
	dbName, err := DatabaseName(uri)
	if err != nil {
		return nil, err
	}

	opts := options.Client().ApplyURI(uri)
	if d.appName != "" {
		opts.SetAppName(d.appName)
	}
	if d.connectTimeout > 0 {
		opts.SetConnectTimeout(d.connectTimeout)
	}

	c, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return &client{client: c, db: c.Database(dbName)}, nil
}

// DatabaseName returns the default database named by a mongodb:// or
// mongodb+srv:// URI.
func DatabaseName(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "mongodb://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "mongodb+srv://")
	}
	if !ok {
		return "", fmt.Errorf("unsupported connection string %q: scheme must be mongodb or mongodb+srv", uri)
	}
	_, path, found := strings.Cut(rest, "/")
	if !found {
		return DefaultDatabase, nil
	}
	name, _, _ := strings.Cut(path, "?")
	if name == "" {
		return DefaultDatabase, nil
	}
	if strings.ContainsAny(name, `/\. "$`) {
		return "", fmt.Errorf("invalid database name %q", name)
	}
	return name, nil
}

type client struct {
	client *mongo.Client
	db     *mongo.Database
}

func (c *client) Database() domain.Database {
	return &database{db: c.db}
}

func (c *client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type database struct {
	db *mongo.Database
}

func (d *database) Name() string {
	return d.db.Name()
}

func (d *database) Collection(name string) domain.Collection {
	return &collection{coll: d.db.Collection(name)}
}

func (d *database) ListCollectionNames(ctx context.Context, filter bson.M) ([]string, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return d.db.ListCollectionNames(ctx, filter)
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) Name() string {
	return c.coll.Name()
}

func (c *collection) InsertOne(ctx context.Context, doc domain.Document) (interface{}, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *collection) InsertMany(ctx context.Context, docs []domain.Document) ([]interface{}, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	batch := make([]interface{}, len(docs))
	for i, doc := range docs {
		batch[i] = doc
	}
	res, err := c.coll.InsertMany(ctx, batch)
	if res == nil {
		return nil, err
	}
	return res.InsertedIDs, err
}

func (c *collection) Find(ctx context.Context, filter bson.M, opts domain.FindOptions) ([]domain.Document, error) {
	cursor, err := c.coll.Find(ctx, orEmpty(filter), findOptions(opts))
	if err != nil {
		return nil, err
	}
	docs := []domain.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *collection) FindOne(ctx context.Context, filter bson.M, opts domain.FindOptions) (domain.Document, error) {
	o := options.FindOne()
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	return decodeOne(c.coll.FindOne(ctx, orEmpty(filter), o))
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.Document, error) {
	o := options.FindOneAndUpdate().
		SetUpsert(opts.Upsert).
		SetReturnDocument(options.After)
	return decodeOne(c.coll.FindOneAndUpdate(ctx, orEmpty(filter), update, o))
}

func (c *collection) FindOneAndDelete(ctx context.Context, filter bson.M) (domain.Document, error) {
	return decodeOne(c.coll.FindOneAndDelete(ctx, orEmpty(filter)))
}

func (c *collection) UpdateOne(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, orEmpty(filter), update, options.Update().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func (c *collection) UpdateMany(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, orEmpty(filter), update, options.Update().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func (c *collection) ReplaceOne(ctx context.Context, filter bson.M, replacement domain.Document, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	res, err := c.coll.ReplaceOne(ctx, orEmpty(filter), replacement, options.Replace().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func (c *collection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, orEmpty(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *collection) CountDocuments(ctx context.Context, filter bson.M, opts domain.CountOptions) (int64, error) {
	o := options.Count()
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	return c.coll.CountDocuments(ctx, orEmpty(filter), o)
}

func (c *collection) Distinct(ctx context.Context, field string, filter bson.M) ([]interface{}, error) {
	return c.coll.Distinct(ctx, field, orEmpty(filter))
}

func (c *collection) Aggregate(ctx context.Context, pipeline []bson.M) ([]domain.Document, error) {
	stages := make(bson.A, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	cursor, err := c.coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}
	docs := []domain.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *collection) Indexes() domain.IndexView {
	return &indexView{view: c.coll.Indexes()}
}

func findOptions(opts domain.FindOptions) *options.FindOptions {
	o := options.Find()
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	return o
}

// decodeOne maps "no document" to a nil result.
func decodeOne(res *mongo.SingleResult) (domain.Document, error) {
	var doc domain.Document
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

func updateResult(res *mongo.UpdateResult) domain.UpdateResult {
	if res == nil {
		return domain.UpdateResult{}
	}
	return domain.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func orEmpty(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
