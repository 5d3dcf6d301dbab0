package collection

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// The methods below forward to the live collection unchanged. Each fails
// with domain.ErrNotConnected when no connection is established.

func (b *Binding) InsertOne(ctx context.Context, doc domain.Document) (interface{}, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.InsertOne(ctx, doc)
}

func (b *Binding) InsertMany(ctx context.Context, docs []domain.Document) ([]interface{}, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.InsertMany(ctx, docs)
}

func (b *Binding) Find(ctx context.Context, filter bson.M, opts domain.FindOptions) ([]domain.Document, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.Find(ctx, filter, opts)
}

func (b *Binding) FindOne(ctx context.Context, filter bson.M, opts domain.FindOptions) (domain.Document, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.FindOne(ctx, filter, opts)
}

func (b *Binding) FindOneAndUpdate(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.Document, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.FindOneAndUpdate(ctx, filter, update, opts)
}

func (b *Binding) FindOneAndDelete(ctx context.Context, filter bson.M) (domain.Document, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.FindOneAndDelete(ctx, filter)
}

func (b *Binding) UpdateOne(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	coll, err := b.access()
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return coll.UpdateOne(ctx, filter, update, opts)
}

func (b *Binding) UpdateMany(ctx context.Context, filter, update bson.M, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	coll, err := b.access()
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return coll.UpdateMany(ctx, filter, update, opts)
}

func (b *Binding) ReplaceOne(ctx context.Context, filter bson.M, replacement domain.Document, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	coll, err := b.access()
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return coll.ReplaceOne(ctx, filter, replacement, opts)
}

func (b *Binding) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	coll, err := b.access()
	if err != nil {
		return 0, err
	}
	return coll.DeleteOne(ctx, filter)
}

func (b *Binding) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	coll, err := b.access()
	if err != nil {
		return 0, err
	}
	return coll.DeleteMany(ctx, filter)
}

func (b *Binding) CountDocuments(ctx context.Context, filter bson.M, opts domain.CountOptions) (int64, error) {
	coll, err := b.access()
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, filter, opts)
}

func (b *Binding) Distinct(ctx context.Context, field string, filter bson.M) ([]interface{}, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.Distinct(ctx, field, filter)
}

func (b *Binding) Aggregate(ctx context.Context, pipeline []bson.M) ([]domain.Document, error) {
	coll, err := b.access()
	if err != nil {
		return nil, err
	}
	return coll.Aggregate(ctx, pipeline)
}

// Indexes returns the index view of the live collection. While disconnected
// every call on the view fails with domain.ErrNotConnected.
func (b *Binding) Indexes() domain.IndexView {
	coll, err := b.access()
	if err != nil {
		return offlineIndexes{}
	}
	return coll.Indexes()
}

type offlineIndexes struct{}

func (offlineIndexes) List(context.Context) ([]bson.D, error) {
	return nil, domain.ErrNotConnected
}

func (offlineIndexes) CreateMany(context.Context, []domain.IndexSpec, domain.CreateIndexesOptions) ([]string, error) {
	return nil, domain.ErrNotConnected
}

func (offlineIndexes) DropOne(context.Context, string) error {
	return domain.ErrNotConnected
}
