package mongodriver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adfharrison1/docbind/pkg/domain"
)

var (
	_ domain.Dialer     = (*Dialer)(nil)
	_ domain.Collection = (*collection)(nil)
	_ domain.IndexView  = (*indexView)(nil)
)

type indexView struct {
	view mongo.IndexView
}

// List returns the raw listIndexes descriptors.
func (v *indexView) List(ctx context.Context) ([]bson.D, error) {
	cursor, err := v.view.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []bson.D{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *indexView) CreateMany(ctx context.Context, specs []domain.IndexSpec, opts domain.CreateIndexesOptions) ([]string, error) {
	models := make([]mongo.IndexModel, len(specs))
	for i, spec := range specs {
		models[i] = IndexModel(spec, opts.Background)
	}
	return v.view.CreateMany(ctx, models)
}

func (v *indexView) DropOne(ctx context.Context, name string) error {
	_, err := v.view.DropOne(ctx, name)
	return err
}

// IndexModel translates a declared index into the driver's model.
func IndexModel(spec domain.IndexSpec, background bool) mongo.IndexModel {
	o := options.Index().SetName(spec.IndexName())
	if background {
		o.SetBackground(true)
	}
	if spec.Options.Unique {
		o.SetUnique(true)
	}
	if spec.Options.Sparse {
		o.SetSparse(true)
	}
	if spec.Options.ExpireAfterSeconds != nil {
		o.SetExpireAfterSeconds(*spec.Options.ExpireAfterSeconds)
	}
	if spec.Options.PartialFilterExpression != nil {
		o.SetPartialFilterExpression(spec.Options.PartialFilterExpression)
	}
	if c := spec.Options.Collation; c != nil {
		o.SetCollation(&options.Collation{Locale: c.Locale, Strength: c.Strength})
	}
	return mongo.IndexModel{Keys: spec.Keys, Options: o}
}
