package writes

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

var errNonObjectID = errors.New("batch ended with a document whose _id is not an ObjectID")

// BatchHandler receives one page of documents. Returning an error stops
// ProcessInBatches.
type BatchHandler func(ctx context.Context, batch []domain.Document) error

// Exists reports whether any document matches query.
func (p *Pipeline) Exists(ctx context.Context, query bson.M) (bool, error) {
	coll, err := p.access()
	if err != nil {
		return false, err
	}
	docs, err := coll.Find(ctx, query, domain.FindOptions{
		Limit:      1,
		Projection: bson.M{domain.IDField: 1},
	})
	if err != nil {
		return false, domain.WrapDriver("find", err)
	}
	return len(docs) > 0, nil
}

// ProcessInBatches walks every document matching query in ascending _id
// order, batchSize at a time. Pages are fetched by _id range, so documents
// inserted or removed concurrently never shift a page boundary.
func (p *Pipeline) ProcessInBatches(ctx context.Context, query bson.M, batchSize int, handler BatchHandler) error {
	coll, err := p.access()
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if query == nil {
		query = bson.M{}
	}

	var last *domain.ID
	for {
		filter := query
		if last != nil {
			filter = bson.M{"$and": bson.A{query, bson.M{domain.IDField: bson.M{"$gt": *last}}}}
		}

		batch, err := coll.Find(ctx, filter, domain.FindOptions{
			Sort:  bson.D{{Key: domain.IDField, Value: 1}},
			Limit: int64(batchSize),
		})
		if err != nil {
			return domain.WrapDriver("find", err)
		}
		if len(batch) == 0 {
			return nil
		}

		if err := handler(ctx, batch); err != nil {
			return err
		}

		id, ok := domain.DocumentID(batch[len(batch)-1])
		if !ok {
			return domain.WrapDriver("find", errNonObjectID)
		}
		last = &id
		if len(batch) < batchSize {
			return nil
		}
	}
}

// DeleteDocument removes doc by its _id and returns it.
func (p *Pipeline) DeleteDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	coll, err := p.access()
	if err != nil {
		return nil, err
	}
	id, ok := domain.DocumentID(doc)
	if !ok {
		return nil, p.invalid("delete", "/_id", "document has no ObjectID")
	}
	if _, err := coll.DeleteOne(ctx, bson.M{domain.IDField: id}); err != nil {
		return nil, domain.WrapDriver("deleteOne", err)
	}
	return doc, nil
}

// DeleteDocuments removes docs with a single $in delete and returns them.
func (p *Pipeline) DeleteDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	coll, err := p.access()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}
	ids := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		id, ok := domain.DocumentID(doc)
		if !ok {
			return nil, p.invalid("delete", "/_id", "document has no ObjectID")
		}
		ids = append(ids, id)
	}
	if _, err := coll.DeleteMany(ctx, bson.M{domain.IDField: bson.M{"$in": ids}}); err != nil {
		return nil, domain.WrapDriver("deleteMany", err)
	}
	return docs, nil
}
