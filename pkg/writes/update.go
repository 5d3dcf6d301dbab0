package writes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// UpdateOptions controls UpdateDocument.
type UpdateOptions struct {
	// FullValidate applies the update to a scratch copy first and validates
	// the resulting document against the full schema.
	FullValidate bool
	Upsert       bool
}

// UpdateDocument validates update against doc and applies it to the live
// document identified by doc's _id. updatedAt is always set to the current
// time, whatever the update says. The post-update document is returned, or
// nil when nothing matched and no upsert happened.
func (p *Pipeline) UpdateDocument(ctx context.Context, doc domain.Document, update bson.M, opts UpdateOptions) (domain.Document, error) {
	coll, err := p.access()
	if err != nil {
		return nil, err
	}

	id, ok := domain.DocumentID(doc)
	if !ok {
		return nil, p.invalid("update", "/_id", "document has no ObjectID")
	}
	if err := p.checkOperators(update); err != nil {
		return nil, err
	}

	if opts.FullValidate {
		if err := p.validateFull(ctx, id, doc, update); err != nil {
			return nil, err
		}
	} else if err := p.validatePartial(update); err != nil {
		return nil, err
	}

	stamped := stampUpdate(update, p.timestamp())
	out, err := coll.FindOneAndUpdate(ctx, bson.M{domain.IDField: id}, stamped, domain.UpdateOptions{Upsert: opts.Upsert})
	if err != nil {
		return nil, domain.WrapDriver("findOneAndUpdate", err)
	}
	return out, nil
}

// checkOperators rejects replacement documents and any operator that would
// touch the identity key or the creation time.
func (p *Pipeline) checkOperators(update bson.M) error {
	if len(update) == 0 {
		return p.invalid("update", "/", "update document is empty")
	}
	for op, raw := range update {
		if !strings.HasPrefix(op, "$") {
			return p.invalid("update", "/"+op, "update must only contain operators")
		}
		fields, ok := raw.(bson.M)
		if !ok {
			return p.invalid("update", "/"+op, "operator argument must be a document")
		}
		for path := range fields {
			root := strings.SplitN(path, ".", 2)[0]
			switch {
			case root == domain.IDField, root == domain.CreatedAtField:
				return p.invalid("update", "/"+root, fmt.Sprintf("%s is immutable", root))
			case root == domain.UpdatedAtField && op != "$set":
				return p.invalid("update", "/"+root, "updatedAt may only be set")
			}
		}
	}
	return nil
}

// validatePartial checks the $set payload against the deep-partial schema.
// Other operators are only checked in full mode.
func (p *Pipeline) validatePartial(update bson.M) error {
	if p.partial == nil {
		return nil
	}
	set, _ := update["$set"].(bson.M)
	if len(set) == 0 {
		return nil
	}
	_, err := p.validate(p.partial, "update", expandPaths(domain.WithoutSystemFields(set)))
	return err
}

// validateFull runs update against a scratch copy of doc and validates the
// outcome. The scratch copy is always removed.
func (p *Pipeline) validateFull(ctx context.Context, id domain.ID, doc domain.Document, update bson.M) (err error) {
	scratch, err := p.scratch()
	if err != nil {
		return err
	}

	filter := bson.M{domain.IDField: id}
	defer func() {
		if _, cleanupErr := scratch.DeleteOne(context.WithoutCancel(ctx), filter); cleanupErr != nil {
			p.logger.Printf("WARN: failed to remove scratch copy %s of %s: %v", id.Hex(), p.name, cleanupErr)
			err = errors.Join(err, domain.WrapDriver("deleteOne", cleanupErr))
		}
	}()

	if _, err := scratch.ReplaceOne(ctx, filter, domain.Clone(doc), domain.UpdateOptions{Upsert: true}); err != nil {
		return domain.WrapDriver("replaceOne", err)
	}
	result, err := scratch.FindOneAndUpdate(ctx, filter, update, domain.UpdateOptions{})
	if err != nil {
		return domain.WrapDriver("findOneAndUpdate", err)
	}
	if result == nil {
		return domain.WrapDriver("findOneAndUpdate", fmt.Errorf("scratch copy %s vanished", id.Hex()))
	}

	_, err = p.validate(p.schema, "update", domain.WithoutSystemFields(result))
	return err
}

// stampUpdate returns a copy of update whose $set carries updatedAt.
func stampUpdate(update bson.M, now interface{}) bson.M {
	out := make(bson.M, len(update)+1)
	for op, arg := range update {
		out[op] = arg
	}
	set := bson.M{}
	if existing, ok := update["$set"].(bson.M); ok {
		for k, v := range existing {
			set[k] = v
		}
	}
	set[domain.UpdatedAtField] = now
	out["$set"] = set
	return out
}

// expandPaths turns dotted keys into nested documents. Paths through array
// positions cannot be checked in isolation and are left out.
func expandPaths(set bson.M) domain.Document {
	out := domain.Document{}
	for path, value := range set {
		parts := strings.Split(path, ".")
		if hasIndexSegment(parts) {
			continue
		}
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(bson.M)
			if !ok {
				child = bson.M{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return out
}

func hasIndexSegment(parts []string) bool {
	for _, part := range parts {
		if part == "$" || strings.HasPrefix(part, "$[") {
			return true
		}
		if _, err := strconv.Atoi(part); err == nil {
			return true
		}
	}
	return false
}
