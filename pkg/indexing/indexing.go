package indexing

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// Reconciler converges the live indexes of one collection to a declared set.
type Reconciler struct {
	specs  []domain.IndexSpec
	logger *log.Logger
}

type Option func(*Reconciler)

func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// Result reports what one reconciliation pass changed.
type Result struct {
	Dropped      []string
	Created      []string
	DropFailures map[string]error
}

// Changed reports whether the pass dropped or created anything.
func (r Result) Changed() bool {
	return len(r.Dropped) > 0 || len(r.Created) > 0
}

// NewReconciler validates specs and returns a reconciler for them.
func NewReconciler(specs []domain.IndexSpec, options ...Option) (*Reconciler, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	r := &Reconciler{
		specs:  append([]domain.IndexSpec(nil), specs...),
		logger: log.Default(),
	}
	for _, option := range options {
		option(r)
	}
	return r, nil
}

// ValidateSpecs rejects empty key patterns and key patterns declared twice.
func ValidateSpecs(specs []domain.IndexSpec) error {
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		if len(spec.Keys) == 0 {
			return fmt.Errorf("%w: index %d has an empty key pattern", domain.ErrInvalidIndex, i)
		}
		for _, e := range spec.Keys {
			if e.Key == "" {
				return fmt.Errorf("%w: index %d has an empty field name", domain.ErrInvalidIndex, i)
			}
		}
		pattern := keyPattern(spec.Keys)
		if j, dup := seen[pattern]; dup {
			return fmt.Errorf("%w: %s declared by index %d and index %d", domain.ErrDuplicateIndex, pattern, j, i)
		}
		seen[pattern] = i
	}
	return nil
}

func keyPattern(keys bson.D) string {
	parts := make([]string, len(keys))
	for i, e := range keys {
		parts[i] = fmt.Sprintf("%s:%v", e.Key, normalizeNumber(e.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Specs returns the declared specs.
func (r *Reconciler) Specs() []domain.IndexSpec {
	return append([]domain.IndexSpec(nil), r.specs...)
}

type dropOutcome struct {
	name string
	err  error
}

// Reconcile drops live indexes no declared spec covers, then creates the
// declared specs without an exactly matching live index in one background
// build. Drop failures
// are logged and reported in the result; they never fail the pass.
func (r *Reconciler) Reconcile(ctx context.Context, db domain.Database, coll domain.Collection) (Result, error) {
	result := Result{DropFailures: map[string]error{}}

	var live []bson.D
	exists, err := collectionExists(ctx, db, coll.Name())
	if err != nil {
		return result, domain.WrapDriver("listCollections", err)
	}
	if exists {
		live, err = coll.Indexes().List(ctx)
		if err != nil {
			return result, domain.WrapDriver("listIndexes", err)
		}
	}

	var kept, candidates []bson.D
	for _, index := range live {
		if isPrimary(index) || r.coveredByDeclared(index) {
			kept = append(kept, index)
			continue
		}
		candidates = append(candidates, index)
	}

	if len(candidates) > 0 {
		p := pool.NewWithResults[dropOutcome]()
		for _, index := range candidates {
			name, _ := domain.Lookup(index, "name")
			indexName := fmt.Sprint(name)
			p.Go(func() dropOutcome {
				r.logger.Printf("INFO: Dropping index '%s' on collection '%s'", indexName, coll.Name())
				return dropOutcome{name: indexName, err: coll.Indexes().DropOne(ctx, indexName)}
			})
		}
		for _, outcome := range p.Wait() {
			if outcome.err != nil {
				r.logger.Printf("WARN: Failed to drop index '%s' on collection '%s': %v", outcome.name, coll.Name(), outcome.err)
				result.DropFailures[outcome.name] = outcome.err
				continue
			}
			result.Dropped = append(result.Dropped, outcome.name)
		}
		sort.Strings(result.Dropped)
	}

	var missing []domain.IndexSpec
	for _, spec := range r.specs {
		if !satisfiedByAny(spec, kept) {
			missing = append(missing, spec)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	for _, spec := range missing {
		r.logger.Printf("INFO: Creating index %s on collection '%s'", keyPattern(spec.Keys), coll.Name())
	}
	names, err := coll.Indexes().CreateMany(ctx, missing, domain.CreateIndexesOptions{Background: true})
	if err != nil {
		return result, domain.WrapDriver("createIndexes", err)
	}
	result.Created = names
	return result, nil
}

func collectionExists(ctx context.Context, db domain.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reconciler) coveredByDeclared(live bson.D) bool {
	for _, spec := range r.specs {
		if Covers(spec, live) {
			return true
		}
	}
	return false
}

// satisfiedByAny decides creation by exact key pattern so a wider compound
// index never stands in for a declared one.
func satisfiedByAny(spec domain.IndexSpec, live []bson.D) bool {
	for _, index := range live {
		if Satisfies(spec, index) {
			return true
		}
	}
	return false
}

// isPrimary reports whether a live descriptor is the {_id: 1} index.
func isPrimary(live bson.D) bool {
	key, ok := domain.Lookup(live, "key")
	if !ok {
		return false
	}
	keys := asD(key)
	return len(keys) == 1 && keys[0].Key == "_id" && valuesEqual(keys[0].Value, 1)
}
