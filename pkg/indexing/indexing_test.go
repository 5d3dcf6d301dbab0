package indexing_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/indexing"
	"github.com/adfharrison1/docbind/pkg/storage"
)

var quiet = log.New(io.Discard, "", 0)

func setup(t *testing.T) (domain.Database, domain.Collection) {
	t.Helper()
	engine := storage.NewEngine(storage.WithLogger(quiet))
	client, err := engine.Dial(context.Background(), "memdb://test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	db := client.Database()
	return db, db.Collection("users")
}

func seed(t *testing.T, coll domain.Collection, specs ...domain.IndexSpec) {
	t.Helper()
	_, err := coll.Indexes().CreateMany(context.Background(), specs, domain.CreateIndexesOptions{})
	require.NoError(t, err)
}

func liveNames(t *testing.T, coll domain.Collection) []string {
	t.Helper()
	list, err := coll.Indexes().List(context.Background())
	require.NoError(t, err)
	var names []string
	for _, d := range list {
		name, _ := domain.Lookup(d, "name")
		names = append(names, name.(string))
	}
	return names
}

func reconcile(t *testing.T, db domain.Database, coll domain.Collection, specs ...domain.IndexSpec) indexing.Result {
	t.Helper()
	r, err := indexing.NewReconciler(specs, indexing.WithLogger(quiet))
	require.NoError(t, err)
	result, err := r.Reconcile(context.Background(), db, coll)
	require.NoError(t, err)
	return result
}

func TestReconcile_SubsetMatchKeepsLiveIndex(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("email", 1).Unique())

	result := reconcile(t, db, coll, domain.NewIndex("email", 1))

	assert.Empty(t, result.Dropped)
	assert.Empty(t, result.Created)
	assert.Equal(t, []string{"_id_", "email_1"}, liveNames(t, coll))
}

func TestReconcile_CompoundIndexDoesNotStandInForDeclaredUnique(t *testing.T) {
	ctx := context.Background()
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("email", 1, "name", 1).Unique())

	result := reconcile(t, db, coll, domain.NewIndex("email", 1).Unique())

	assert.Empty(t, result.Dropped, "the compound index covers the declared keys")
	assert.Equal(t, []string{"email_1"}, result.Created)
	assert.Equal(t, []string{"_id_", "email_1_name_1", "email_1"}, liveNames(t, coll))

	_, err := coll.InsertOne(ctx, domain.Document{"email": "a@x", "name": "A"})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, domain.Document{"email": "a@x", "name": "B"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestReconcile_KeepsLiveIndexWhoseKeysIncludeDeclaredOnes(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("email", 1, "name", 1))

	result := reconcile(t, db, coll, domain.NewIndex("name", 1))

	assert.Empty(t, result.Dropped)
	assert.Equal(t, []string{"name_1"}, result.Created)
	assert.Equal(t, []string{"_id_", "email_1_name_1", "name_1"}, liveNames(t, coll))

	second := reconcile(t, db, coll, domain.NewIndex("name", 1))
	assert.False(t, second.Changed())
}

func TestReconcile_DropsUndeclaredAndCreatesMissing(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("name", 1))

	result := reconcile(t, db, coll, domain.NewIndex("email", 1))

	assert.Equal(t, []string{"name_1"}, result.Dropped)
	assert.Equal(t, []string{"email_1"}, result.Created)
	assert.Equal(t, []string{"_id_", "email_1"}, liveNames(t, coll))

	list, err := coll.Indexes().List(context.Background())
	require.NoError(t, err)
	background, _ := domain.Lookup(list[1], "background")
	assert.Equal(t, true, background)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	db, coll := setup(t)
	specs := []domain.IndexSpec{
		domain.NewIndex("email", 1).Unique(),
		domain.NewIndex("projectId", 1, "occurredAt", -1),
	}

	first := reconcile(t, db, coll, specs...)
	assert.Len(t, first.Created, 2)
	assert.True(t, first.Changed())

	second := reconcile(t, db, coll, specs...)
	assert.False(t, second.Changed())
	assert.Empty(t, second.DropFailures)
}

func TestReconcile_NeverDropsPrimaryIndex(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("name", 1), domain.NewIndex("age", -1))

	result := reconcile(t, db, coll)

	assert.Equal(t, []string{"age_-1", "name_1"}, result.Dropped)
	assert.Empty(t, result.Created)
	assert.Equal(t, []string{"_id_"}, liveNames(t, coll))
}

func TestReconcile_ChangedOptionsAreRecreated(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("email", 1))

	result := reconcile(t, db, coll, domain.NewIndex("email", 1).Unique())

	assert.Equal(t, []string{"email_1"}, result.Dropped)
	assert.Equal(t, []string{"email_1"}, result.Created)

	list, err := coll.Indexes().List(context.Background())
	require.NoError(t, err)
	unique, _ := domain.Lookup(list[1], "unique")
	assert.Equal(t, true, unique)
}

func TestReconcile_MissingCollectionSkipsRemoval(t *testing.T) {
	db, coll := setup(t)
	view := &recordingView{IndexView: coll.Indexes()}

	result, err := mustReconciler(t, domain.NewIndex("email", 1)).Reconcile(context.Background(), db, &viewOverride{Collection: coll, view: view})
	require.NoError(t, err)

	assert.Zero(t, view.lists, "indexes of a missing collection are never listed")
	assert.Equal(t, []string{"email_1"}, result.Created)
}

func TestReconcile_DropFailureDoesNotBlockOthers(t *testing.T) {
	db, coll := setup(t)
	seed(t, coll, domain.NewIndex("a", 1), domain.NewIndex("b", 1), domain.NewIndex("c", 1))
	view := &recordingView{IndexView: coll.Indexes(), failDrop: map[string]bool{"b_1": true}}

	result, err := mustReconciler(t, domain.NewIndex("email", 1)).Reconcile(context.Background(), db, &viewOverride{Collection: coll, view: view})
	require.NoError(t, err)

	assert.Equal(t, []string{"a_1", "c_1"}, result.Dropped)
	require.Contains(t, result.DropFailures, "b_1")
	assert.EqualError(t, result.DropFailures["b_1"], "drop refused")
	assert.Equal(t, []string{"email_1"}, result.Created)
	assert.Equal(t, []string{"_id_", "b_1", "email_1"}, liveNames(t, coll))
}

func TestReconcile_CreateFailureIsReturned(t *testing.T) {
	db, coll := setup(t)
	_, err := coll.InsertMany(context.Background(), []domain.Document{{"email": "a"}, {"email": "a"}})
	require.NoError(t, err)

	r := mustReconciler(t, domain.NewIndex("email", 1).Unique())
	_, err = r.Reconcile(context.Background(), db, coll)

	var driverErr *domain.DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "createIndexes", driverErr.Op)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestValidateSpecs(t *testing.T) {
	tests := []struct {
		name    string
		specs   []domain.IndexSpec
		wantErr error
	}{
		{name: "none"},
		{
			name:  "distinct patterns",
			specs: []domain.IndexSpec{domain.NewIndex("a", 1), domain.NewIndex("a", 1, "b", 1), domain.NewIndex("a", -1)},
		},
		{
			name:    "empty key pattern",
			specs:   []domain.IndexSpec{{}},
			wantErr: domain.ErrInvalidIndex,
		},
		{
			name:    "empty field name",
			specs:   []domain.IndexSpec{domain.NewIndex("", 1)},
			wantErr: domain.ErrInvalidIndex,
		},
		{
			name:    "same pattern different options",
			specs:   []domain.IndexSpec{domain.NewIndex("email", 1), domain.NewIndex("email", int32(1)).Unique()},
			wantErr: domain.ErrDuplicateIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := indexing.ValidateSpecs(tt.specs)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = indexing.NewReconciler(tt.specs)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCovers(t *testing.T) {
	live := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: bson.D{{Key: "email", Value: int32(1)}, {Key: "tenant", Value: int32(1)}}},
		{Key: "name", Value: "email_1_tenant_1"},
		{Key: "unique", Value: true},
		{Key: "collation", Value: bson.D{{Key: "locale", Value: "en"}, {Key: "strength", Value: int32(2)}, {Key: "caseLevel", Value: false}}},
	}
	ci := domain.CaseInsensitiveCollation

	tests := []struct {
		name string
		spec domain.IndexSpec
		want bool
	}{
		{"leading key", domain.NewIndex("email", 1), true},
		{"trailing key", domain.NewIndex("tenant", 1), true},
		{"keys in another order", domain.NewIndex("tenant", 1, "email", 1), true},
		{"full pattern", domain.NewIndex("email", 1, "tenant", 1), true},
		{"numeric normalization", domain.NewIndex("email", 1.0), true},
		{"declared option present", domain.NewIndex("email", 1).Unique(), true},
		{"nested option subset", domain.IndexSpec{Keys: bson.D{{Key: "email", Value: 1}}, Options: domain.IndexOptions{Collation: &ci}}, true},
		{"explicit name matches", domain.NewIndex("email", 1).Named("email_1_tenant_1"), true},
		{"explicit name differs", domain.NewIndex("email", 1).Named("other"), false},
		{"key absent on live", domain.NewIndex("name", 1), false},
		{"direction differs", domain.NewIndex("email", -1), false},
		{"longer than live", domain.NewIndex("email", 1, "tenant", 1, "x", 1), false},
		{"option missing on live", domain.NewIndex("email", 1).ExpireAfter(60), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, indexing.Covers(tt.spec, live))
		})
	}
}

func TestSatisfies(t *testing.T) {
	live := bson.D{
		{Key: "key", Value: bson.D{{Key: "email", Value: int32(1)}, {Key: "tenant", Value: int32(1)}}},
		{Key: "name", Value: "email_1_tenant_1"},
		{Key: "unique", Value: true},
	}

	tests := []struct {
		name string
		spec domain.IndexSpec
		want bool
	}{
		{"same pattern", domain.NewIndex("email", 1, "tenant", 1), true},
		{"same pattern and option", domain.NewIndex("email", 1, "tenant", 1).Unique(), true},
		{"narrower pattern", domain.NewIndex("email", 1).Unique(), false},
		{"reordered pattern", domain.NewIndex("tenant", 1, "email", 1), false},
		{"option missing on live", domain.NewIndex("email", 1, "tenant", 1).ExpireAfter(60), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, indexing.Satisfies(tt.spec, live))
		})
	}
}

func mustReconciler(t *testing.T, specs ...domain.IndexSpec) *indexing.Reconciler {
	t.Helper()
	r, err := indexing.NewReconciler(specs, indexing.WithLogger(quiet))
	require.NoError(t, err)
	return r
}

type viewOverride struct {
	domain.Collection
	view domain.IndexView
}

func (v *viewOverride) Indexes() domain.IndexView {
	return v.view
}

type recordingView struct {
	domain.IndexView
	lists    int
	failDrop map[string]bool
}

func (v *recordingView) List(ctx context.Context) ([]bson.D, error) {
	v.lists++
	return v.IndexView.List(ctx)
}

func (v *recordingView) DropOne(ctx context.Context, name string) error {
	if v.failDrop[name] {
		return errors.New("drop refused")
	}
	return v.IndexView.DropOne(ctx, name)
}
