package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/adfharrison1/docbind/pkg/domain"
)

func TestEngine_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+FileExtension)
	ctx := context.Background()

	engine1 := quietEngine()
	db := openDatabase(t, engine1)
	users := db.Collection("users")

	_, err := users.Indexes().CreateMany(ctx, []domain.IndexSpec{domain.NewIndex("email", 1).Unique()}, domain.CreateIndexesOptions{})
	require.NoError(t, err)
	ids, err := users.InsertMany(ctx, []domain.Document{
		{"email": "a@example.com", "tags": bson.A{"x"}},
		{"email": "b@example.com", "profile": bson.M{"age": 30}},
	})
	require.NoError(t, err)

	require.NoError(t, engine1.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(8))

	engine2 := quietEngine()
	require.NoError(t, engine2.LoadFromFile(path))
	users2 := openDatabase(t, engine2).Collection("users")

	docs, err := users2.Find(ctx, bson.M{}, domain.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, ids[0], docs[0]["_id"])
	assert.Equal(t, "a@example.com", docs[0]["email"])
	assert.Equal(t, bson.A{"x"}, docs[0]["tags"])
	assert.Equal(t, bson.M{"age": int32(30)}, docs[1]["profile"])

	list, err := users2.Indexes().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// Unique index survives the round trip.
	_, err = users2.InsertOne(ctx, domain.Document{"email": "a@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestEngine_LoadMissingFile(t *testing.T) {
	engine := quietEngine()
	err := engine.LoadFromFile(filepath.Join(t.TempDir(), "missing"+FileExtension))
	assert.NoError(t, err)
}

func TestEngine_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt"+FileExtension)
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	err := quietEngine().LoadFromFile(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file header")
}

func TestEngine_SnapshotFileOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app"+FileExtension)
	ctx := context.Background()
	id := primitive.NewObjectID()

	engine1 := quietEngine(WithSnapshotFile(path))
	client, err := engine1.Dial(ctx, "memdb://app")
	require.NoError(t, err)
	_, err = client.Database().Collection("projects").InsertOne(ctx, domain.Document{"_id": id, "name": "api"})
	require.NoError(t, err)
	require.NoError(t, client.Disconnect(ctx))

	engine2 := quietEngine(WithSnapshotFile(path))
	client2, err := engine2.Dial(ctx, "memdb://app")
	require.NoError(t, err)
	defer client2.Disconnect(ctx)

	doc, err := client2.Database().Collection("projects").FindOne(ctx, bson.M{"_id": id}, domain.FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "api", doc["name"])
}
