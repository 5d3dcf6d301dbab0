package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestApplyUpdate(t *testing.T) {
	base := bson.M{
		"_id":   primitive.NewObjectID(),
		"name":  "Alice",
		"count": int32(1),
		"tags":  bson.A{"a", "b"},
		"meta":  bson.M{"level": int32(1)},
	}

	tests := []struct {
		name   string
		update bson.M
		check  func(t *testing.T, out bson.M)
	}{
		{
			name:   "$set top level",
			update: bson.M{"$set": bson.M{"name": "Bob"}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, "Bob", out["name"])
			},
		},
		{
			name:   "$set creates nested documents",
			update: bson.M{"$set": bson.M{"profile.bio.short": "hi"}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.M{"bio": bson.M{"short": "hi"}}, out["profile"])
			},
		},
		{
			name:   "$unset",
			update: bson.M{"$unset": bson.M{"meta.level": ""}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.M{}, out["meta"])
			},
		},
		{
			name:   "$inc keeps integers integral",
			update: bson.M{"$inc": bson.M{"count": 2, "fresh": 1}},
			check: func(t *testing.T, out bson.M) {
				assert.EqualValues(t, 3, out["count"])
				assert.EqualValues(t, 1, out["fresh"])
			},
		},
		{
			name:   "$push",
			update: bson.M{"$push": bson.M{"tags": "c"}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.A{"a", "b", "c"}, out["tags"])
			},
		},
		{
			name:   "$push with $each",
			update: bson.M{"$push": bson.M{"tags": bson.M{"$each": bson.A{"c", "d"}}}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.A{"a", "b", "c", "d"}, out["tags"])
			},
		},
		{
			name:   "$addToSet skips existing values",
			update: bson.M{"$addToSet": bson.M{"tags": bson.M{"$each": bson.A{"b", "e"}}}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.A{"a", "b", "e"}, out["tags"])
			},
		},
		{
			name:   "$pull",
			update: bson.M{"$pull": bson.M{"tags": "a"}},
			check: func(t *testing.T, out bson.M) {
				assert.Equal(t, bson.A{"b"}, out["tags"])
			},
		},
		{
			name:   "$setOnInsert ignored on update",
			update: bson.M{"$setOnInsert": bson.M{"seeded": true}},
			check: func(t *testing.T, out bson.M) {
				assert.NotContains(t, out, "seeded")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := applyUpdate(base, tt.update, false)
			require.NoError(t, err)
			tt.check(t, out)
			assert.Equal(t, "Alice", base["name"], "input must not be mutated")
		})
	}
}

func TestApplyUpdate_Errors(t *testing.T) {
	base := bson.M{"_id": primitive.NewObjectID(), "name": "Alice", "count": int32(1)}

	tests := []struct {
		name   string
		update bson.M
	}{
		{"empty", bson.M{}},
		{"replacement document", bson.M{"name": "Bob"}},
		{"unknown modifier", bson.M{"$rename": bson.M{"name": "n"}}},
		{"changing _id", bson.M{"$set": bson.M{"_id": primitive.NewObjectID()}}},
		{"unsetting _id", bson.M{"$unset": bson.M{"_id": ""}}},
		{"$inc non-numeric field", bson.M{"$inc": bson.M{"name": 1}}},
		{"$push onto non-array", bson.M{"$push": bson.M{"name": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyUpdate(base, tt.update, false)
			assert.Error(t, err)
		})
	}
}

func TestApplyUpdate_SetOnInsert(t *testing.T) {
	out, err := applyUpdate(bson.M{"email": "a@example.com"}, bson.M{
		"$setOnInsert": bson.M{"createdAt": "now"},
		"$set":         bson.M{"name": "A"},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, bson.M{"email": "a@example.com", "createdAt": "now", "name": "A"}, out)
}

func TestUpsertSeed(t *testing.T) {
	id := primitive.NewObjectID()
	seed := upsertSeed(bson.M{
		"_id":     id,
		"email":   bson.M{"$eq": "a@example.com"},
		"age":     bson.M{"$gt": 3},
		"a.b":     1,
		"$or":     bson.A{bson.M{"x": 1}},
		"profile": bson.M{"name": "A"},
	})

	assert.Equal(t, bson.M{"_id": id, "email": "a@example.com", "profile": bson.M{"name": "A"}}, seed)
}
