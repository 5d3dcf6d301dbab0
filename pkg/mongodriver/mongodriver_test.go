package mongodriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/domain"
)

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "mongodb://localhost:27017/app", want: "app"},
		{uri: "mongodb://user:pw@a:1,b:2/logs?replicaSet=rs0", want: "logs"},
		{uri: "mongodb+srv://cluster.example.net/prod?retryWrites=true", want: "prod"},
		{uri: "mongodb://localhost:27017", want: DefaultDatabase},
		{uri: "mongodb://localhost:27017/?w=majority", want: DefaultDatabase},
		{uri: "memdb://app", wantErr: true},
		{uri: "mongodb://localhost/bad.name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := DatabaseName(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDial_RejectsUnsupportedScheme(t *testing.T) {
	_, err := NewDialer().Dial(context.Background(), "postgres://localhost/app")
	assert.Error(t, err)
}

func TestIndexModel(t *testing.T) {
	spec := domain.NewIndex("email", 1).Unique().ExpireAfter(60)
	spec.Options.Collation = &domain.CaseInsensitiveCollation
	spec.Options.PartialFilterExpression = bson.M{"deleted": false}

	model := IndexModel(spec, true)

	assert.Equal(t, spec.Keys, model.Keys)
	require.NotNil(t, model.Options)
	assert.Equal(t, "email_1", *model.Options.Name)
	assert.True(t, *model.Options.Unique)
	assert.True(t, *model.Options.Background)
	assert.EqualValues(t, 60, *model.Options.ExpireAfterSeconds)
	assert.Equal(t, bson.M{"deleted": false}, model.Options.PartialFilterExpression)
	assert.Equal(t, "en", model.Options.Collation.Locale)
	assert.Equal(t, 2, model.Options.Collation.Strength)
	assert.Nil(t, model.Options.Sparse)
}

func TestIndexModel_Named(t *testing.T) {
	model := IndexModel(domain.NewIndex("projectId", 1, "occurredAt", -1).Named("by_project"), false)

	assert.Equal(t, "by_project", *model.Options.Name)
	assert.Nil(t, model.Options.Background)
}
