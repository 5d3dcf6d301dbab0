package config_test

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/config"
	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/mongodriver"
	"github.com/adfharrison1/docbind/pkg/storage"
)

const sample = `
uri: memdb://logs
scratchCollection: _scratch
lookupWait: 5ms
snapshotFile: data/logs.dbnd
entities:
  - name: projects
    schema: schemas/projects.json
    indexes:
      - keys: {name: 1}
        unique: true
        collation: {locale: en, strength: 2}
  - name: log-lines
    indexes:
      - keys:
          projectId: 1
          occurredAt: -1
        name: by_project
      - keys: {expiresAt: 1}
        expireAfterSeconds: 3600
        partialFilterExpression: {archived: true}
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "memdb://logs", cfg.URI)
	assert.Equal(t, "_scratch", cfg.ScratchCollection)
	assert.Equal(t, 5*time.Millisecond, cfg.LookupWait)
	require.Len(t, cfg.Entities, 2)

	ttl := int32(3600)
	want := []domain.IndexSpec{
		{
			Keys:    bson.D{{Key: "projectId", Value: 1}, {Key: "occurredAt", Value: -1}},
			Options: domain.IndexOptions{Name: "by_project"},
		},
		{
			Keys: bson.D{{Key: "expiresAt", Value: 1}},
			Options: domain.IndexOptions{
				ExpireAfterSeconds:      &ttl,
				PartialFilterExpression: bson.M{"archived": true},
			},
		},
	}
	if diff := cmp.Diff(want, cfg.Entities[1].IndexSpecs()); diff != "" {
		t.Errorf("IndexSpecs() mismatch (-want +got):\n%s", diff)
	}

	projects := cfg.Entities[0].IndexSpecs()
	require.Len(t, projects, 1)
	assert.True(t, projects[0].Options.Unique)
	assert.Equal(t, &domain.CaseInsensitiveCollation, projects[0].Options.Collation)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{name: "missing uri", yaml: "entities: []", contains: "uri is required"},
		{name: "unknown field", yaml: "uri: memdb://x\ncolour: blue", contains: "colour"},
		{name: "unnamed entity", yaml: "uri: memdb://x\nentities: [{schema: a.json}]", contains: "name is required"},
		{
			name:     "duplicate entity",
			yaml:     "uri: memdb://x\nentities: [{name: a}, {name: a}]",
			contains: "declared twice",
		},
		{
			name:     "duplicate index",
			yaml:     "uri: memdb://x\nentities: [{name: a, indexes: [{keys: {f: 1}}, {keys: {f: 1.0}}]}]",
			contains: domain.ErrDuplicateIndex.Error(),
		},
		{
			name:     "keys not a mapping",
			yaml:     "uri: memdb://x\nentities: [{name: a, indexes: [{keys: [f]}]}]",
			contains: "must be a mapping",
		},
		{name: "negative wait", yaml: "uri: memdb://x\nlookupWait: -1s", contains: "lookupWait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "schemas"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schemas", "projects.json"),
		[]byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`), 0o644))
	path := filepath.Join(dir, "docbind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	path := writeFixture(t)
	dir := filepath.Dir(path)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "schemas", "projects.json"), cfg.Entities[0].Schema)
	assert.Equal(t, filepath.Join(dir, "data", "logs.dbnd"), cfg.SnapshotFile)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDialer(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)

	d, err := (&config.Config{URI: "memdb://app"}).Dialer(quiet)
	require.NoError(t, err)
	assert.IsType(t, &storage.Engine{}, d)

	d, err = (&config.Config{URI: "mongodb://localhost/app"}).Dialer(quiet)
	require.NoError(t, err)
	assert.IsType(t, &mongodriver.Dialer{}, d)

	_, err = (&config.Config{URI: "redis://localhost"}).Dialer(quiet)
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	ctx := context.Background()
	cfg, err := config.Load(writeFixture(t))
	require.NoError(t, err)
	cfg.SnapshotFile = ""

	dialer, err := cfg.Dialer(quiet)
	require.NoError(t, err)
	m := connection.NewManager(dialer, connection.WithLogger(quiet))

	bindings, err := cfg.Bind(ctx, m, quiet)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	require.NoError(t, m.Connect(ctx, cfg.URI))
	t.Cleanup(func() { _ = m.Disconnect(ctx) })

	_, err = bindings["projects"].CreateDocument(ctx, domain.Document{})
	assert.True(t, domain.IsValidation(err), "schema loaded from file")

	list, err := bindings["log-lines"].Indexes().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestBind_MissingSchemaFile(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	cfg := &config.Config{
		URI:      "memdb://x",
		Entities: []config.Entity{{Name: "a", Schema: filepath.Join(t.TempDir(), "nope.json")}},
	}
	m := connection.NewManager(storage.NewEngine(storage.WithLogger(quiet)), connection.WithLogger(quiet))

	_, err := cfg.Bind(context.Background(), m, quiet)
	assert.ErrorContains(t, err, "entity a")
}
