package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/adfharrison1/docbind/pkg/api"
	"github.com/adfharrison1/docbind/pkg/config"
	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/server"
	"github.com/adfharrison1/docbind/pkg/storage"
)

var quiet = log.New(io.Discard, "", 0)

func TestRunLoad(t *testing.T) {
	ctx := context.Background()
	engine := storage.NewEngine(storage.WithLogger(quiet))
	m := connection.NewManager(engine, connection.WithLogger(quiet))
	colls, err := api.Declare(ctx, m, quiet)
	require.NoError(t, err)
	require.NoError(t, m.Connect(ctx, "memdb://logs"))
	t.Cleanup(func() { _ = m.Disconnect(ctx) })

	handler := api.NewHandler(colls.Projects, colls.LogLines, m, api.WithLogger(quiet))
	ts := httptest.NewServer(server.NewServer(handler, server.WithLogger(quiet)).Router())
	defer ts.Close()

	var out bytes.Buffer
	require.NoError(t, runLoad(&out, ts.Client(), ts.URL+"/", 2, 3))
	assert.Contains(t, out.String(), "Successful:         8")

	n, err := colls.LogLines.CountDocuments(ctx, bson.M{}, domain.CountOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
}

func TestRunLoad_ReportsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSONError(w, http.StatusServiceUnavailable, "down")
	}))
	defer ts.Close()

	var out bytes.Buffer
	err := runLoad(&out, ts.Client(), ts.URL, 1, 2)
	assert.ErrorContains(t, err, "1 of 3 requests failed")
	assert.Contains(t, out.String(), "unexpected status code 503")
}

func TestSyncIndexes(t *testing.T) {
	cfg, err := config.Parse([]byte(`
uri: memdb://inventory
entities:
  - name: items
    indexes:
      - keys: {sku: 1}
        unique: true
      - keys: {warehouse: 1, shelf: -1}
`))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, syncIndexes(context.Background(), cfg, &out, quiet))

	assert.Contains(t, out.String(), "items:")
	assert.Contains(t, out.String(), "sku_1")
	assert.Contains(t, out.String(), "warehouse_1_shelf_-1")
}
