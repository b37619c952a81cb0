package archive_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/beacon/internal/apikey"
	"github.com/openfleet/beacon/internal/ingest"
	"github.com/openfleet/beacon/internal/model"
	"github.com/openfleet/beacon/internal/ratelimit"
	"github.com/openfleet/beacon/internal/server"
)

// newArchiveBackedServer builds a server whose query surface is backed by the
// shared test database, with an empty in-memory state.
func newArchiveBackedServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := apikey.NewManager(logger)
	minted, err := keys.Mint("archive query test")
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Registry:            ingest.NewRegistry(logger),
		Assembler:           ingest.NewAssembler(),
		Keys:                keys,
		Logger:              logger,
		ArchiveDB:           testDB,
		Limiter:             ratelimit.NoopLimiter{},
		IngestRule:          ratelimit.Rule{Name: "ingest", Rate: 1000, Burst: 1000},
		QueryRule:           ratelimit.Rule{Name: "query", Rate: 1000, Burst: 1000},
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, minted.RawKey
}

func getJSON(t *testing.T, srv *server.Server, rawKey, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	if out != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return rec.Code
}

// Traces evicted from the in-memory window stay listable per agent through
// the archive, mirroring the single-trace fallback in GET /api/traces/{id}.
func TestListTracesFallsBackToArchive(t *testing.T) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	older := archivedTrace("fallback-t1", "fallback-agent", start)
	newer := archivedTrace("fallback-t2", "fallback-agent", start.Add(time.Minute))
	newer.ReceivedAt = start.Add(time.Minute)
	require.NoError(t, testDB.UpsertTrace(ctx, older))
	require.NoError(t, testDB.UpsertTrace(ctx, newer))

	srv, rawKey := newArchiveBackedServer(t)

	var traces []model.Trace
	code := getJSON(t, srv, rawKey, "/api/traces?agent_id=fallback-agent", &traces)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, traces, 2)
	assert.Equal(t, "fallback-t2", traces[0].TraceID)
	assert.Equal(t, "fallback-t1", traces[1].TraceID)
}

func TestListTracesUnknownAgentIsEmpty(t *testing.T) {
	srv, rawKey := newArchiveBackedServer(t)

	var traces []model.Trace
	code := getJSON(t, srv, rawKey, "/api/traces?agent_id=no-such-agent", &traces)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, traces)
}
