package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/indexer"
	"github.com/synvo-ai/Local-Cocoa/pkg/logger"
	"github.com/synvo-ai/Local-Cocoa/pkg/memory"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

type serverFixture struct {
	srv   *Server
	store *store.Store
	state *indexer.StateManager
	cfg   *config.Config
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// All model services answer health probes so /health reflects the
	// indexing state rather than degrading.
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(model.Close)

	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.SetDefaults()
	cfg.Endpoints.Embedding = model.URL
	cfg.Endpoints.Rerank = model.URL
	cfg.Endpoints.LLM = model.URL
	cfg.Endpoints.Vision = model.URL

	settings := config.Settings{}
	settings.SetDefaults()

	state := indexer.NewStateManager()
	memories := memory.NewService(st, nil, logger.GetLogger())

	srv := New(cfg, config.NewStore(settings), st, nil, memories, state, nil, logger.GetLogger())
	return &serverFixture{srv: srv, store: st, state: state, cfg: cfg}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthIdleWithoutFiles(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.Status)
	assert.Equal(t, 0, resp.IndexedFiles)
	for _, svc := range resp.Services {
		assert.Equal(t, clients.StatusOnline, svc.Status)
	}
}

func TestHealthDegradedWhenModelUnconfigured(t *testing.T) {
	f := newServerFixture(t)
	f.cfg.Endpoints.Vision = ""
	require.NoError(t, f.store.UpsertFile(&store.FileRecord{
		ID: "f1", Path: "/docs/a.txt", Name: "a.txt", Extension: "txt", Kind: store.KindText,
	}))

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Message, "vision")
}

func TestHealthReadyWithIndexedFiles(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.UpsertFile(&store.FileRecord{
		ID: "f1", Path: "/docs/a.txt", Name: "a.txt", Extension: "txt", Kind: store.KindText,
	}))

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, 1, resp.IndexedFiles)
}

func TestHealthIndexing(t *testing.T) {
	f := newServerFixture(t)
	f.state.SetStatus(indexer.StatusRunning, "indexing 3 files")

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "indexing", resp.Status)
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/settings/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var before config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.NotZero(t, before.SearchResultLimit)

	rec = f.do(t, http.MethodPatch, "/settings/", map[string]any{"search_result_limit": 25})
	require.Equal(t, http.StatusOK, rec.Code)

	var after config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, 25, after.SearchResultLimit)
	// Untouched fields survive a partial update.
	assert.Equal(t, before.QaContextLimit, after.QaContextLimit)

	rec = f.do(t, http.MethodGet, "/settings/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, 25, after.SearchResultLimit)
}

func TestSettingsRejectsInvalidUpdate(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPatch, "/settings/", map[string]any{"embed_batch_size": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRejectsMalformedBody(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPatch, "/settings/", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/search/stream", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/qa", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemorySearchEndpoint(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.UpsertEpisode(&store.EpisodeRecord{
		ID: "ep1", UserID: "u1", Summary: "Moved to Berlin", Episode: "The user moved to Berlin in May.",
	}))

	rec := f.do(t, http.MethodPost, "/memory/search", memory.SearchRequest{Query: "Berlin", UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result memory.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "keyword", result.Method)
	assert.NotZero(t, result.TotalCount)
}

func TestUserSummaryEndpoint(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.UpsertEpisode(&store.EpisodeRecord{
		ID: "ep1", UserID: "u1", Summary: "First day at work", Episode: "Started a new job.",
	}))

	rec := f.do(t, http.MethodGet, "/memory/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary memory.UserSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, 1, summary.EpisodesCount)
	assert.Len(t, summary.RecentEpisodes, 1)
}

func TestEpisodesEndpointLimit(t *testing.T) {
	f := newServerFixture(t)
	for _, id := range []string{"ep1", "ep2", "ep3"} {
		require.NoError(t, f.store.UpsertEpisode(&store.EpisodeRecord{
			ID: id, UserID: "u1", Summary: "S " + id, Episode: "E " + id,
		}))
	}

	rec := f.do(t, http.MethodGet, "/memory/u1/episodes?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var episodes []store.EpisodeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &episodes))
	assert.Len(t, episodes, 2)
}
