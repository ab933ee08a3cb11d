package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synvo-ai/Local-Cocoa/pkg/chunker"
	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/logger"
	"github.com/synvo-ai/Local-Cocoa/pkg/parser"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

const testDim = 8

func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, testDim)
			vec[i%testDim] = 1
			data[i] = item{Embedding: vec, Index: i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fastFixture struct {
	store   *store.Store
	vectors vector.Store
	fast    *FastProcessor
	state   *StateManager
	dir     string
}

func newFastFixture(t *testing.T) *fastFixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vectors, err := vector.NewChromemStore("", "test_chunks")
	require.NoError(t, err)

	embedSrv := fakeEmbeddingServer(t)
	embedder := clients.NewEmbeddingClient(embedSrv.URL, "", "", testDim)

	ck, err := chunker.New()
	require.NoError(t, err)

	settings := config.Settings{}
	settings.SetDefaults()
	settingsStore := config.NewStore(settings)

	state := NewStateManager()
	fast := NewFastProcessor(st, vectors, parser.NewContentRouter(), ck, embedder, state, settingsStore, logger.GetLogger())

	return &fastFixture{store: st, vectors: vectors, fast: fast, state: state, dir: t.TempDir()}
}

func (f *fastFixture) addFile(t *testing.T, id, name, content string) *store.FileRecord {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rec := &store.FileRecord{
		ID:        id,
		Path:      path,
		Name:      name,
		Extension: "txt",
		Kind:      store.KindText,
		FolderID:  "folder-1",
	}
	require.NoError(t, f.store.UpsertFile(rec))
	return rec
}

func TestFastProcessHappyPath(t *testing.T) {
	f := newFastFixture(t)
	f.addFile(t, "f1", "doc.txt", "The annual report shows revenue growth across all regions. "+
		"Engineering headcount doubled while costs stayed flat.")

	require.NoError(t, f.fast.Process(context.Background(), "f1"))

	rec, err := f.store.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, store.StageEmbedded, rec.FastStage)
	require.NotNil(t, rec.FastTextAt)
	require.NotNil(t, rec.FastEmbedAt)

	chunks, err := f.store.GetChunks("f1", store.VersionFast)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "f1::fast::0", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].Ordinal)

	// Active state is reset after processing.
	assert.Empty(t, f.state.Status().ActiveStage)
}

func TestFastProcessEmptyFileIsTerminal(t *testing.T) {
	f := newFastFixture(t)
	f.addFile(t, "f1", "empty.txt", "   \n  ")

	require.NoError(t, f.fast.Process(context.Background(), "f1"))

	rec, err := f.store.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, store.StageEmbedded, rec.FastStage)
	require.NotNil(t, rec.FastTextAt)
	require.NotNil(t, rec.FastEmbedAt)

	chunks, err := f.store.GetChunks("f1", store.VersionFast)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestFastProcessMissingPathFails(t *testing.T) {
	f := newFastFixture(t)
	rec := &store.FileRecord{
		ID: "gone", Path: filepath.Join(f.dir, "missing.txt"), Name: "missing.txt",
		Extension: "txt", Kind: store.KindText,
	}
	require.NoError(t, f.store.UpsertFile(rec))

	require.Error(t, f.fast.Process(context.Background(), "gone"))

	got, err := f.store.GetFile("gone")
	require.NoError(t, err)
	assert.Equal(t, store.StageFailed, got.FastStage)
}

func TestFastProcessAlreadyDoneIsNoop(t *testing.T) {
	f := newFastFixture(t)
	rec := f.addFile(t, "f1", "doc.txt", "content")
	rec.FastStage = store.StageEmbedded
	require.NoError(t, f.store.UpsertFile(rec))

	require.NoError(t, f.fast.Process(context.Background(), "f1"))

	chunks, err := f.store.GetChunks("f1", store.VersionFast)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestFastProcessUnknownFile(t *testing.T) {
	f := newFastFixture(t)
	require.Error(t, f.fast.Process(context.Background(), "never-registered"))
}
