package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synvo-ai/Local-Cocoa/pkg/config"
)

func testDocs() []Document {
	return []Document{
		{
			ID:     "f1::fast::0",
			Vector: []float32{1, 0, 0},
			Metadata: map[string]any{
				MetaChunkID: "f1::fast::0", MetaFileID: "f1",
				MetaVersion: "fast", MetaPrivacyLevel: "private",
				MetaSnippet: "alpha",
			},
		},
		{
			ID:     "f2::fast::0",
			Vector: []float32{0, 1, 0},
			Metadata: map[string]any{
				MetaChunkID: "f2::fast::0", MetaFileID: "f2",
				MetaVersion: "fast", MetaPrivacyLevel: "private",
				MetaSnippet: "beta",
			},
		},
		{
			ID:     "f1::deep::full",
			Vector: []float32{0.9, 0.1, 0},
			Metadata: map[string]any{
				MetaChunkID: "f1::deep::full", MetaFileID: "f1",
				MetaVersion: "deep", MetaPrivacyLevel: "private",
				MetaSnippet: "alpha deep",
			},
		},
	}
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	st, err := NewChromemStore("", "test")
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), testDocs()))
	return st
}

func TestChromemSearchUnfiltered(t *testing.T) {
	st := newTestStore(t)

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "f1::fast::0", hits[0].ID)
	assert.LessOrEqual(t, len(hits), 2)
}

func TestChromemSearchVersionFilter(t *testing.T) {
	st := newTestStore(t)

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 5, &Filter{Version: "deep"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f1::deep::full", hits[0].ID)
}

func TestChromemSearchAllowlist(t *testing.T) {
	st := newTestStore(t)

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 5, &Filter{FileIDs: []string{"f2"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f2::fast::0", hits[0].ID)
}

func TestChromemSearchEmptyAllowlistMatchesNothing(t *testing.T) {
	st := newTestStore(t)

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 5, &Filter{FileIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	st, err := NewChromemStore("", "empty")
	require.NoError(t, err)

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemDelete(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Delete(context.Background(), []string{"f1::fast::0", "f1::deep::full"}))

	hits, err := st.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "f1::fast::0", h.ID)
		assert.NotEqual(t, "f1::deep::full", h.ID)
	}
}

func TestChromemPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st, err := NewChromemStore(dir, "persisted")
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), testDocs()))
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(dir, "vectors.gob"))
	require.NoError(t, err)

	// Reopening over the same directory must serve the flushed vectors.
	reopened, err := NewChromemStore(dir, "persisted")
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.Search(context.Background(), []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "f1::fast::0", hits[0].ID)
	assert.Equal(t, "f1", hits[0].Metadata[MetaFileID])
}

func TestFactorySelectsBackend(t *testing.T) {
	// Unknown backend errors instead of silently defaulting.
	_, err := New(context.Background(), config.VectorConfig{Type: "bolt"})
	assert.Error(t, err)

	st, err := New(context.Background(), config.VectorConfig{Type: "chromem", Collection: "c"})
	require.NoError(t, err)
	assert.NotNil(t, st)
}
