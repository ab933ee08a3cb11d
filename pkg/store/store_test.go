package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testFile(id string) *FileRecord {
	return &FileRecord{
		ID:        id,
		Path:      "/docs/" + id + ".txt",
		Name:      id + ".txt",
		Extension: "txt",
		Kind:      KindText,
		FolderID:  "folder-1",
	}
}

func TestUpsertAndGetFile(t *testing.T) {
	st := testStore(t)

	rec := testFile("f1")
	rec.Metadata = map[string]any{"pages": float64(3)}
	require.NoError(t, st.UpsertFile(rec))

	got, err := st.GetFile("f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/docs/f1.txt", got.Path)
	assert.Equal(t, KindText, got.Kind)
	assert.Equal(t, float64(3), got.Metadata["pages"])
	assert.Equal(t, StagePending, got.FastStage)
	assert.Equal(t, StagePending, got.DeepStage)
}

func TestGetFileMissing(t *testing.T) {
	st := testStore(t)
	got, err := st.GetFile("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertPreservesPreviewAndStamps(t *testing.T) {
	st := testStore(t)

	rec := testFile("f1")
	rec.PreviewImage = []byte{0x89, 0x50}
	now := time.Now().UTC()
	rec.FastStage = StageEmbedded
	rec.FastTextAt = &now
	rec.FastEmbedAt = &now
	require.NoError(t, st.UpsertFile(rec))

	// A later upsert without those fields keeps them.
	require.NoError(t, st.UpsertFile(testFile("f1")))

	got, err := st.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, got.PreviewImage)
	require.NotNil(t, got.FastTextAt)
	assert.WithinDuration(t, now, *got.FastTextAt, time.Second)
}

func TestUpdateFileStage(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFile(testFile("f1")))

	failed := StageFailed
	require.NoError(t, st.UpdateFileStage("f1", StageUpdate{FastStage: &failed}))

	got, err := st.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, got.FastStage)
	assert.Equal(t, StagePending, got.DeepStage)

	require.Error(t, st.UpdateFileStage("missing", StageUpdate{FastStage: &failed}))
}

func TestPendingQueues(t *testing.T) {
	st := testStore(t)

	base := time.Now().UTC()
	older := testFile("old")
	older.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, st.UpsertFile(older))
	newer := testFile("new")
	newer.CreatedAt = base
	require.NoError(t, st.UpsertFile(newer))

	done := testFile("done")
	done.FastStage = StageEmbedded
	require.NoError(t, st.UpsertFile(done))

	fast, err := st.PendingFastFiles(10)
	require.NoError(t, err)
	require.Len(t, fast, 2)
	assert.Equal(t, "old", fast[0].ID)

	deep, err := st.PendingDeepFiles(10)
	require.NoError(t, err)
	require.Len(t, deep, 1)
	assert.Equal(t, "done", deep[0].ID)
}

func TestReplaceChunksAssignsDenseOrdinals(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFile(testFile("f1")))

	chunks := []ChunkSnapshot{
		{ID: "f1::deep::page_2", FileID: "f1", Ordinal: 1, Text: "second page", Version: VersionDeep},
		{ID: "f1::deep::page_5", FileID: "f1", Ordinal: 4, Text: "fifth page", Version: VersionDeep},
	}
	require.NoError(t, st.ReplaceChunks("f1", chunks, VersionDeep))

	got, err := st.GetChunks("f1", VersionDeep)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Ordinal)
	assert.Equal(t, 1, got[1].Ordinal)
}

func TestReplaceChunksIsolatesVersions(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFile(testFile("f1")))

	require.NoError(t, st.ReplaceChunks("f1", []ChunkSnapshot{
		{ID: "f1::fast::0", FileID: "f1", Text: "fast text", Version: VersionFast},
	}, VersionFast))
	require.NoError(t, st.ReplaceChunks("f1", []ChunkSnapshot{
		{ID: "f1::deep::full", FileID: "f1", Text: "deep text", Version: VersionDeep},
	}, VersionDeep))

	// Replacing fast chunks leaves deep untouched.
	require.NoError(t, st.ReplaceChunks("f1", nil, VersionFast))

	fast, err := st.GetChunks("f1", VersionFast)
	require.NoError(t, err)
	assert.Empty(t, fast)

	deep, err := st.GetChunks("f1", VersionDeep)
	require.NoError(t, err)
	require.Len(t, deep, 1)
	assert.Equal(t, "deep text", deep[0].Text)
}

func TestSearchKeyword(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFile(testFile("f1")))
	require.NoError(t, st.UpsertFile(testFile("f2")))

	require.NoError(t, st.ReplaceChunks("f1", []ChunkSnapshot{
		{ID: "f1::fast::0", FileID: "f1", Text: "the quarterly revenue grew by ten percent", Snippet: "revenue grew", Version: VersionFast},
	}, VersionFast))
	require.NoError(t, st.ReplaceChunks("f2", []ChunkSnapshot{
		{ID: "f2::fast::0", FileID: "f2", Text: "cats are wonderful animals", Snippet: "cats", Version: VersionFast},
	}, VersionFast))

	hits, err := st.SearchKeyword("quarterly revenue", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f1::fast::0", hits[0].ChunkID)
	assert.Equal(t, "f1", hits[0].FileID)
	assert.Greater(t, hits[0].Score, 0.0)

	// Allowlist restriction.
	hits, err = st.SearchKeyword("quarterly revenue", 10, []string{"f2"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Empty non-nil allowlist matches nothing.
	hits, err = st.SearchKeyword("quarterly revenue", 10, []string{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchKeywordMalformedQuery(t *testing.T) {
	st := testStore(t)
	hits, err := st.SearchKeyword(`"unbalanced AND (`, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteFileCascadesChunks(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFile(testFile("f1")))
	require.NoError(t, st.ReplaceChunks("f1", []ChunkSnapshot{
		{ID: "f1::fast::0", FileID: "f1", Text: "something", Version: VersionFast},
	}, VersionFast))

	_, err := st.db.Exec(`DELETE FROM files WHERE id = ?`, "f1")
	require.NoError(t, err)

	chunks, err := st.GetChunks("f1", VersionFast)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCounts(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertFolder(&FolderRecord{ID: "folder-1", Path: "/docs", Name: "docs"}))
	require.NoError(t, st.UpsertFile(testFile("f1")))

	files, folders, err := st.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, 1, folders)
}
