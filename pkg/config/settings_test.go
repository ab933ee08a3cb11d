package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}
	s.SetDefaults()

	assert.Equal(t, 16, s.EmbedBatchSize)
	assert.Equal(t, 10, s.SearchResultLimit)
	assert.Equal(t, 6, s.QaContextLimit)
	assert.Equal(t, 400, s.MaxSnippetLength)
	assert.Equal(t, 1024, s.SummaryMaxTokens)
	assert.NoError(t, s.Validate())
}

func TestSettingsValidateRejectsBadBatch(t *testing.T) {
	s := Settings{}
	s.SetDefaults()
	s.EmbedBatchSize = 0
	assert.Error(t, s.Validate())
}

func TestUpdateApplyPartial(t *testing.T) {
	s := Settings{}
	s.SetDefaults()

	batch := 32
	limit := 3
	next := (&Update{
		EmbedBatchSize: &batch,
		QaContextLimit: &limit,
	}).Apply(s)

	assert.Equal(t, 32, next.EmbedBatchSize)
	assert.Equal(t, 3, next.QaContextLimit)
	// Untouched fields carry over.
	assert.Equal(t, s.MaxSnippetLength, next.MaxSnippetLength)
	// The original snapshot is unchanged.
	assert.Equal(t, 16, s.EmbedBatchSize)
}

func TestStoreSwapPublishes(t *testing.T) {
	s := Settings{}
	s.SetDefaults()
	store := NewStore(s)

	snap := store.Snapshot()
	snap.SearchResultLimit = 42
	require.NoError(t, store.Swap(snap))

	assert.Equal(t, 42, store.Snapshot().SearchResultLimit)
}

func TestStoreSwapRejectsInvalid(t *testing.T) {
	s := Settings{}
	s.SetDefaults()
	store := NewStore(s)

	bad := store.Snapshot()
	bad.EmbedBatchSize = -1
	require.Error(t, store.Swap(bad))
	assert.Equal(t, 16, store.Snapshot().EmbedBatchSize)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "chromem", cfg.Vector.Type)
	assert.Equal(t, 2, cfg.Indexer.Workers)
	assert.Equal(t, 3, cfg.Indexer.MaxAttempts)
	assert.NoError(t, cfg.Validate())

	cfg.Vector.Type = "pinecone"
	assert.Error(t, cfg.Validate())
}

func TestSettingsPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := Settings{}
	s.SetDefaults()
	s.RagChunkSize = 777
	require.NoError(t, SaveSettings(dir, s))

	loaded, ok, err := LoadSettings(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 777, loaded.RagChunkSize)

	_, ok, err = LoadSettings(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}
