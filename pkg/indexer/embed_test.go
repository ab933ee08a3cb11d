package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", truncateRunes("hello", 10))
	assert.Equal(t, "hel", truncateRunes("hello", 3))
	assert.Equal(t, "hello", truncateRunes("hello", 0))
	assert.Equal(t, "日本語", truncateRunes("日本語のテキスト", 3))
}

func TestEmbedChunksTruncatesOnRuneBoundary(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sent = append(sent, req.Input...)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": make([]float32, testDim), "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()
	embedder := clients.NewEmbeddingClient(srv.URL, "", "", testDim)

	settings := config.Settings{}
	settings.SetDefaults()
	settings.EmbedMaxChars = 4

	chunks := []store.ChunkSnapshot{{ID: "c1", Text: "日本語のテキストです"}}
	vectors, err := embedChunks(context.Background(), embedder, chunks, settings)
	require.NoError(t, err)
	require.Len(t, vectors, 1)

	require.Len(t, sent, 1)
	assert.True(t, utf8.ValidString(sent[0]))
	assert.Equal(t, "日本語の", sent[0])
}
