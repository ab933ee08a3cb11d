package indexer

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

// embedChunks embeds chunk texts in batches of embed_batch_size,
// pausing embed_batch_delay_ms between batches. Each text is
// truncated to embed_max_chars first. One vector per chunk, same
// order.
func embedChunks(ctx context.Context, embedder *clients.EmbeddingClient, chunks []store.ChunkSnapshot, settings config.Settings) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = truncateRunes(c.Text, settings.EmbedMaxChars)
	}

	batchSize := settings.EmbedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	delay := time.Duration(settings.EmbedBatchDelayMs) * time.Millisecond

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := embedder.Encode(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// truncateRunes cuts text to at most max runes, never splitting a
// UTF-8 sequence. max <= 0 disables truncation.
func truncateRunes(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}

// buildVectorDocs mirrors chunk and file fields into vector metadata
// so the store can filter server-side.
func buildVectorDocs(rec *store.FileRecord, chunks []store.ChunkSnapshot, vectors [][]float32, version string) []vector.Document {
	docs := make([]vector.Document, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(vectors) {
			break
		}
		meta := map[string]any{
			vector.MetaChunkID:      c.ID,
			vector.MetaFileID:       rec.ID,
			"file_name":             rec.Name,
			vector.MetaPath:         rec.Path,
			"folder_id":             rec.FolderID,
			vector.MetaExtension:    rec.Extension,
			vector.MetaKind:         string(rec.Kind),
			vector.MetaSnippet:      c.Snippet,
			vector.MetaVersion:      version,
			vector.MetaPrivacyLevel: rec.PrivacyLevel,
		}
		if c.SectionPath != "" {
			meta[vector.MetaSectionPath] = c.SectionPath
		}
		if c.Metadata != nil {
			if page, ok := c.Metadata["page_number"]; ok {
				meta[vector.MetaPageNumber] = page
			}
		}
		docs = append(docs, vector.Document{ID: c.ID, Vector: vectors[i], Metadata: meta})
	}
	return docs
}
