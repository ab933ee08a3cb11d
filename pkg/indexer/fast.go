package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/chunker"
	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
	"github.com/synvo-ai/Local-Cocoa/pkg/parser"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

// FastProcessor runs round 1: parse, chunk, embed, persist. It is
// the cheap pass that makes a file searchable quickly.
type FastProcessor struct {
	store    *store.Store
	vectors  vector.Store
	router   *parser.ContentRouter
	chunker  *chunker.Chunker
	embedder *clients.EmbeddingClient
	state    *StateManager
	settings *config.Store
	log      *slog.Logger
}

// NewFastProcessor wires the fast round. All references are borrowed
// from the scheduler.
func NewFastProcessor(
	st *store.Store,
	vectors vector.Store,
	router *parser.ContentRouter,
	ck *chunker.Chunker,
	embedder *clients.EmbeddingClient,
	state *StateManager,
	settings *config.Store,
	log *slog.Logger,
) *FastProcessor {
	return &FastProcessor{
		store:    st,
		vectors:  vectors,
		router:   router,
		chunker:  ck,
		embedder: embedder,
		state:    state,
		settings: settings,
		log:      log,
	}
}

// Process runs the fast round for one file. Failures past the
// initial load mark fast_stage = -1 and return the error; the
// scheduler decides on retries.
func (p *FastProcessor) Process(ctx context.Context, fileID string) error {
	defer p.state.ResetActiveState()

	tracer := observability.GetTracer("indexer")
	ctx, span := tracer.Start(ctx, observability.SpanFastProcess)
	defer span.End()

	rec, err := p.store.GetFile(fileID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("file not found: %s", fileID)
	}
	if rec.FastStage >= store.StageEmbedded {
		return nil
	}
	if _, err := os.Stat(rec.Path); err != nil {
		p.log.Warn("file path missing", "file", rec.Name, "path", rec.Path)
		p.markFailed(fileID)
		return fmt.Errorf("file path missing: %s", rec.Path)
	}

	settings := p.settings.Snapshot()
	p.state.SetActiveStage(ActiveUpdate{
		Stage:    "fast_text",
		Detail:   "Extracting text from " + rec.Name,
		Event:    "Parsing " + rec.Name,
		Progress: ptrFloat(0),
	})

	parsed, err := p.router.Parse(ctx, rec.Path, config.IndexingModeFast, settings)
	if err != nil {
		p.log.Warn("parse failed", "file", rec.Name, "error", err)
		p.markFailed(fileID)
		return err
	}

	// Extracted metadata goes back onto the record so the deep round
	// can judge eligibility.
	if parsed.PageCount > 0 {
		rec.PageCount = parsed.PageCount
	}
	if len(parsed.PreviewImage) > 0 {
		rec.PreviewImage = parsed.PreviewImage
	}
	if len(parsed.Metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, len(parsed.Metadata))
		}
		for k, v := range parsed.Metadata {
			rec.Metadata[k] = v
		}
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		// Nothing to index is a successful terminal.
		now := time.Now().UTC()
		if err := p.store.ReplaceChunks(fileID, nil, store.VersionFast); err != nil {
			p.markFailed(fileID)
			return err
		}
		rec.FastStage = store.StageEmbedded
		rec.FastTextAt = &now
		rec.FastEmbedAt = &now
		if err := p.store.UpsertFile(rec); err != nil {
			p.markFailed(fileID)
			return err
		}
		p.log.Info("fast round complete", "file", rec.Name, "chunks", 0)
		return nil
	}

	chunks := p.buildChunks(rec, text, settings)
	if err := p.store.ReplaceChunks(fileID, chunks, store.VersionFast); err != nil {
		p.markFailed(fileID)
		return err
	}
	now := time.Now().UTC()
	rec.FastStage = store.StageText
	rec.FastTextAt = &now
	if err := p.store.UpsertFile(rec); err != nil {
		p.markFailed(fileID)
		return err
	}

	p.state.SetActiveStage(ActiveUpdate{
		Stage:    "fast_embed",
		Detail:   fmt.Sprintf("Embedding %d chunks from %s", len(chunks), rec.Name),
		Progress: ptrFloat(50),
	})

	vectors, err := embedChunks(ctx, p.embedder, chunks, settings)
	if err != nil {
		p.log.Warn("embedding failed", "file", rec.Name, "error", err)
		p.markFailed(fileID)
		return err
	}

	docs := buildVectorDocs(rec, chunks, vectors, store.VersionFast)
	if err := p.vectors.Upsert(ctx, docs); err != nil {
		p.markFailed(fileID)
		return err
	}
	if err := p.vectors.Flush(ctx); err != nil {
		p.markFailed(fileID)
		return err
	}

	embedAt := time.Now().UTC()
	rec.FastStage = store.StageEmbedded
	rec.FastEmbedAt = &embedAt
	if err := p.store.UpsertFile(rec); err != nil {
		p.markFailed(fileID)
		return err
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.FilesIndexed.WithLabelValues("fast").Inc()
		m.ChunksWritten.WithLabelValues(store.VersionFast).Add(float64(len(chunks)))
	}
	p.log.Info("fast round complete", "file", rec.Name, "chunks", len(chunks))
	return nil
}

func (p *FastProcessor) buildChunks(rec *store.FileRecord, text string, settings config.Settings) []store.ChunkSnapshot {
	pieces := p.chunker.Split(text, chunker.Options{
		ChunkSize: settings.RagChunkSize,
		Overlap:   settings.RagChunkOverlap,
	})

	now := time.Now().UTC()
	chunks := make([]store.ChunkSnapshot, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, store.ChunkSnapshot{
			ID:         fmt.Sprintf("%s::fast::%d", rec.ID, i),
			FileID:     rec.ID,
			Ordinal:    i,
			Text:       piece.Text,
			Snippet:    chunker.Snippet(piece.Text, settings.MaxSnippetLength),
			TokenCount: piece.TokenCount,
			CharCount:  len(piece.Text),
			Version:    store.VersionFast,
			CreatedAt:  now,
		})
	}
	return chunks
}

func (p *FastProcessor) markFailed(fileID string) {
	failed := store.StageFailed
	if err := p.store.UpdateFileStage(fileID, store.StageUpdate{FastStage: &failed}); err != nil {
		p.log.Warn("could not mark fast failure", "file_id", fileID, "error", err)
	}
	if m := observability.GetGlobalMetrics(); m != nil {
		m.IndexFailures.WithLabelValues("fast").Inc()
	}
}
