package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
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

// DeepProcessor runs round 2: the vision model describes visual
// content, producing a second "deep" version of chunks alongside the
// fast ones. Only files that benefit from a VLM pass are processed;
// the rest are marked skipped.
type DeepProcessor struct {
	store    *store.Store
	vectors  vector.Store
	router   *parser.ContentRouter
	chunker  *chunker.Chunker
	embedder *clients.EmbeddingClient
	vision   *clients.VisionClient
	state    *StateManager
	settings *config.Store
	log      *slog.Logger
}

// NewDeepProcessor wires the deep round.
func NewDeepProcessor(
	st *store.Store,
	vectors vector.Store,
	router *parser.ContentRouter,
	ck *chunker.Chunker,
	embedder *clients.EmbeddingClient,
	vision *clients.VisionClient,
	state *StateManager,
	settings *config.Store,
	log *slog.Logger,
) *DeepProcessor {
	return &DeepProcessor{
		store:    st,
		vectors:  vectors,
		router:   router,
		chunker:  ck,
		embedder: embedder,
		vision:   vision,
		state:    state,
		settings: settings,
		log:      log,
	}
}

// ShouldProcessDeep reports whether the deep round applies to a
// file: images and presentations always, PDFs once the fast round
// produced a preview or page count, nothing else.
func ShouldProcessDeep(rec *store.FileRecord) bool {
	switch rec.Kind {
	case store.KindImage, store.KindPresentation:
		return true
	case store.KindDocument:
		if rec.Extension == "pdf" {
			return len(rec.PreviewImage) > 0 || rec.PageCount > 0
		}
	}
	return false
}

// Process runs the deep round for one file. A file that is not
// suitable is marked deep_stage = -2 and counts as success.
func (p *DeepProcessor) Process(ctx context.Context, fileID string) error {
	defer p.state.ResetActiveState()

	tracer := observability.GetTracer("indexer")
	ctx, span := tracer.Start(ctx, observability.SpanDeepProcess)
	defer span.End()

	rec, err := p.store.GetFile(fileID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("file not found: %s", fileID)
	}
	if rec.FastStage < store.StageEmbedded {
		return fmt.Errorf("file %s has not completed the fast round", fileID)
	}
	if rec.DeepStage >= store.StageEmbedded || rec.DeepStage == store.StageSkipped {
		return nil
	}

	if !ShouldProcessDeep(rec) {
		p.log.Info("deep round not applicable", "file", rec.Name, "kind", rec.Kind)
		skipped := store.StageSkipped
		return p.store.UpdateFileStage(fileID, store.StageUpdate{DeepStage: &skipped})
	}

	if _, err := os.Stat(rec.Path); err != nil {
		p.log.Warn("file path missing", "file", rec.Name, "path", rec.Path)
		p.markFailed(fileID)
		return fmt.Errorf("file path missing: %s", rec.Path)
	}

	p.state.SetActiveStage(ActiveUpdate{
		Stage:    "deep_vision",
		Detail:   "Deep processing " + rec.Name,
		Event:    "VLM analyzing " + rec.Name,
		Progress: ptrFloat(0),
	})

	settings := p.settings.Snapshot()

	var (
		deepText string
		chunks   []store.ChunkSnapshot
	)
	switch {
	case rec.Kind == store.KindImage:
		deepText = p.describeImage(ctx, rec, imagePrompt, settings)
	case rec.Kind == store.KindDocument && rec.Extension == "pdf":
		chunks = p.processPDF(ctx, rec, settings)
	case rec.Kind == store.KindPresentation:
		deepText = p.describeImage(ctx, rec, presentationPrompt, settings)
	}

	if deepText == "" && len(chunks) == 0 {
		p.log.Info("no deep content extracted", "file", rec.Name)
		now := time.Now().UTC()
		embedded := store.StageEmbedded
		return p.store.UpdateFileStage(fileID, store.StageUpdate{
			DeepStage:   &embedded,
			DeepTextAt:  &now,
			DeepEmbedAt: &now,
		})
	}

	if deepText != "" && len(chunks) == 0 {
		chunks = p.buildFullChunk(rec, deepText, settings)
	}

	if err := p.store.ReplaceChunks(fileID, chunks, store.VersionDeep); err != nil {
		p.markFailed(fileID)
		return err
	}

	p.state.SetActiveStage(ActiveUpdate{
		Stage:    "deep_embed",
		Detail:   fmt.Sprintf("Embedding %d deep chunks", len(chunks)),
		Progress: ptrFloat(50),
	})

	vectors, err := embedChunks(ctx, p.embedder, chunks, settings)
	if err != nil {
		p.log.Warn("deep embedding failed", "file", rec.Name, "error", err)
		p.markFailed(fileID)
		return err
	}

	docs := buildVectorDocs(rec, chunks, vectors, store.VersionDeep)
	if err := p.vectors.Upsert(ctx, docs); err != nil {
		p.markFailed(fileID)
		return err
	}
	if err := p.vectors.Flush(ctx); err != nil {
		p.markFailed(fileID)
		return err
	}

	now := time.Now().UTC()
	embedded := store.StageEmbedded
	if err := p.store.UpdateFileStage(fileID, store.StageUpdate{
		DeepStage:   &embedded,
		DeepTextAt:  &now,
		DeepEmbedAt: &now,
	}); err != nil {
		return err
	}

	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}
	if err := p.store.UpdateFileMetadata(fileID, map[string]any{
		"chunk_count_deep":   len(chunks),
		"vector_chunks_deep": docIDs,
		"deep_processed":     true,
	}); err != nil {
		p.log.Warn("could not record deep metadata", "file", rec.Name, "error", err)
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.FilesIndexed.WithLabelValues("deep").Inc()
		m.ChunksWritten.WithLabelValues(store.VersionDeep).Add(float64(len(chunks)))
	}
	p.log.Info("deep round complete", "file", rec.Name, "chunks", len(chunks))
	return nil
}

// describeImage describes the preview image, re-reading the file
// when no preview was stored.
func (p *DeepProcessor) describeImage(ctx context.Context, rec *store.FileRecord, prompt string, settings config.Settings) string {
	image := rec.PreviewImage
	if len(image) == 0 {
		raw, err := os.ReadFile(rec.Path)
		if err != nil {
			p.log.Warn("could not read image", "file", rec.Name, "error", err)
			return ""
		}
		image = raw
	}

	text, err := p.vision.DescribeImage(ctx, image, mimeTypeFor(rec.Extension), prompt, settings.SummaryMaxTokens)
	if err != nil {
		p.log.Warn("VLM description failed", "file", rec.Name, "error", err)
		return ""
	}
	return stripCodeFence(text)
}

// processPDF re-parses in deep mode for page images, describes each
// page in numeric order, and builds one chunk per non-empty page. A
// failing page is logged and skipped; the round still completes.
func (p *DeepProcessor) processPDF(ctx context.Context, rec *store.FileRecord, settings config.Settings) []store.ChunkSnapshot {
	parsed, err := p.router.Parse(ctx, rec.Path, config.IndexingModeDeep, settings)
	if err != nil {
		p.log.Warn("deep parse failed", "file", rec.Name, "error", err)
		return nil
	}

	type page struct {
		number int
		image  []byte
	}
	pages := make([]page, 0, len(parsed.Attachments))
	for key, image := range parsed.Attachments {
		if !strings.HasPrefix(key, "page_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, "page_"))
		if err != nil {
			continue
		}
		pages = append(pages, page{number: n, image: image})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })

	delay := time.Duration(settings.VisionBatchDelayMs) * time.Millisecond
	now := time.Now().UTC()
	var chunks []store.ChunkSnapshot
	for i, pg := range pages {
		p.state.SetActiveStage(ActiveUpdate{
			Stage:       "deep_vision",
			Detail:      fmt.Sprintf("VLM processing page %d/%d", i+1, len(pages)),
			StepCurrent: ptrInt(i + 1),
			StepTotal:   ptrInt(len(pages)),
			Progress:    ptrFloat(float64(i) / float64(len(pages)) * 50),
		})

		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return chunks
			case <-time.After(delay):
			}
		}

		text, err := p.vision.DescribeImage(ctx, pg.image, "image/png", pdfPagePrompt, settings.SummaryMaxTokens)
		if err != nil {
			p.log.Warn("VLM failed for page", "file", rec.Name, "page", pg.number, "error", err)
			continue
		}
		cleaned := stripCodeFence(text)
		if cleaned == "" {
			continue
		}

		chunks = append(chunks, store.ChunkSnapshot{
			ID:          fmt.Sprintf("%s::deep::page_%d", rec.ID, pg.number),
			FileID:      rec.ID,
			Ordinal:     len(chunks),
			Text:        cleaned,
			Snippet:     chunker.Snippet(cleaned, settings.MaxSnippetLength),
			TokenCount:  p.chunker.CountTokens(cleaned),
			CharCount:   len(cleaned),
			SectionPath: fmt.Sprintf("page_%d", pg.number),
			Metadata: map[string]any{
				"page_number": pg.number,
				"source":      "vlm",
			},
			Version:   store.VersionDeep,
			CreatedAt: now,
		})
	}
	return chunks
}

func (p *DeepProcessor) buildFullChunk(rec *store.FileRecord, text string, settings config.Settings) []store.ChunkSnapshot {
	return []store.ChunkSnapshot{{
		ID:         fmt.Sprintf("%s::deep::full", rec.ID),
		FileID:     rec.ID,
		Ordinal:    0,
		Text:       text,
		Snippet:    chunker.Snippet(text, settings.MaxSnippetLength),
		TokenCount: p.chunker.CountTokens(text),
		CharCount:  len(text),
		Metadata:   map[string]any{"source": "vlm"},
		Version:    store.VersionDeep,
		CreatedAt:  time.Now().UTC(),
	}}
}

func (p *DeepProcessor) markFailed(fileID string) {
	failed := store.StageFailed
	if err := p.store.UpdateFileStage(fileID, store.StageUpdate{DeepStage: &failed}); err != nil {
		p.log.Warn("could not mark deep failure", "file_id", fileID, "error", err)
	}
	if m := observability.GetGlobalMetrics(); m != nil {
		m.IndexFailures.WithLabelValues("deep").Inc()
	}
}

var codeFencePattern = regexp.MustCompile("(?m)^```\\w*\\s*|\\s*```$")

// stripCodeFence removes Markdown code-fence wrappers the VLM
// sometimes adds despite instructions.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = codeFencePattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func mimeTypeFor(extension string) string {
	switch strings.ToLower(extension) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}
