package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

// verifyParallelism bounds concurrent verification calls per run.
const verifyParallelism = 4

// StandardPipeline runs one query end to end: hybrid retrieval, rank
// fusion, rerank, verification. Synthesis stays with the caller so
// the multipath pipeline can fuse several runs into one answer.
type StandardPipeline struct {
	engine *Engine
}

// PipelineResult is the verified output of one standard run.
type PipelineResult struct {
	Hits     []SearchHit
	Verified []SynthesisInput
	Steps    []ThinkingStep
}

// emitFn receives progress events; nil means discard.
type emitFn func(Event)

func (p *StandardPipeline) run(ctx context.Context, query string, limit int, scope Scope, emit emitFn) (*PipelineResult, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	result := &PipelineResult{}
	stepN := 0
	step := func(title, status, summary string, started time.Time) {
		stepN++
		ts := ThinkingStep{
			ID:      fmt.Sprintf("step_%d", stepN),
			Title:   title,
			Status:  status,
			Summary: summary,
		}
		if !started.IsZero() {
			ts.DurationMs = time.Since(started).Milliseconds()
		}
		result.Steps = append(result.Steps, ts)
		emit(Event{Type: EventThinkingStep, Data: ts})
	}

	fetchK := limit * 4
	if fetchK < limit {
		fetchK = limit
	}

	// Retrieval and fusion.
	retrievalStart := time.Now()
	fused, kwCount, vecCount, err := p.hybridFuse(ctx, query, fetchK, scope)
	if err != nil {
		return nil, err
	}
	step("Searching Documents", "complete",
		fmt.Sprintf("%d keyword and %d vector matches", kwCount, vecCount), retrievalStart)

	if len(fused) == 0 {
		return result, nil
	}

	// Rerank the fused list, keep limit*2 candidates.
	rerankStart := time.Now()
	candidates, err := p.loadCandidates(fused, limit*4)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 1 {
		passages := make([]string, len(candidates))
		for i, c := range candidates {
			passages[i] = c.text
		}
		scores, err := p.engine.reranker.Rerank(ctx, query, passages)
		if err != nil {
			p.engine.log.Warn("rerank failed, keeping fused order", "error", err)
		} else {
			for i := range candidates {
				candidates[i].hit.Score = scores[i]
			}
			sortCandidates(candidates)
		}
	}
	if keep := limit * 2; len(candidates) > keep {
		candidates = candidates[:keep]
	}
	step("Ranking Results", "complete",
		fmt.Sprintf("%d candidates after rerank", len(candidates)), rerankStart)

	for _, c := range candidates {
		result.Hits = append(result.Hits, c.hit)
	}
	emit(Event{Type: EventHits, Data: result.Hits})

	// Verification.
	verifyStart := time.Now()
	result.Verified = p.verifyCandidates(ctx, query, candidates)
	step("Verifying Evidence", "complete",
		fmt.Sprintf("%d of %d chunks verified", len(result.Verified), len(candidates)), verifyStart)

	return result, nil
}

// verifyCandidates judges candidates in small concurrent batches and
// keeps the accepted ones in candidate order.
func (p *StandardPipeline) verifyCandidates(ctx context.Context, query string, candidates []candidate) []SynthesisInput {
	verdicts := make([]VerifiedChunk, len(candidates))
	var g errgroup.Group
	g.SetLimit(verifyParallelism)
	for i, c := range candidates {
		g.Go(func() error {
			verdicts[i] = p.engine.verifier.Verify(ctx, query, c.text, c.hit.FileName)
			return nil
		})
	}
	_ = g.Wait()

	var verified []SynthesisInput
	for i, c := range candidates {
		if !verdicts[i].Accept() {
			continue
		}
		verified = append(verified, SynthesisInput{
			Index:      i + 1,
			Source:     c.hit.FileName,
			Content:    verdicts[i].ExtractedContent,
			Confidence: verdicts[i].Confidence,
		})
	}
	return verified
}

// hybridFuse runs keyword and vector retrieval and merges the two
// lists by reciprocal rank. Either source failing degrades to the
// other instead of erroring.
func (p *StandardPipeline) hybridFuse(ctx context.Context, query string, fetchK int, scope Scope) ([]fusedResult, int, int, error) {
	keywordHits, err := p.engine.store.SearchKeyword(query, fetchK, scope.FileIDs)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("keyword search: %w", err)
	}

	var vectorHits []vector.Hit
	queryVectors, err := p.engine.embedder.Encode(ctx, []string{query})
	if err != nil {
		p.engine.log.Warn("query embedding failed, keyword only", "error", err)
	} else if len(queryVectors) == 1 {
		vectorHits, err = p.engine.vectors.Search(ctx, queryVectors[0], fetchK, &vector.Filter{FileIDs: scope.FileIDs})
		if err != nil {
			p.engine.log.Warn("vector search failed, keyword only", "error", err)
			vectorHits = nil
		}
	}

	kwIDs := make([]string, len(keywordHits))
	kwScores := make([]float64, len(keywordHits))
	for i, h := range keywordHits {
		kwIDs[i] = h.ChunkID
		kwScores[i] = h.Score
	}
	vecIDs := make([]string, len(vectorHits))
	vecScores := make([]float64, len(vectorHits))
	for i, h := range vectorHits {
		vecIDs[i] = h.ID
		vecScores[i] = float64(h.Score)
	}
	return fuseRanks(kwIDs, kwScores, vecIDs, vecScores), len(keywordHits), len(vectorHits), nil
}

// runRetrieval is the retrieval half alone: hybrid search, fusion,
// rerank. Used by the plain search endpoint.
func (p *StandardPipeline) runRetrieval(ctx context.Context, query string, limit int, scope Scope) ([]SearchHit, error) {
	fused, _, _, err := p.hybridFuse(ctx, query, limit*4, scope)
	if err != nil {
		return nil, err
	}
	if len(fused) == 0 {
		return []SearchHit{}, nil
	}

	candidates, err := p.loadCandidates(fused, limit*2)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 1 {
		passages := make([]string, len(candidates))
		for i, c := range candidates {
			passages[i] = c.text
		}
		if scores, err := p.engine.reranker.Rerank(ctx, query, passages); err == nil {
			for i := range candidates {
				candidates[i].hit.Score = scores[i]
			}
			sortCandidates(candidates)
		}
	}

	hits := make([]SearchHit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

type candidate struct {
	hit  SearchHit
	text string
}

// loadCandidates resolves fused chunk ids back to full rows,
// preferring the deep version and falling back to fast.
func (p *StandardPipeline) loadCandidates(fused []fusedResult, max int) ([]candidate, error) {
	out := make([]candidate, 0, max)
	for _, f := range fused {
		if len(out) >= max {
			break
		}
		chunk, version, err := p.lookupChunk(f.ChunkID)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		hit := SearchHit{
			ChunkID: chunk.ID,
			FileID:  chunk.FileID,
			Snippet: chunk.Snippet,
			Score:   f.RRFScore,
			Version: version,
		}
		if chunk.Metadata != nil {
			if page, ok := chunk.Metadata["page_number"].(float64); ok {
				hit.Page = int(page)
			}
		}
		if file, err := p.engine.store.GetFile(chunk.FileID); err == nil && file != nil {
			hit.FileName = file.Name
			hit.Path = file.Path
		}
		out = append(out, candidate{hit: hit, text: chunk.Text})
	}
	return out, nil
}

func (p *StandardPipeline) lookupChunk(chunkID string) (*store.ChunkSnapshot, string, error) {
	for _, version := range []string{store.VersionDeep, store.VersionFast} {
		chunk, err := p.engine.store.GetChunkByID(chunkID, version)
		if err != nil {
			return nil, "", err
		}
		if chunk != nil {
			return chunk, version, nil
		}
	}
	return nil, "", nil
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].hit.Score > cands[j].hit.Score
	})
}
