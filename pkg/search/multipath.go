package search

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// multipathParallelism bounds concurrent sub-query pipelines.
const multipathParallelism = 3

// MultiPathPipeline fans a decomposed query out to one standard run
// per sub-query and fuses the verified evidence into a single
// answer.
type MultiPathPipeline struct {
	engine   *Engine
	standard *StandardPipeline
}

type subResult struct {
	index  int
	query  string
	result *PipelineResult
	err    error
}

// run fans out, fuses and synthesizes. It reports whether any
// evidence survived verification; emitting the terminal done event
// stays with the caller either way.
func (p *MultiPathPipeline) run(ctx context.Context, subQueries []string, limit int, scope Scope, emit emitFn) (bool, error) {
	emit(Event{Type: EventThinkingStep, Data: ThinkingStep{
		ID:      "decompose",
		Title:   "Breaking Down Question",
		Status:  "complete",
		Summary: fmt.Sprintf("Running %d sub-queries", len(subQueries)),
		Queries: subQueries,
	}})

	results := make([]subResult, len(subQueries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(multipathParallelism)
	for i, sub := range subQueries {
		g.Go(func() error {
			res, err := p.standard.run(gctx, sub, limit, scope, nil)
			mu.Lock()
			results[i] = subResult{index: i, query: sub, result: res, err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	var allHits []SearchHit
	var inputs []SynthesisInput
	for _, sr := range results {
		if sr.err != nil {
			p.engine.log.Warn("sub-query failed", "query", sr.query, "error", sr.err)
			continue
		}
		if sr.result == nil {
			continue
		}
		allHits = append(allHits, sr.result.Hits...)
		for _, in := range sr.result.Verified {
			in.Index = len(inputs) + 1
			in.Source = fmt.Sprintf("%s (for: %s)", in.Source, sr.query)
			inputs = append(inputs, in)
		}
		emit(Event{Type: EventThinkingStep, Data: ThinkingStep{
			ID:      fmt.Sprintf("sub_%d", sr.index+1),
			Title:   "Sub-query: " + sr.query,
			Status:  "complete",
			Summary: fmt.Sprintf("%d verified chunks", len(sr.result.Verified)),
		}})
	}

	if len(allHits) > 0 {
		emit(Event{Type: EventHits, Data: allHits})
	}
	if len(inputs) == 0 {
		return false, nil
	}

	query := subQueries[0]
	if len(subQueries) > 1 {
		query = "Answer all parts: " + joinQueries(subQueries)
	}
	return true, p.engine.streamSynthesis(ctx, query, inputs, emit)
}

func joinQueries(queries []string) string {
	out := ""
	for i, q := range queries {
		if i > 0 {
			out += " / "
		}
		out += q
	}
	return out
}
