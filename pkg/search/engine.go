package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

// noResultsMessage is the done payload when retrieval or scope
// resolution leaves nothing to answer from.
const noResultsMessage = "I couldn't find any relevant documents."

// Engine answers questions over the indexed corpus. It owns the
// pipeline components and exposes both a streamed and an accumulated
// interface.
type Engine struct {
	store    *store.Store
	vectors  vector.Store
	embedder *clients.EmbeddingClient
	reranker *clients.RerankClient
	llm      *clients.LlmClient
	settings *config.Store
	log      *slog.Logger

	intent    *IntentComponent
	verifier  *VerificationComponent
	synthesis *SynthesisComponent
	standard  *StandardPipeline
	multipath *MultiPathPipeline
}

// NewEngine wires the components and pipelines.
func NewEngine(
	st *store.Store,
	vectors vector.Store,
	embedder *clients.EmbeddingClient,
	reranker *clients.RerankClient,
	llm *clients.LlmClient,
	settings *config.Store,
	log *slog.Logger,
) *Engine {
	e := &Engine{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		reranker: reranker,
		llm:      llm,
		settings: settings,
		log:      log,
	}
	e.intent = NewIntentComponent(llm, log)
	e.verifier = NewVerificationComponent(llm, log)
	e.synthesis = NewSynthesisComponent(llm)
	e.standard = &StandardPipeline{engine: e}
	e.multipath = &MultiPathPipeline{engine: e, standard: e.standard}
	return e
}

// StreamAnswer runs the full QA flow and emits events on the
// returned channel. The channel is closed after the done event; the
// stream never returns an error directly, failures arrive as error
// events followed by done.
func (e *Engine) StreamAnswer(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		started := time.Now()
		e.streamAnswer(ctx, req, func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
		if m := observability.GetGlobalMetrics(); m != nil {
			m.QueryDuration.WithLabelValues("stream").Observe(time.Since(started).Seconds())
		}
	}()
	return out
}

func (e *Engine) streamAnswer(ctx context.Context, req Request, emit emitFn) {
	settings := e.settings.Snapshot()
	limit := req.Limit
	if limit <= 0 {
		limit = settings.QaContextLimit
	}

	scope, err := ResolveScope(e.store, req.Query, req.FolderIDs)
	if err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
		emit(Event{Type: EventDone})
		return
	}

	// Direct mode bypasses retrieval entirely.
	if req.SearchMode == ModeDirect || req.Mode == "chat" {
		emit(Event{Type: EventStatus, Data: "answering"})
		if !e.streamDirect(ctx, "document", req.Query, 1024, emit) {
			emit(Event{Type: EventError, Data: "LLM generation failed."})
		}
		emit(Event{Type: EventDone})
		return
	}

	emit(Event{Type: EventStatus, Data: "searching"})

	routing := Routing{Intent: "document", CallTools: true}
	if req.SearchMode != ModeKnowledge {
		routing = e.intent.Route(ctx, scope.Query)
	}

	if !routing.CallTools {
		emit(Event{Type: EventStatus, Data: "direct_answer"})
		if !e.streamDirect(ctx, routing.Intent, req.Query, 512, emit) {
			emit(Event{Type: EventError, Data: "LLM generation failed."})
		}
		emit(Event{Type: EventDone})
		return
	}

	// A filter that resolved to nothing means nothing can match.
	if scope.Empty() {
		emit(Event{Type: EventDone, Data: noResultsMessage})
		return
	}

	analysis := e.intent.Analyze(ctx, scope.Query)
	if analysis.NeedsDecomposition {
		answered, err := e.multipath.run(ctx, analysis.SubQueries, limit, scope, emit)
		if err != nil {
			emit(Event{Type: EventError, Data: err.Error()})
			emit(Event{Type: EventDone})
			return
		}
		if !answered {
			emit(Event{Type: EventDone, Data: noResultsMessage})
			return
		}
		emit(Event{Type: EventDone})
		return
	}

	result, err := e.standard.run(ctx, scope.Query, limit, scope, emit)
	if err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
		emit(Event{Type: EventDone})
		return
	}
	if len(result.Verified) == 0 {
		emit(Event{Type: EventDone, Data: noResultsMessage})
		return
	}

	if err := e.streamSynthesis(ctx, scope.Query, result.Verified, emit); err != nil {
		emit(Event{Type: EventError, Data: err.Error()})
	}
	emit(Event{Type: EventDone})
}

// streamSynthesis streams the aggregated answer as token events and
// closes with a synthesis step.
func (e *Engine) streamSynthesis(ctx context.Context, query string, inputs []SynthesisInput, emit emitFn) error {
	started := time.Now()
	settings := e.settings.Snapshot()

	stream, err := e.synthesis.StreamAggregation(ctx, query, inputs, settings.SummaryMaxTokens)
	if err != nil {
		return err
	}
	for chunk := range stream {
		if chunk.Err != nil {
			return chunk.Err
		}
		emit(Event{Type: EventToken, Data: chunk.Text})
	}

	emit(Event{Type: EventThinkingStep, Data: ThinkingStep{
		ID:         "synthesize",
		Title:      "Synthesizing Answer",
		Status:     "complete",
		Summary:    "Answer generated",
		DurationMs: time.Since(started).Milliseconds(),
	}})
	return nil
}

func (e *Engine) streamDirect(ctx context.Context, intent, query string, maxTokens int, emit emitFn) bool {
	stream, err := e.synthesis.StreamDirect(ctx, intent, query, maxTokens)
	if err != nil {
		return false
	}
	for chunk := range stream {
		if chunk.Err != nil {
			return false
		}
		emit(Event{Type: EventToken, Data: chunk.Text})
	}
	return true
}

// Answer accumulates the streamed form into one response.
func (e *Engine) Answer(ctx context.Context, req Request) Response {
	started := time.Now()
	var answer strings.Builder
	var hits []SearchHit
	var steps []ThinkingStep

	for ev := range e.StreamAnswer(ctx, req) {
		switch ev.Type {
		case EventToken:
			if text, ok := ev.Data.(string); ok {
				answer.WriteString(text)
			}
		case EventHits:
			if h, ok := ev.Data.([]SearchHit); ok {
				hits = append(hits, h...)
			}
		case EventThinkingStep:
			if ts, ok := ev.Data.(ThinkingStep); ok {
				steps = append(steps, ts)
			}
		case EventError:
			if msg, ok := ev.Data.(string); ok {
				answer.WriteString("\nError: " + msg)
			}
		case EventDone:
			if msg, ok := ev.Data.(string); ok && answer.Len() == 0 {
				answer.WriteString(msg)
			}
		}
	}

	return Response{
		Answer:      strings.TrimSpace(answer.String()),
		Hits:        hits,
		LatencyMs:   time.Since(started).Milliseconds(),
		Diagnostics: steps,
	}
}

// Search runs retrieval only, without verification or synthesis.
func (e *Engine) Search(ctx context.Context, req Request) ([]SearchHit, error) {
	started := time.Now()
	defer func() {
		if m := observability.GetGlobalMetrics(); m != nil {
			m.QueryDuration.WithLabelValues("search").Observe(time.Since(started).Seconds())
		}
	}()

	settings := e.settings.Snapshot()
	limit := req.Limit
	if limit <= 0 {
		limit = settings.SearchResultLimit
	}

	scope, err := ResolveScope(e.store, req.Query, req.FolderIDs)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return []SearchHit{}, nil
	}

	result, err := e.retrieveOnly(ctx, scope.Query, limit, scope)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retrieveOnly is the hybrid retrieval half of the standard
// pipeline, trimmed to limit.
func (e *Engine) retrieveOnly(ctx context.Context, query string, limit int, scope Scope) ([]SearchHit, error) {
	result, err := e.standard.runRetrieval(ctx, query, limit, scope)
	if err != nil {
		return nil, err
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
