package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/logger"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

const engineTestDim = 4

type engineFixture struct {
	engine *Engine
	store  *store.Store
}

// newEngineFixture seeds one indexed file and backs every model
// service with a canned httptest server.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.UpsertFile(&store.FileRecord{
		ID: "f1", Path: "/docs/report.txt", Name: "report.txt",
		Extension: "txt", Kind: store.KindText,
		FastStage: store.StageEmbedded,
	}))
	require.NoError(t, st.ReplaceChunks("f1", []store.ChunkSnapshot{{
		ID:      "f1::fast::0",
		Text:    "Revenue grew 12 percent in the third quarter.",
		Snippet: "Revenue grew 12 percent in the third quarter.",
	}}, store.VersionFast))

	vectors, err := vector.NewChromemStore("", "engine_test")
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(context.Background(), []vector.Document{{
		ID:     "f1::fast::0",
		Vector: []float32{1, 0, 0, 0},
		Metadata: map[string]any{
			vector.MetaChunkID: "f1::fast::0", vector.MetaFileID: "f1",
			vector.MetaVersion: store.VersionFast, vector.MetaSnippet: "Revenue grew 12 percent in the third quarter.",
		},
	}}))

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1, 0, 0, 0}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(embedSrv.Close)

	rerankSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		results := make([]map[string]any, len(req.Texts))
		for i := range req.Texts {
			results[i] = map[string]any{"index": i, "score": 0.9 - float64(i)*0.1}
		}
		json.NewEncoder(w).Encode(results)
	}))
	t.Cleanup(rerankSrv.Close)

	llmSrv := httptest.NewServer(http.HandlerFunc(fakeLlmHandler))
	t.Cleanup(llmSrv.Close)

	settings := config.Settings{}
	settings.SetDefaults()

	engine := NewEngine(
		st, vectors,
		clients.NewEmbeddingClient(embedSrv.URL, "embed", "", engineTestDim),
		clients.NewRerankClient(rerankSrv.URL, ""),
		clients.NewLlmClient(clients.LlmOptions{BaseURL: llmSrv.URL, Model: "test"}),
		config.NewStore(settings),
		logger.GetLogger(),
	)
	return &engineFixture{engine: engine, store: st}
}

// fakeLlmHandler answers each pipeline stage by inspecting the system
// prompt, and streams synthesis tokens over SSE.
func fakeLlmHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []clients.Message `json:"messages"`
		Stream   bool              `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Revenue grew \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"12 percent.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content
	var reply string
	switch {
	case strings.HasPrefix(system, "Classify the user query"):
		if strings.Contains(strings.ToLower(user), "hello") {
			reply = `{"intent": "greeting", "call_tools": false}`
		} else {
			reply = `{"intent": "document", "call_tools": true}`
		}
	case strings.HasPrefix(system, "Decide whether this query"):
		if strings.Contains(strings.ToLower(user), "compare") {
			reply = `{"needs_decomposition": true, "sub_queries": ["unanswerable alpha", "unanswerable beta"], "strategy": "PARALLEL"}`
		} else {
			reply = `{"needs_decomposition": false, "sub_queries": [], "strategy": "SINGLE"}`
		}
	case strings.HasPrefix(system, "You check whether a document excerpt"):
		if strings.Contains(user, "unanswerable") {
			reply = `{"has_answer": false, "confidence": 0.0, "extracted_content": "", "source_ref": ""}`
		} else {
			reply = `{"has_answer": true, "confidence": 0.9, "extracted_content": "Revenue grew 12 percent.", "source_ref": "report.txt"}`
		}
	default:
		reply = "OK"
	}
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": reply}},
		},
	})
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamAnswerEventSequence(t *testing.T) {
	f := newEngineFixture(t)

	events := collectEvents(t, f.engine.StreamAnswer(context.Background(),
		Request{Query: "What was the revenue growth?"}))
	require.NotEmpty(t, events)

	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "searching", events[0].Data)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	var tokens strings.Builder
	var sawHits, sawSteps bool
	for _, ev := range events {
		switch ev.Type {
		case EventToken:
			tokens.WriteString(ev.Data.(string))
		case EventHits:
			hits := ev.Data.([]SearchHit)
			require.NotEmpty(t, hits)
			assert.Equal(t, "f1::fast::0", hits[0].ChunkID)
			assert.Equal(t, "report.txt", hits[0].FileName)
			sawHits = true
		case EventThinkingStep:
			sawSteps = true
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Data)
		}
	}
	assert.True(t, sawHits)
	assert.True(t, sawSteps)
	assert.Equal(t, "Revenue grew 12 percent.", tokens.String())
}

func TestAnswerAccumulatesStream(t *testing.T) {
	f := newEngineFixture(t)

	resp := f.engine.Answer(context.Background(), Request{Query: "What was the revenue growth?"})
	assert.Equal(t, "Revenue grew 12 percent.", resp.Answer)
	assert.NotEmpty(t, resp.Hits)
	assert.NotEmpty(t, resp.Diagnostics)
}

func TestGreetingSkipsRetrieval(t *testing.T) {
	f := newEngineFixture(t)

	events := collectEvents(t, f.engine.StreamAnswer(context.Background(),
		Request{Query: "hello there"}))

	var sawDirect, sawHits bool
	for _, ev := range events {
		if ev.Type == EventStatus && ev.Data == "direct_answer" {
			sawDirect = true
		}
		if ev.Type == EventHits {
			sawHits = true
		}
	}
	assert.True(t, sawDirect)
	assert.False(t, sawHits)
}

func TestDirectModeBypassesRetrieval(t *testing.T) {
	f := newEngineFixture(t)

	events := collectEvents(t, f.engine.StreamAnswer(context.Background(),
		Request{Query: "What was the revenue growth?", SearchMode: ModeDirect}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "answering", events[0].Data)
	for _, ev := range events {
		assert.NotEqual(t, EventHits, ev.Type)
	}
}

func TestDecomposedQueryWithoutEvidenceEmitsSingleDone(t *testing.T) {
	f := newEngineFixture(t)

	events := collectEvents(t, f.engine.StreamAnswer(context.Background(),
		Request{Query: "compare the two divisions"}))
	require.NotEmpty(t, events)

	var done int
	for _, ev := range events {
		if ev.Type == EventDone {
			done++
		}
	}
	assert.Equal(t, 1, done)

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "I couldn't find any relevant documents.", last.Data)
}

func TestVerifyCandidatesKeepsCandidateOrder(t *testing.T) {
	f := newEngineFixture(t)

	cands := []candidate{
		{hit: SearchHit{FileName: "report.txt"}, text: "Revenue grew 12 percent in the third quarter."},
		{hit: SearchHit{FileName: "filler.txt"}, text: "unanswerable filler"},
		{hit: SearchHit{FileName: "notes.txt"}, text: "Revenue commentary for the board."},
	}
	verified := f.engine.standard.verifyCandidates(context.Background(), "What was the revenue growth?", cands)
	require.Len(t, verified, 2)
	assert.Equal(t, 1, verified[0].Index)
	assert.Equal(t, "report.txt", verified[0].Source)
	assert.Equal(t, 3, verified[1].Index)
	assert.Equal(t, "notes.txt", verified[1].Source)
}

func TestStreamAnswerNoMatchingScope(t *testing.T) {
	f := newEngineFixture(t)

	resp := f.engine.Answer(context.Background(),
		Request{Query: "revenue", FolderIDs: []string{"no-such-folder"}})
	assert.Equal(t, "I couldn't find any relevant documents.", resp.Answer)
	assert.Empty(t, resp.Hits)
}

func TestSearchRetrievalOnly(t *testing.T) {
	f := newEngineFixture(t)

	hits, err := f.engine.Search(context.Background(), Request{Query: "revenue growth"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "f1::fast::0", hits[0].ChunkID)
	assert.Equal(t, store.VersionFast, hits[0].Version)
}
