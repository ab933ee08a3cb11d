package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
)

// IntentComponent classifies queries and decides whether retrieval
// and decomposition are needed. Classification failures fall back to
// document intent with retrieval on, never blocking the pipeline.
type IntentComponent struct {
	llm *clients.LlmClient
	log *slog.Logger
}

func NewIntentComponent(llm *clients.LlmClient, log *slog.Logger) *IntentComponent {
	return &IntentComponent{llm: llm, log: log}
}

// Routing is the intent decision for one query.
type Routing struct {
	Intent    string `json:"intent"`
	CallTools bool   `json:"call_tools"`
}

// Analysis is the decomposition decision for one query.
type Analysis struct {
	NeedsDecomposition bool     `json:"needs_decomposition"`
	SubQueries         []string `json:"sub_queries"`
	Strategy           string   `json:"strategy"`
}

const routingPrompt = `Classify the user query for a document search assistant.
Respond with JSON only: {"intent": "<document|greeting|chitchat>", "call_tools": <true|false>}
"document" means the query asks about file contents and needs retrieval (call_tools true).
"greeting" and "chitchat" need no retrieval (call_tools false).`

const analysisPrompt = `Decide whether this query should be split into independent sub-queries
for separate document searches. Split only when the query genuinely asks multiple
distinct questions or compares separate subjects.
Respond with JSON only:
{"needs_decomposition": <true|false>, "sub_queries": ["..."], "strategy": "<SINGLE|PARALLEL>"}`

// Route classifies the query intent. Unknown intents and LLM
// failures default to retrieval.
func (c *IntentComponent) Route(ctx context.Context, query string) Routing {
	out, err := c.llm.ChatComplete(ctx, []clients.Message{
		{Role: "system", Content: routingPrompt},
		{Role: "user", Content: query},
	}, 128)
	if err != nil {
		c.log.Warn("intent routing failed", "error", err)
		return Routing{Intent: "document", CallTools: true}
	}

	var routing Routing
	if err := json.Unmarshal([]byte(extractJSON(out)), &routing); err != nil {
		c.log.Warn("intent routing returned malformed JSON", "error", err)
		return Routing{Intent: "document", CallTools: true}
	}
	switch routing.Intent {
	case "greeting", "chitchat":
	default:
		routing.Intent = "document"
		routing.CallTools = true
	}
	return routing
}

// Analyze decides whether the query decomposes into sub-queries.
// On failure the query runs as a single path.
func (c *IntentComponent) Analyze(ctx context.Context, query string) Analysis {
	single := Analysis{NeedsDecomposition: false, SubQueries: []string{query}, Strategy: "SINGLE"}

	out, err := c.llm.ChatComplete(ctx, []clients.Message{
		{Role: "system", Content: analysisPrompt},
		{Role: "user", Content: query},
	}, 512)
	if err != nil {
		c.log.Warn("query analysis failed", "error", err)
		return single
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(extractJSON(out)), &analysis); err != nil {
		c.log.Warn("query analysis returned malformed JSON", "error", err)
		return single
	}
	if !analysis.NeedsDecomposition || len(analysis.SubQueries) < 2 {
		return single
	}
	return analysis
}

// extractJSON trims prose and code fences around a JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
