// Package search implements the hybrid query engine: keyword and
// vector retrieval fused by reciprocal rank, reranked, verified by
// the LLM, and synthesized into a streamed answer.
package search

import "encoding/json"

// Event types emitted on the answer stream.
const (
	EventStatus       = "status"
	EventThinkingStep = "thinking_step"
	EventHits         = "hits"
	EventToken        = "token"
	EventError        = "error"
	EventDone         = "done"
)

// Event is one newline-delimited JSON frame of the answer stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode renders the event as one NDJSON line.
func (e Event) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

// ThinkingStep reports pipeline progress to the client.
type ThinkingStep struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	Summary    string   `json:"summary,omitempty"`
	Items      []string `json:"items,omitempty"`
	Queries    []string `json:"queries,omitempty"`
	Files      []string `json:"files,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
}

// SearchHit is one retrieved chunk with provenance.
type SearchHit struct {
	ChunkID  string  `json:"chunk_id"`
	FileID   string  `json:"file_id"`
	FileName string  `json:"file_name,omitempty"`
	Path     string  `json:"path,omitempty"`
	Snippet  string  `json:"snippet,omitempty"`
	Score    float64 `json:"score"`
	Version  string  `json:"version,omitempty"`
	Page     int     `json:"page,omitempty"`
}

// Request is a search or QA request.
type Request struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit,omitempty"`
	FolderIDs  []string `json:"folder_ids,omitempty"`
	SearchMode string   `json:"search_mode,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
}

// Response is the accumulated form of a streamed answer.
type Response struct {
	Answer      string         `json:"answer"`
	Hits        []SearchHit    `json:"hits"`
	LatencyMs   int64          `json:"latency_ms"`
	Diagnostics []ThinkingStep `json:"diagnostics,omitempty"`
}

// Search modes recognized on Request.SearchMode.
const (
	ModeAuto      = "auto"
	ModeDirect    = "direct"
	ModeKnowledge = "knowledge"
)
