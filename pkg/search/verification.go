package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
)

// minConfidence is the verification threshold; chunks below it are
// dropped before synthesis.
const minConfidence = 0.5

// VerificationComponent asks the LLM whether each candidate chunk
// actually answers the query, extracting the relevant content.
type VerificationComponent struct {
	llm *clients.LlmClient
	log *slog.Logger
}

func NewVerificationComponent(llm *clients.LlmClient, log *slog.Logger) *VerificationComponent {
	return &VerificationComponent{llm: llm, log: log}
}

// VerifiedChunk is the verification verdict for one candidate.
type VerifiedChunk struct {
	HasAnswer        bool    `json:"has_answer"`
	Confidence       float64 `json:"confidence"`
	ExtractedContent string  `json:"extracted_content"`
	SourceRef        string  `json:"source_ref"`
}

const verifyPrompt = `You check whether a document excerpt answers a question.
Respond with JSON only:
{"has_answer": <true|false>, "confidence": <0.0-1.0>, "extracted_content": "<the relevant text, verbatim or tightly summarized>", "source_ref": "<short source label>"}`

// Verify judges one chunk against the query. An LLM failure is
// reported as no-answer so the pipeline can continue.
func (c *VerificationComponent) Verify(ctx context.Context, query, chunkText, sourceRef string) VerifiedChunk {
	user := fmt.Sprintf("Question: %s\n\nSource: %s\n\nExcerpt:\n%s", query, sourceRef, chunkText)
	out, err := c.llm.ChatComplete(ctx, []clients.Message{
		{Role: "system", Content: verifyPrompt},
		{Role: "user", Content: user},
	}, 512)
	if err != nil {
		c.log.Warn("chunk verification failed", "source", sourceRef, "error", err)
		return VerifiedChunk{SourceRef: sourceRef}
	}

	var verdict VerifiedChunk
	if err := json.Unmarshal([]byte(extractJSON(out)), &verdict); err != nil {
		c.log.Warn("verification returned malformed JSON", "source", sourceRef, "error", err)
		return VerifiedChunk{SourceRef: sourceRef}
	}
	if verdict.SourceRef == "" {
		verdict.SourceRef = sourceRef
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	if strings.TrimSpace(verdict.ExtractedContent) == "" {
		verdict.HasAnswer = false
	}
	return verdict
}

// Accept reports whether the verdict qualifies for synthesis.
func (v VerifiedChunk) Accept() bool {
	return v.HasAnswer && v.Confidence >= minConfidence
}
