package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
)

// SynthesisComponent turns verified evidence into a streamed answer.
type SynthesisComponent struct {
	llm *clients.LlmClient
}

func NewSynthesisComponent(llm *clients.LlmClient) *SynthesisComponent {
	return &SynthesisComponent{llm: llm}
}

// SynthesisInput is one piece of verified evidence.
type SynthesisInput struct {
	Index      int
	Source     string
	Content    string
	Confidence float64
}

const assistantPersona = "You are Local Cocoa, a helpful AI assistant for a local document workspace. " +
	"You were created at NTU Singapore (Nanyang Technological University)."

const directSystemPrompt = assistantPersona + "\n\nRespond to the user naturally and helpfully."

const greetingSystemPrompt = "You are Local Cocoa, a friendly AI assistant for a local document workspace.\n\n" +
	"Name: Local Cocoa\nOrigin: Born at NTU Singapore\n" +
	"When greeting users, be warm and briefly introduce yourself."

const chitchatSystemPrompt = "You are Local Cocoa, a helpful AI assistant for a local document workspace. " +
	"Respond to the user naturally and concisely."

const aggregationSystemPrompt = assistantPersona + "\n\n" +
	"Answer the question using ONLY the provided evidence. Cite sources as [N] using the " +
	"evidence indices. If the evidence is insufficient, say what is missing. Do not invent facts."

// StreamAggregation streams an answer built from the evidence list.
func (c *SynthesisComponent) StreamAggregation(ctx context.Context, query string, inputs []SynthesisInput, maxTokens int) (<-chan clients.StreamChunk, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nEvidence:\n", query)
	for _, in := range inputs {
		fmt.Fprintf(&sb, "[%d] (%s, confidence %.2f)\n%s\n\n", in.Index, in.Source, in.Confidence, in.Content)
	}

	return c.llm.StreamChatComplete(ctx, []clients.Message{
		{Role: "system", Content: aggregationSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, maxTokens)
}

// StreamDirect streams a retrieval-free answer with the persona that
// matches the detected intent.
func (c *SynthesisComponent) StreamDirect(ctx context.Context, intent, query string, maxTokens int) (<-chan clients.StreamChunk, error) {
	system := directSystemPrompt
	switch intent {
	case "greeting":
		system = greetingSystemPrompt
	case "chitchat":
		system = chitchatSystemPrompt
	}
	return c.llm.StreamChatComplete(ctx, []clients.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}, maxTokens)
}
