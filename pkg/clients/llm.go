package clients

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/httpclient"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk carries one increment of a streamed completion. Err is
// set on the final chunk when the stream failed mid-flight.
type StreamChunk struct {
	Text string
	Err  error
}

// LlmClient calls an OpenAI-compatible /chat/completions endpoint.
type LlmClient struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	client      *httpclient.Client
	httpClient  *http.Client
}

// LlmOptions configures an LlmClient.
type LlmOptions struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// NewLlmClient builds a chat client. Streaming requests bypass the
// retry layer since a half-consumed stream cannot be replayed.
func NewLlmClient(opts LlmOptions) *LlmClient {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	hc := &http.Client{Timeout: opts.Timeout}
	return &LlmClient{
		baseURL:     trimSlash(opts.BaseURL),
		model:       opts.Model,
		apiKey:      opts.APIKey,
		temperature: opts.Temperature,
		client: httpclient.New(
			httpclient.WithHTTPClient(hc),
			httpclient.WithMaxRetries(opts.MaxRetries),
		),
		httpClient: hc,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Model returns the configured model name.
func (c *LlmClient) Model() string {
	return c.model
}

// ChatComplete runs one non-streaming completion.
func (c *LlmClient) ChatComplete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	tracer := observability.GetTracer("clients")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest)
	defer span.End()

	req, err := c.buildRequest(ctx, messages, maxTokens, false)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordModelCall("llm", time.Since(start), err)
	}
	if err != nil {
		return "", &ClientError{Service: "llm", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ClientError{Service: "llm", Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ClientError{Service: "llm", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ClientError{Service: "llm", Message: "invalid response body", Err: err}
	}
	if parsed.Error != nil {
		return "", &ClientError{Service: "llm", Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ClientError{Service: "llm", Message: "empty choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamChatComplete runs a streaming completion. The returned
// channel is closed when the stream ends; cancelling ctx aborts the
// upstream request.
func (c *LlmClient) StreamChatComplete(ctx context.Context, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	req, err := c.buildRequest(ctx, messages, maxTokens, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ClientError{Service: "llm", Message: "request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ClientError{Service: "llm", StatusCode: resp.StatusCode, Message: string(body)}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var chunk chatStreamResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				out <- StreamChunk{Err: &ClientError{Service: "llm", Message: "invalid stream chunk", Err: err}}
				return
			}
			if chunk.Error != nil {
				out <- StreamChunk{Err: &ClientError{Service: "llm", Message: chunk.Error.Message}}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				select {
				case out <- StreamChunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if choice.FinishReason != "" {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamChunk{Err: &ClientError{Service: "llm", Message: "read stream", Err: err}}
		}
	}()
	return out, nil
}

func (c *LlmClient) buildRequest(ctx context.Context, messages []Message, maxTokens int, stream bool) (*http.Request, error) {
	raw, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, &ClientError{Service: "llm", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, &ClientError{Service: "llm", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
