package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
)

// VisionClient calls a vision-language model over the OpenAI chat
// API, sending images as data-URI content parts.
type VisionClient struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
}

// NewVisionClient builds a VLM client. Page description can be slow,
// so the default timeout is generous.
func NewVisionClient(baseURL, model, apiKey string, timeout time.Duration) *VisionClient {
	if timeout == 0 {
		timeout = 180 * time.Second
	}
	return &VisionClient{
		baseURL:     trimSlash(baseURL),
		model:       model,
		apiKey:      apiKey,
		temperature: 0.2,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type visionContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *visionImagePart `json:"image_url,omitempty"`
}

type visionImagePart struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

// DescribeImage sends one image with a prompt and returns the
// model's textual description.
func (c *VisionClient) DescribeImage(ctx context.Context, image []byte, mimeType, prompt string, maxTokens int) (string, error) {
	tracer := observability.GetTracer("clients")
	ctx, span := tracer.Start(ctx, observability.SpanVLMRequest)
	defer span.End()

	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	payload := visionRequest{
		Model: c.model,
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &visionImagePart{URL: dataURI}},
			},
		}},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &ClientError{Service: "vision", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", &ClientError{Service: "vision", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordModelCall("vision", time.Since(start), err)
	}
	if err != nil {
		return "", &ClientError{Service: "vision", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ClientError{Service: "vision", Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ClientError{Service: "vision", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ClientError{Service: "vision", Message: "invalid response body", Err: err}
	}
	if parsed.Error != nil {
		return "", &ClientError{Service: "vision", Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ClientError{Service: "vision", Message: "empty choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}
