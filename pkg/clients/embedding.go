package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/httpclient"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
)

// EmbeddingClient calls an OpenAI-compatible /embeddings endpoint.
// Dimension, when non-zero, is enforced on every response.
type EmbeddingClient struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *httpclient.Client
}

// NewEmbeddingClient builds a client for the given endpoint.
func NewEmbeddingClient(baseURL, model, apiKey string, dimension int) *EmbeddingClient {
	return &EmbeddingClient{
		baseURL:   trimSlash(baseURL),
		model:     model,
		apiKey:    apiKey,
		dimension: dimension,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Encode embeds texts and returns one vector per input, same order.
func (c *EmbeddingClient) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	tracer := observability.GetTracer("clients")
	ctx, span := tracer.Start(ctx, observability.SpanEmbedRequest)
	defer span.End()

	start := time.Now()
	body, err := c.post(ctx, "/embeddings", embeddingRequest{Input: texts, Model: c.model})
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordModelCall("embedding", time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ClientError{Service: "embedding", Message: "invalid response body", Err: err}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &ClientError{
			Service: "embedding",
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)),
		}
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, &ClientError{
				Service: "embedding",
				Message: fmt.Sprintf("dimension mismatch: expected %d, got %d", c.dimension, len(d.Embedding)),
			}
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimensionality.
func (c *EmbeddingClient) Dimension() int {
	return c.dimension
}

func (c *EmbeddingClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Service: "embedding", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, &ClientError{Service: "embedding", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ClientError{Service: "embedding", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClientError{Service: "embedding", Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Service:    "embedding",
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}
	return body, nil
}

func trimSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
