package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/synvo-ai/Local-Cocoa/pkg/httpclient"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
)

// RerankClient calls a TEI-style /rerank endpoint and returns one
// relevance score per passage in input order.
type RerankClient struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

// NewRerankClient builds a client for the given endpoint.
func NewRerankClient(baseURL, apiKey string) *RerankClient {
	return &RerankClient{
		baseURL: trimSlash(baseURL),
		apiKey:  apiKey,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores each passage against the query. The result slice is
// aligned with the input passages.
func (c *RerankClient) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	tracer := observability.GetTracer("clients")
	ctx, span := tracer.Start(ctx, observability.SpanRerankRequest)
	defer span.End()

	raw, err := json.Marshal(rerankRequest{Query: query, Texts: passages})
	if err != nil {
		return nil, &ClientError{Service: "rerank", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(raw))
	if err != nil {
		return nil, &ClientError{Service: "rerank", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordModelCall("rerank", time.Since(start), err)
	}
	if err != nil {
		return nil, &ClientError{Service: "rerank", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClientError{Service: "rerank", Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{Service: "rerank", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var results []rerankResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &ClientError{Service: "rerank", Message: "invalid response body", Err: err}
	}

	scores := make([]float64, len(passages))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, &ClientError{
				Service: "rerank",
				Message: fmt.Sprintf("result index %d out of range for %d passages", r.Index, len(passages)),
			}
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
