package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse index order to exercise the client-side sort.
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			data[len(req.Input)-1-i] = item{Embedding: vec, Index: i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbeddingEncode(t *testing.T) {
	srv := embeddingServer(t, 4)
	client := NewEmbeddingClient(srv.URL, "test-model", "", 4)

	vectors, err := client.Encode(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(1), vectors[1][0])
	assert.Equal(t, float32(2), vectors[2][0])
}

func TestEmbeddingDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, 4)
	client := NewEmbeddingClient(srv.URL, "test-model", "", 8)

	_, err := client.Encode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbeddingEmptyInput(t *testing.T) {
	client := NewEmbeddingClient("http://unused", "", "", 4)
	vectors, err := client.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestRerankAlignsScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		// TEI returns results sorted by score, not input order.
		json.NewEncoder(w).Encode([]map[string]any{
			{"index": 1, "score": 0.9},
			{"index": 0, "score": 0.2},
		})
	}))
	defer srv.Close()

	client := NewRerankClient(srv.URL, "")
	scores, err := client.Rerank(context.Background(), "q", []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.9}, scores)
}

func TestRerankRejectsBadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"index": 5, "score": 0.9}})
	}))
	defer srv.Close()

	client := NewRerankClient(srv.URL, "")
	_, err := client.Rerank(context.Background(), "q", []string{"only"})
	require.Error(t, err)
	assert.True(t, IsClientError(err))
}

func TestChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "forty-two"}},
			},
		})
	}))
	defer srv.Close()

	client := NewLlmClient(LlmOptions{BaseURL: srv.URL, Model: "m"})
	out, err := client.ChatComplete(context.Background(), []Message{{Role: "user", Content: "?"}}, 64)
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
}

func TestStreamChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewLlmClient(LlmOptions{BaseURL: srv.URL, Model: "m"})
	stream, err := client.StreamChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 64)
	require.NoError(t, err)

	var got string
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		got += chunk.Text
	}
	assert.Equal(t, "Hello!", got)
}

func TestStreamChatCompleteCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewLlmClient(LlmOptions{BaseURL: srv.URL, Model: "m"})
	stream, err := client.StreamChatComplete(ctx, []Message{{Role: "user", Content: "hi"}}, 64)
	require.NoError(t, err)

	<-stream
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestVisionDescribeImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		messages := req["messages"].([]any)
		require.NotEmpty(t, messages)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "a red square"}},
			},
		})
	}))
	defer srv.Close()

	client := NewVisionClient(srv.URL, "vlm", "", 10*time.Second)
	out, err := client.DescribeImage(context.Background(), []byte{1, 2, 3}, "image/png", "describe", 256)
	require.NoError(t, err)
	assert.Equal(t, "a red square", out)
}

func TestHealthCacheStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok/health":
			w.WriteHeader(http.StatusOK)
		case "/nofallback/health":
			w.WriteHeader(http.StatusNotFound)
		case "/nofallback":
			w.WriteHeader(http.StatusOK)
		case "/down/health":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cache := NewHealthCache()
	ctx := context.Background()

	status := cache.Check(ctx, "svc", srv.URL+"/ok")
	assert.Equal(t, StatusOnline, status.Status)
	assert.GreaterOrEqual(t, status.LatencyMs, float64(0))

	// 404 on /health falls back to the base URL.
	status = cache.Check(ctx, "svc2", srv.URL+"/nofallback")
	assert.Equal(t, StatusOnline, status.Status)

	status = cache.Check(ctx, "svc3", srv.URL+"/down")
	assert.Equal(t, StatusOffline, status.Status)

	status = cache.Check(ctx, "svc4", "")
	assert.Equal(t, StatusUnknown, status.Status)
	assert.Equal(t, "URL not configured", status.Details)
}

func TestHealthCacheCachesResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := NewHealthCache()
	cache.Check(context.Background(), "svc", srv.URL)
	cache.Check(context.Background(), "svc", srv.URL)
	assert.Equal(t, 1, calls)
}
