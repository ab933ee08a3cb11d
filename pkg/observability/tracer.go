package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names for the hot paths.
const (
	SpanEmbedRequest  = "embed.request"
	SpanRerankRequest = "rerank.request"
	SpanLLMRequest    = "llm.request"
	SpanVLMRequest    = "vlm.request"
	SpanFastProcess   = "indexer.fast"
	SpanDeepProcess   = "indexer.deep"
)

// Attribute keys used on spans.
const (
	AttrModelService = "model.service"
	AttrFileID       = "file.id"
	AttrChunkCount   = "chunk.count"
)

// GetTracer returns a tracer from the globally configured provider.
// Without an installed SDK this is a no-op tracer, so call sites never
// need to guard against a missing exporter.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
