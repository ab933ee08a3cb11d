// Package vector abstracts dense vector storage behind a narrow
// interface with server-side metadata filtering. Two backends are
// provided: embedded chromem-go (zero-config default) and Qdrant.
package vector

import (
	"context"
)

// Metadata keys mirrored from chunk and file records so that
// filtering happens inside the store.
const (
	MetaChunkID      = "chunk_id"
	MetaFileID       = "file_id"
	MetaPath         = "path"
	MetaKind         = "kind"
	MetaExtension    = "extension"
	MetaSnippet      = "snippet"
	MetaVersion      = "version"
	MetaPrivacyLevel = "privacy_level"
	MetaPageNumber   = "page_number"
	MetaSectionPath  = "section_path"
)

// Document is one embedded chunk. ID equals the chunk id.
type Document struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Hit is one similarity match. Higher score means closer.
type Hit struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Filter restricts a search. Zero-value fields are ignored. A
// non-nil empty FileIDs slice means "match nothing"; callers encode
// an exhausted allowlist that way.
type Filter struct {
	FileIDs      []string
	Version      string
	PrivacyLevel string
}

// Store is the dense vector index. Upsert is durable once Flush
// returns; searches observe the most recently flushed upsert from
// the same process.
type Store interface {
	Upsert(ctx context.Context, docs []Document) error
	Flush(ctx context.Context) error
	Search(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
