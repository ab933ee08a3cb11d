package store

import (
	"time"
)

// FileKind classifies a file for parser and deep-round routing.
type FileKind string

const (
	KindText         FileKind = "text"
	KindDocument     FileKind = "document"
	KindImage        FileKind = "image"
	KindAudio        FileKind = "audio"
	KindVideo        FileKind = "video"
	KindPresentation FileKind = "presentation"
	KindOther        FileKind = "other"
)

// Stage values for the per-file fast/deep counters.
// Deep additionally uses StageSkipped for files the deep round
// never applies to.
const (
	StagePending  = 0
	StageText     = 1
	StageEmbedded = 2
	StageFailed   = -1
	StageSkipped  = -2
)

// Chunk versions produced by the two indexing rounds.
const (
	VersionFast = "fast"
	VersionDeep = "deep"
)

// Privacy levels propagated into vector metadata.
const (
	PrivacyPublic  = "public"
	PrivacyPrivate = "private"
)

// FileRecord is one tracked file and its indexing state.
type FileRecord struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	Name         string         `json:"name"`
	Extension    string         `json:"extension"`
	Kind         FileKind       `json:"kind"`
	Size         int64          `json:"size"`
	ModifiedAt   time.Time      `json:"modified_at"`
	FolderID     string         `json:"folder_id,omitempty"`
	PrivacyLevel string         `json:"privacy_level"`
	PageCount    int            `json:"page_count,omitempty"`
	PreviewImage []byte         `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	FastStage int `json:"fast_stage"`
	DeepStage int `json:"deep_stage"`

	FastTextAt  *time.Time `json:"fast_text_at,omitempty"`
	FastEmbedAt *time.Time `json:"fast_embed_at,omitempty"`
	DeepTextAt  *time.Time `json:"deep_text_at,omitempty"`
	DeepEmbedAt *time.Time `json:"deep_embed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ChunkSnapshot is one retrievable passage of a file under a given
// version. Within one (file_id, version) pair ordinals form a dense
// zero-based range.
type ChunkSnapshot struct {
	ID          string         `json:"id"`
	FileID      string         `json:"file_id"`
	Ordinal     int            `json:"ordinal"`
	Text        string         `json:"text"`
	Snippet     string         `json:"snippet"`
	TokenCount  int            `json:"token_count"`
	CharCount   int            `json:"char_count"`
	SectionPath string         `json:"section_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Version     string         `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FolderRecord is a watched folder grouping files.
type FolderRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StageUpdate is a partial update of a file's stage fields. Nil
// fields are left untouched.
type StageUpdate struct {
	FastStage   *int
	DeepStage   *int
	FastTextAt  *time.Time
	FastEmbedAt *time.Time
	DeepTextAt  *time.Time
	DeepEmbedAt *time.Time
}

// KeywordHit is one BM25 match from the chunk FTS index.
type KeywordHit struct {
	ChunkID string  `json:"chunk_id"`
	FileID  string  `json:"file_id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	Version string  `json:"version"`
}
