// Package config holds the process-wide configuration for Local Cocoa.
//
// The configuration is split into two halves:
//
//   - Config: immutable bootstrap settings (paths, endpoints, vector
//     backend, server address) read once at startup.
//   - Settings: runtime-tunable knobs exposed through the /settings
//     endpoint. Settings are published as an immutable snapshot behind
//     an atomic pointer; PATCH builds a new snapshot and swaps it.
package config

import (
	"fmt"
	"path/filepath"
)

// IndexingMode selects which round a parse serves.
type IndexingMode string

const (
	IndexingModeFast IndexingMode = "fast"
	IndexingModeDeep IndexingMode = "deep"
)

// PdfMode selects the PDF parser for the fast round.
type PdfMode string

const (
	PdfModeText   PdfMode = "text"
	PdfModeVision PdfMode = "vision"
)

// EndpointsConfig lists the upstream model services.
type EndpointsConfig struct {
	// Embedding is the base URL of the embedding service (OpenAI-style
	// /embeddings). Required for indexing and vector search.
	Embedding string `yaml:"embedding,omitempty"`

	// Rerank is the base URL of the reranker service (TEI-style /rerank).
	Rerank string `yaml:"rerank,omitempty"`

	// LLM is the base URL of the chat completion service.
	LLM string `yaml:"llm,omitempty"`

	// Vision is the base URL of the VLM service. Defaults to LLM when
	// empty; the deep round is skipped entirely when both are empty.
	Vision string `yaml:"vision,omitempty"`

	// Transcription is the base URL of the audio transcription service.
	// Probed by /health only when configured.
	Transcription string `yaml:"transcription,omitempty"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Type is "chromem" (embedded, default) or "qdrant".
	Type string `yaml:"type,omitempty"`

	// Path is the on-disk directory for the chromem backend.
	Path string `yaml:"path,omitempty"`

	// Host/Port/APIKey configure the qdrant backend.
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	EnableTLS bool   `yaml:"enable_tls,omitempty"`

	// Collection is the vector collection name.
	Collection string `yaml:"collection,omitempty"`

	// Dimension is the embedding dimensionality. Must match the
	// embedding service output.
	Dimension int `yaml:"dimension,omitempty"`
}

// IndexerConfig bounds the scheduler.
type IndexerConfig struct {
	// Workers is the number of concurrent file-processing slots.
	Workers int `yaml:"workers,omitempty"`

	// MaxAttempts is the per-file consecutive failure cap before the
	// file is parked at stage -1.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// WatchRoots are directories scanned and watched for files.
	WatchRoots []string `yaml:"watch_roots,omitempty"`

	// PollInterval is the scheduler idle sleep in milliseconds.
	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
}

// ModelConfig tunes the LLM/VLM client.
type ModelConfig struct {
	Model       string  `yaml:"model,omitempty"`
	VisionModel string  `yaml:"vision_model,omitempty"`
	EmbedModel  string  `yaml:"embed_model,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	TimeoutSecs int     `yaml:"timeout,omitempty"`
	MaxRetries  int     `yaml:"max_retries,omitempty"`
}

// Config is the bootstrap configuration.
type Config struct {
	// DataDir roots the SQLite file and the chromem directory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Listen is the HTTP bind address.
	Listen string `yaml:"listen,omitempty"`

	// LogLevel is debug|info|warn|error.
	LogLevel string `yaml:"log_level,omitempty"`

	Endpoints EndpointsConfig `yaml:"endpoints,omitempty"`
	Vector    VectorConfig    `yaml:"vector,omitempty"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Model     ModelConfig     `yaml:"model,omitempty"`

	// Settings is the initial runtime-tunable snapshot.
	Settings Settings `yaml:"settings,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".cocoa"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8787"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Vector.Type == "" {
		c.Vector.Type = "chromem"
	}
	if c.Vector.Path == "" {
		c.Vector.Path = filepath.Join(c.DataDir, "vectors")
	}
	if c.Vector.Host == "" {
		c.Vector.Host = "localhost"
	}
	if c.Vector.Port == 0 {
		c.Vector.Port = 6334
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "cocoa_chunks"
	}
	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = 768
	}
	if c.Indexer.Workers <= 0 {
		c.Indexer.Workers = 2
	}
	if c.Indexer.MaxAttempts <= 0 {
		c.Indexer.MaxAttempts = 3
	}
	if c.Indexer.PollIntervalMs <= 0 {
		c.Indexer.PollIntervalMs = 1000
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.3
	}
	if c.Model.TimeoutSecs <= 0 {
		c.Model.TimeoutSecs = 120
	}
	if c.Model.MaxRetries <= 0 {
		c.Model.MaxRetries = 3
	}
	if c.Endpoints.Vision == "" {
		c.Endpoints.Vision = c.Endpoints.LLM
	}
	c.Settings.SetDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Vector.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector backend: %q", c.Vector.Type)
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", c.Vector.Dimension)
	}
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("indexer workers must be positive, got %d", c.Indexer.Workers)
	}
	return c.Settings.Validate()
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cocoa.db")
}
