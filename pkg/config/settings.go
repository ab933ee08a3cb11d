package config

import (
	"fmt"
	"sync/atomic"
)

// Settings are the runtime-tunable knobs. A Settings value is treated
// as immutable once published; mutate a copy and swap it through Store.
type Settings struct {
	// VisionMaxPixels caps image size before VLM description.
	VisionMaxPixels int `yaml:"vision_max_pixels" json:"vision_max_pixels"`

	// VideoMaxPixels caps frame size for video previews.
	VideoMaxPixels int `yaml:"video_max_pixels" json:"video_max_pixels"`

	// EmbedBatchSize is the number of chunk texts per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`

	// EmbedBatchDelayMs is the pause between embedding batches.
	EmbedBatchDelayMs int `yaml:"embed_batch_delay_ms" json:"embed_batch_delay_ms"`

	// EmbedMaxChars truncates chunk text before embedding.
	EmbedMaxChars int `yaml:"embed_max_chars" json:"embed_max_chars"`

	// VisionBatchDelayMs is the pause between per-page VLM calls.
	VisionBatchDelayMs int `yaml:"vision_batch_delay_ms" json:"vision_batch_delay_ms"`

	SearchResultLimit int `yaml:"search_result_limit" json:"search_result_limit"`
	QaContextLimit    int `yaml:"qa_context_limit" json:"qa_context_limit"`

	// MaxSnippetLength truncates chunk snippets.
	MaxSnippetLength int `yaml:"max_snippet_length" json:"max_snippet_length"`

	// SummaryMaxTokens caps answer synthesis.
	SummaryMaxTokens int `yaml:"summary_max_tokens" json:"summary_max_tokens"`

	// PdfOneChunkPerPage makes the fast round emit one chunk per page.
	PdfOneChunkPerPage bool `yaml:"pdf_one_chunk_per_page" json:"pdf_one_chunk_per_page"`

	RagChunkSize    int `yaml:"rag_chunk_size" json:"rag_chunk_size"`
	RagChunkOverlap int `yaml:"rag_chunk_overlap" json:"rag_chunk_overlap"`

	DefaultIndexingMode IndexingMode `yaml:"default_indexing_mode" json:"default_indexing_mode"`

	// PdfModeSetting selects text vs vision PDF parsing in fast mode.
	PdfModeSetting PdfMode `yaml:"pdf_mode" json:"pdf_mode"`

	// PdfFastAllowVisionFallback re-parses a PDF with the vision parser
	// when the fast text path yields empty output.
	PdfFastAllowVisionFallback bool `yaml:"pdf_fast_allow_vision_fallback" json:"pdf_fast_allow_vision_fallback"`
}

// SetDefaults applies default values.
func (s *Settings) SetDefaults() {
	if s.VisionMaxPixels <= 0 {
		s.VisionMaxPixels = 1280 * 1280
	}
	if s.VideoMaxPixels <= 0 {
		s.VideoMaxPixels = 720 * 720
	}
	if s.EmbedBatchSize <= 0 {
		s.EmbedBatchSize = 16
	}
	if s.EmbedBatchDelayMs < 0 {
		s.EmbedBatchDelayMs = 0
	}
	if s.EmbedMaxChars <= 0 {
		s.EmbedMaxChars = 4000
	}
	if s.VisionBatchDelayMs < 0 {
		s.VisionBatchDelayMs = 0
	}
	if s.SearchResultLimit <= 0 {
		s.SearchResultLimit = 10
	}
	if s.QaContextLimit <= 0 {
		s.QaContextLimit = 6
	}
	if s.MaxSnippetLength <= 0 {
		s.MaxSnippetLength = 400
	}
	if s.SummaryMaxTokens <= 0 {
		s.SummaryMaxTokens = 1024
	}
	if s.RagChunkSize <= 0 {
		s.RagChunkSize = 400
	}
	if s.RagChunkOverlap < 0 {
		s.RagChunkOverlap = 0
	}
	if s.RagChunkOverlap == 0 && s.RagChunkSize >= 100 {
		s.RagChunkOverlap = 40
	}
	if s.DefaultIndexingMode == "" {
		s.DefaultIndexingMode = IndexingModeFast
	}
	if s.PdfModeSetting == "" {
		s.PdfModeSetting = PdfModeText
	}
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.EmbedBatchSize < 1 {
		return fmt.Errorf("embed_batch_size must be >= 1, got %d", s.EmbedBatchSize)
	}
	if s.RagChunkOverlap >= s.RagChunkSize {
		return fmt.Errorf("rag_chunk_overlap (%d) must be less than rag_chunk_size (%d)",
			s.RagChunkOverlap, s.RagChunkSize)
	}
	switch s.DefaultIndexingMode {
	case IndexingModeFast, IndexingModeDeep:
	default:
		return fmt.Errorf("invalid default_indexing_mode: %q", s.DefaultIndexingMode)
	}
	switch s.PdfModeSetting {
	case PdfModeText, PdfModeVision:
	default:
		return fmt.Errorf("invalid pdf_mode: %q", s.PdfModeSetting)
	}
	return nil
}

// Update is a partial settings patch. Nil fields are left unchanged.
type Update struct {
	VisionMaxPixels            *int          `json:"vision_max_pixels,omitempty"`
	VideoMaxPixels             *int          `json:"video_max_pixels,omitempty"`
	EmbedBatchSize             *int          `json:"embed_batch_size,omitempty"`
	EmbedBatchDelayMs          *int          `json:"embed_batch_delay_ms,omitempty"`
	EmbedMaxChars              *int          `json:"embed_max_chars,omitempty"`
	VisionBatchDelayMs         *int          `json:"vision_batch_delay_ms,omitempty"`
	SearchResultLimit          *int          `json:"search_result_limit,omitempty"`
	QaContextLimit             *int          `json:"qa_context_limit,omitempty"`
	MaxSnippetLength           *int          `json:"max_snippet_length,omitempty"`
	SummaryMaxTokens           *int          `json:"summary_max_tokens,omitempty"`
	PdfOneChunkPerPage         *bool         `json:"pdf_one_chunk_per_page,omitempty"`
	RagChunkSize               *int          `json:"rag_chunk_size,omitempty"`
	RagChunkOverlap            *int          `json:"rag_chunk_overlap,omitempty"`
	DefaultIndexingMode        *IndexingMode `json:"default_indexing_mode,omitempty"`
	PdfModeSetting             *PdfMode      `json:"pdf_mode,omitempty"`
	PdfFastAllowVisionFallback *bool         `json:"pdf_fast_allow_vision_fallback,omitempty"`
}

// Apply merges the patch into a copy of s and returns it.
func (u *Update) Apply(s Settings) Settings {
	if u.VisionMaxPixels != nil {
		s.VisionMaxPixels = *u.VisionMaxPixels
	}
	if u.VideoMaxPixels != nil {
		s.VideoMaxPixels = *u.VideoMaxPixels
	}
	if u.EmbedBatchSize != nil {
		s.EmbedBatchSize = *u.EmbedBatchSize
	}
	if u.EmbedBatchDelayMs != nil {
		s.EmbedBatchDelayMs = *u.EmbedBatchDelayMs
	}
	if u.EmbedMaxChars != nil {
		s.EmbedMaxChars = *u.EmbedMaxChars
	}
	if u.VisionBatchDelayMs != nil {
		s.VisionBatchDelayMs = *u.VisionBatchDelayMs
	}
	if u.SearchResultLimit != nil {
		s.SearchResultLimit = *u.SearchResultLimit
	}
	if u.QaContextLimit != nil {
		s.QaContextLimit = *u.QaContextLimit
	}
	if u.MaxSnippetLength != nil {
		s.MaxSnippetLength = *u.MaxSnippetLength
	}
	if u.SummaryMaxTokens != nil {
		s.SummaryMaxTokens = *u.SummaryMaxTokens
	}
	if u.PdfOneChunkPerPage != nil {
		s.PdfOneChunkPerPage = *u.PdfOneChunkPerPage
	}
	if u.RagChunkSize != nil {
		s.RagChunkSize = *u.RagChunkSize
	}
	if u.RagChunkOverlap != nil {
		s.RagChunkOverlap = *u.RagChunkOverlap
	}
	if u.DefaultIndexingMode != nil {
		s.DefaultIndexingMode = *u.DefaultIndexingMode
	}
	if u.PdfModeSetting != nil {
		s.PdfModeSetting = *u.PdfModeSetting
	}
	if u.PdfFastAllowVisionFallback != nil {
		s.PdfFastAllowVisionFallback = *u.PdfFastAllowVisionFallback
	}
	return s
}

// Store publishes an immutable Settings snapshot. Readers take a
// snapshot at the start of each request; PATCH swaps in a new one.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore seeds the store with an initial snapshot.
func NewStore(initial Settings) *Store {
	st := &Store{}
	st.current.Store(&initial)
	return st
}

// Snapshot returns the current settings by value.
func (st *Store) Snapshot() Settings {
	return *st.current.Load()
}

// Swap validates and publishes a new snapshot.
func (st *Store) Swap(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	st.current.Store(&next)
	return nil
}
