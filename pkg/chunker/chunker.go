// Package chunker splits extracted text into overlapping
// token-bounded passages, the unit of retrieval.
package chunker

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Piece is one chunk of text with its token count.
type Piece struct {
	Text       string
	TokenCount int
}

// Options controls one split.
type Options struct {
	// ChunkSize is the window size in tokens.
	ChunkSize int

	// Overlap is the number of tokens shared by adjacent chunks.
	Overlap int
}

// Chunker tokenizes with cl100k_base and cuts fixed token windows.
type Chunker struct {
	encoding *tiktoken.Tiktoken
}

var (
	sharedEncoding *tiktoken.Tiktoken
	encodingOnce   sync.Once
	encodingErr    error
)

// New returns a chunker backed by the shared cl100k_base encoding.
func New() (*Chunker, error) {
	encodingOnce.Do(func() {
		sharedEncoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return nil, fmt.Errorf("load tokenizer: %w", encodingErr)
	}
	return &Chunker{encoding: sharedEncoding}, nil
}

// Split cuts text into overlapping windows of opts.ChunkSize tokens.
// The last window may be shorter; empty input yields no pieces.
func (c *Chunker) Split(text string, opts Options) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 400
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = 0
	}

	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= opts.ChunkSize {
		return []Piece{{Text: text, TokenCount: len(tokens)}}
	}

	step := opts.ChunkSize - opts.Overlap
	pieces := make([]Piece, 0, (len(tokens)+step-1)/step)
	for start := 0; start < len(tokens); start += step {
		end := start + opts.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunkText := strings.TrimSpace(c.encoding.Decode(window))
		if chunkText != "" {
			pieces = append(pieces, Piece{Text: chunkText, TokenCount: len(window)})
		}
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// CountTokens returns the token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// Snippet truncates text to at most max characters on a rune
// boundary, appending an ellipsis when cut.
func Snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-1]) + "…"
}
