package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// TextParser reads plain-text formats as-is.
type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

func (p *TextParser) Extensions() []string {
	return []string{"txt", "csv", "log", "json", "yaml", "yml"}
}

func (p *TextParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	return &ParsedContent{
		Text:     string(raw),
		Metadata: map[string]any{"source": "text"},
	}, nil
}

// MarkdownParser reads Markdown. Formatting is kept; the chunker and
// the models handle it fine.
type MarkdownParser struct{}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

func (p *MarkdownParser) Extensions() []string {
	return []string{"md", "markdown"}
}

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown file: %w", err)
	}
	return &ParsedContent{
		Text:     string(raw),
		Metadata: map[string]any{"source": "markdown"},
	}, nil
}

// GeneralParser is the last-resort parser for unknown extensions. It
// returns the file content when it looks like valid text and gives
// up quietly otherwise.
type GeneralParser struct{}

func NewGeneralParser() *GeneralParser {
	return &GeneralParser{}
}

func (p *GeneralParser) Extensions() []string {
	return nil
}

func (p *GeneralParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	text := string(raw)
	if !utf8.ValidString(text) || strings.ContainsRune(text, '\x00') {
		return &ParsedContent{Metadata: map[string]any{"source": "general", "binary": true}}, nil
	}
	return &ParsedContent{
		Text:     text,
		Metadata: map[string]any{"source": "general"},
	}, nil
}
