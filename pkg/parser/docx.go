package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// DocxParser pulls paragraph text out of .docx archives.
type DocxParser struct{}

func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

func (p *DocxParser) Extensions() []string {
	return []string{"docx"}
}

var (
	paragraphBreak = regexp.MustCompile(`</w:p>`)
	xmlTag         = regexp.MustCompile(`<[^>]+>`)
)

func (p *DocxParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	raw := r.Editable().GetContent()

	// Strip WordprocessingML down to paragraph-separated text.
	raw = paragraphBreak.ReplaceAllString(raw, "\n")
	text := xmlTag.ReplaceAllString(raw, "")
	text = strings.TrimSpace(unescapeXML(text))

	return &ParsedContent{
		Text:     text,
		Metadata: map[string]any{"source": "docx"},
	}, nil
}

func unescapeXML(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
	return replacer.Replace(s)
}
