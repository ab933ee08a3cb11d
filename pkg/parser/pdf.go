package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PdfParser extracts embedded text from a PDF page by page. Pages
// are joined with "--PAGE_N--" headers so downstream consumers can
// recover page boundaries.
type PdfParser struct{}

func NewPdfParser() *PdfParser {
	return &PdfParser{}
}

func (p *PdfParser) Extensions() []string {
	return []string{"pdf"}
}

func (p *PdfParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pageCount := reader.NumPage()
	blocks := make([]string, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--PAGE_%d--\n%s", n, text))
	}

	return &ParsedContent{
		Text:      strings.Join(blocks, "\n\n"),
		PageCount: pageCount,
		Metadata: map[string]any{
			"source": "pdf_text",
			"pages":  pageCount,
		},
	}, nil
}
