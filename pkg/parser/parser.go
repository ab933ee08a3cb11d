// Package parser extracts text and page images from user files. A
// ContentRouter picks the right parser per extension, with a
// dedicated PDF branch that switches between the text and vision
// parsers depending on the indexing mode.
package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// ParsedContent is the uniform output of every parser.
type ParsedContent struct {
	// Text is the extracted plain text, possibly empty.
	Text string

	// Attachments holds page images keyed "page_N" for the deep
	// round.
	Attachments map[string][]byte

	// PreviewImage is a representative image of the file, when one
	// exists.
	PreviewImage []byte

	PageCount int
	Metadata  map[string]any
}

// Parser extracts content from one family of file formats.
type Parser interface {
	// Extensions lists the lowercase extensions (no dot) handled.
	Extensions() []string

	Parse(ctx context.Context, path string) (*ParsedContent, error)
}

func selectParser(parsers []Parser, path string) Parser {
	ext := normalizeExt(path)
	for _, p := range parsers {
		for _, e := range p.Extensions() {
			if e == ext {
				return p
			}
		}
	}
	return nil
}

func normalizeExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

var kindByExtension = map[string]store.FileKind{
	"txt": store.KindText, "md": store.KindText, "markdown": store.KindText,
	"csv": store.KindText, "log": store.KindText, "json": store.KindText,
	"yaml": store.KindText, "yml": store.KindText,

	"pdf": store.KindDocument, "doc": store.KindDocument, "docx": store.KindDocument,
	"xls": store.KindDocument, "xlsx": store.KindDocument, "rtf": store.KindDocument,

	"ppt": store.KindPresentation, "pptx": store.KindPresentation, "key": store.KindPresentation,

	"png": store.KindImage, "jpg": store.KindImage, "jpeg": store.KindImage,
	"gif": store.KindImage, "bmp": store.KindImage, "webp": store.KindImage,
	"tiff": store.KindImage,

	"mp3": store.KindAudio, "wav": store.KindAudio, "m4a": store.KindAudio,
	"flac": store.KindAudio, "ogg": store.KindAudio,

	"mp4": store.KindVideo, "mov": store.KindVideo, "avi": store.KindVideo,
	"mkv": store.KindVideo, "webm": store.KindVideo,
}

// KindForPath classifies a file by its extension.
func KindForPath(path string) store.FileKind {
	if kind, ok := kindByExtension[normalizeExt(path)]; ok {
		return kind
	}
	return store.KindOther
}

// ContentRouter dispatches parsing to the first parser claiming the
// file's extension. PDFs get explicit treatment: the text parser in
// fast mode, the vision parser in deep mode or when pdf_mode is
// "vision", with a vision fallback when the text path comes back
// empty.
type ContentRouter struct {
	parsers   []Parser
	pdfText   *PdfParser
	pdfVision *PdfVisionParser
	fallback  Parser
}

// NewContentRouter assembles the default parser chain.
func NewContentRouter() *ContentRouter {
	return &ContentRouter{
		parsers: []Parser{
			NewTextParser(),
			NewMarkdownParser(),
			NewDocxParser(),
			NewXlsxParser(),
			NewImageParser(),
		},
		pdfText:   NewPdfParser(),
		pdfVision: NewPdfVisionParser(),
		fallback:  NewGeneralParser(),
	}
}

// Parse extracts content from path under the given indexing mode and
// settings snapshot.
func (r *ContentRouter) Parse(ctx context.Context, path string, mode config.IndexingMode, settings config.Settings) (*ParsedContent, error) {
	if normalizeExt(path) == "pdf" {
		return r.parsePDF(ctx, path, mode, settings)
	}

	p := selectParser(r.parsers, path)
	if p == nil {
		p = r.fallback
	}
	return p.Parse(ctx, path)
}

func (r *ContentRouter) parsePDF(ctx context.Context, path string, mode config.IndexingMode, settings config.Settings) (*ParsedContent, error) {
	if mode == config.IndexingModeDeep || settings.PdfModeSetting == config.PdfModeVision {
		return r.pdfVision.Parse(ctx, path)
	}

	content, err := r.pdfText.Parse(ctx, path)
	if err != nil {
		return nil, err
	}

	// Scanned PDFs yield no text; the vision parser at least
	// produces page images so the deep round can describe them.
	if strings.TrimSpace(content.Text) == "" && settings.PdfFastAllowVisionFallback {
		return r.pdfVision.Parse(ctx, path)
	}
	return content, nil
}
