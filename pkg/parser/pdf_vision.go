package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/ledongthuc/pdf"
)

// PdfVisionParser renders each PDF page to a PNG so the deep round
// can describe them with the vision model. Rendering shells out to
// pdftoppm into a scoped temp directory that is removed before
// returning, with the image bytes carried in Attachments.
type PdfVisionParser struct {
	renderDPI int
}

func NewPdfVisionParser() *PdfVisionParser {
	return &PdfVisionParser{renderDPI: 150}
}

func (p *PdfVisionParser) Extensions() []string {
	return []string{"pdf"}
}

var pageFilePattern = regexp.MustCompile(`-(\d+)\.png$`)

func (p *PdfVisionParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	pageCount, err := countPages(path)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "pdf_pages_")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", strconv.Itoa(p.renderDPI), path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("render pdf pages: %w: %s", err, out)
	}

	rendered, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	sort.Slice(rendered, func(i, j int) bool {
		return pageNumberOf(rendered[i]) < pageNumberOf(rendered[j])
	})

	attachments := make(map[string][]byte, len(rendered))
	var preview []byte
	for _, file := range rendered {
		n := pageNumberOf(file)
		if n == 0 {
			continue
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read rendered page %d: %w", n, err)
		}
		attachments[fmt.Sprintf("page_%d", n)] = raw
		if preview == nil {
			preview = raw
		}
	}

	return &ParsedContent{
		Attachments:  attachments,
		PreviewImage: preview,
		PageCount:    pageCount,
		Metadata: map[string]any{
			"source":          "pdf_vision",
			"pages":           pageCount,
			"processing_mode": "vision",
		},
	}, nil
}

func pageNumberOf(file string) int {
	m := pageFilePattern.FindStringSubmatch(file)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func countPages(path string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}
