package parser

import (
	"context"
	"fmt"
	"os"
)

// ImageParser produces no text in the fast round. The raw bytes
// become the preview image so the deep round can describe the file
// with the vision model.
type ImageParser struct{}

func NewImageParser() *ImageParser {
	return &ImageParser{}
}

func (p *ImageParser) Extensions() []string {
	return []string{"png", "jpg", "jpeg", "gif", "bmp", "webp", "tiff"}
}

func (p *ImageParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &ParsedContent{
		PreviewImage: raw,
		Metadata:     map[string]any{"source": "image"},
	}, nil
}
