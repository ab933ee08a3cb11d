package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XlsxParser flattens spreadsheet rows into tab-separated lines, one
// section per sheet.
type XlsxParser struct{}

func NewXlsxParser() *XlsxParser {
	return &XlsxParser{}
}

func (p *XlsxParser) Extensions() []string {
	return []string{"xlsx", "xlsm"}
}

func (p *XlsxParser) Parse(ctx context.Context, path string) (*ParsedContent, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			sections = append(sections, fmt.Sprintf("## %s\n%s", sheet, strings.Join(lines, "\n")))
		}
	}

	return &ParsedContent{
		Text:     strings.Join(sections, "\n\n"),
		Metadata: map[string]any{"source": "xlsx", "sheets": len(f.GetSheetList())},
	}, nil
}
