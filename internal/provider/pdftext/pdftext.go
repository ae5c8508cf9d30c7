// Package pdftext implements provider.PDFTextExtractor over
// github.com/ledongthuc/pdf, a pure-Go PDF reader.
package pdftext

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

// Extractor pulls page-indexed plain text out of a PDF's raw bytes.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor { return &Extractor{} }

var _ provider.PDFTextExtractor = (*Extractor)(nil)

// ExtractPages returns one string per page, in order. ctx is checked
// between pages, so cancelling ctx aborts a large document partway through.
func (e *Extractor) ExtractPages(ctx context.Context, pdfBytes []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
