package executor

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ScrapedDocInfo is one filing discovered by scrape_page, indexed by its
// position in the scrape result (documents do not have a Store-assigned
// id until upload_to_cloud creates their row).
type ScrapedDocInfo struct {
	DocumentType string `json:"document_type"`
	FiscalYear   string `json:"fiscal_year"`
	Label        string `json:"label"`
	PDFURL       string `json:"pdf_url"`
}

// ExtractionSummary is extract_data's per-document output, carried forward
// into create_embeddings and generate_snapshot.
type ExtractionSummary struct {
	ExtractionResultID uuid.UUID `json:"extraction_result_id"`
	CompanyName        string    `json:"company_name"`
	FiscalYear         string    `json:"fiscal_year"`
	Revenue            *float64  `json:"revenue,omitempty"`
	NetProfit          *float64  `json:"net_profit,omitempty"`
}

// ResumePayload is the opaque, structured value a job's resume_data column
// holds — typed here, but treated as opaque bytes by the Store (§4.1).
// Every map is keyed by a document's position in ScrapeResults: documents
// have no Store-assigned id until upload_to_cloud inserts their row, so an
// index is the only stable handle earlier steps can use.
type ResumePayload struct {
	// ScrapeResults is produced by scrape_page, consumed by download_pdfs
	// and upload_to_cloud.
	ScrapeResults []ScrapedDocInfo `json:"scrape_results,omitempty"`

	// PDFBuffers holds each document's raw PDF bytes, produced by
	// download_pdfs and consumed by upload_to_cloud and extract_text.
	PDFBuffers map[int][]byte `json:"pdf_buffers,omitempty"`

	// DocumentIDs maps a scrape index to its Store-assigned Document id,
	// produced by upload_to_cloud and consumed by every later step.
	DocumentIDs map[int]uuid.UUID `json:"document_ids,omitempty"`

	// BlobURLs records each uploaded document's blob URL, produced by
	// upload_to_cloud; no later step reads it (upload_to_cloud skips
	// finished documents by DocumentIDs, and extract_text reads bytes from
	// PDFBuffers).
	BlobURLs map[int]string `json:"blob_urls,omitempty"`

	// PageTexts is produced by extract_text, consumed by extract_data.
	PageTexts map[int][]string `json:"page_texts,omitempty"`

	// ExtractionResults is produced by extract_data, consumed by
	// create_embeddings and generate_snapshot.
	ExtractionResults map[int]ExtractionSummary `json:"extraction_results,omitempty"`

	// EmbeddedDocs marks documents whose chunks+embeddings have already
	// been committed, so create_embeddings can skip them on resume.
	EmbeddedDocs map[int]bool `json:"embedded_docs,omitempty"`
}

// DecodeResumePayload parses a Job's resume_data column. An empty/nil
// input decodes to a zero-value payload, matching a job's first run.
func DecodeResumePayload(raw []byte) (ResumePayload, error) {
	var p ResumePayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ResumePayload{}, fmt.Errorf("decode resume payload: %w", err)
	}
	return p, nil
}

// Encode marshals the payload back to the opaque bytes the Store persists.
func (p ResumePayload) Encode() ([]byte, error) {
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode resume payload: %w", err)
	}
	return out, nil
}
