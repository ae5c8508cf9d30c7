// Package provider declares the interfaces the executor and retrieval
// pipeline use to reach external collaborators: the embedding/chat/
// extraction model, the page scraper, the PDF downloader, the blob store
// and the PDF text extractor. Concrete implementations live in
// sub-packages (openai, scrape, blobstore, pdftext); callers depend only on
// these interfaces, following the teacher's provider.Provider split
// between the interface and provider/openai's concrete client.
package provider

import "context"

// ChatMessage is one turn in a chat-completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// Embedder produces fixed-dimension vectors for a batch of texts.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatStreamer streams a chat completion token by token, invoking onToken
// for each chunk as it arrives and returning the full accumulated text.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []ChatMessage, onToken func(string) error) (string, error)
}

// ExtractionHints narrows what a document-extraction call should look for.
type ExtractionHints struct {
	CompanyName string
	DocumentType string
	FiscalYear  string
}

// ExtractionOutput is the structured result of a document extraction call.
type ExtractionOutput struct {
	Data      []byte // JSON object: line items, figures, etc.
	Metadata  []byte // JSON object: citations, reasoning
	Revenue   *float64
	NetProfit *float64
}

// Extractor turns a document's page text into structured financial data.
type Extractor interface {
	ExtractData(ctx context.Context, pageTexts []string, hints ExtractionHints) (ExtractionOutput, error)
}

// SnapshotInput carries everything a snapshot generator needs for a project.
type SnapshotInput struct {
	CompanyName string
	Extractions []ExtractionOutput
}

// SnapshotGenerator produces the cached per-project summary payload.
type SnapshotGenerator interface {
	GenerateSnapshot(ctx context.Context, input SnapshotInput) ([]byte, error)
}

// ScrapeResult is what ScrapePage finds on a filings listing page.
type ScrapeResult struct {
	Documents []ScrapedDocument
}

// ScrapedDocument is one filing link discovered on the source page.
type ScrapedDocument struct {
	DocumentType string
	FiscalYear   string
	Label        string
	PDFURL       string
}

// Scraper fetches the filings listing page and enumerates document links.
type Scraper interface {
	ScrapePage(ctx context.Context, sourceURL string) (ScrapeResult, error)
}

// PDFDownloader fetches the raw bytes of one filing PDF.
type PDFDownloader interface {
	DownloadPDF(ctx context.Context, url string) ([]byte, error)
}

// BlobUploader persists a PDF's bytes to durable storage and returns its
// retrievable URL.
type BlobUploader interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// PDFTextExtractor splits a PDF's bytes into page-indexed plain text.
type PDFTextExtractor interface {
	ExtractPages(ctx context.Context, pdfBytes []byte) ([]string, error)
}
