package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/provider"
	"github.com/ledgerline/filings-orchestrator/internal/urlrules"
)

// runValidateURL is step 0: confirm the project's source URL still matches
// the required filings-page shape. Fatal on mismatch (§7) — there is no
// later input that would make the same URL valid.
func runValidateURL(sc *stepContext) (int, int, error) {
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}
	if !urlrules.Validate(project.SourceURL) {
		return 0, 0, errs.Validationf("source URL %q does not match the required filings-page pattern", project.SourceURL)
	}
	return 0, 0, nil
}

// runScrapePage is step 1: enumerate every PDF link on the filings page,
// bounded by the 30-second scrape ceiling (§5).
func runScrapePage(sc *stepContext) (int, int, error) {
	if len(sc.payload.ScrapeResults) > 0 {
		return 0, 0, nil // already scraped on a prior attempt
	}
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}
	if err := sc.exec.Store.SetProjectStatus(sc.ctx, project.ID, domain.ProjectScraping, ""); err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(sc.ctx, sc.exec.Config.ScrapeTimeout)
	defer cancel()
	result, err := sc.exec.Providers.Scraper.ScrapePage(ctx, project.SourceURL)
	if err != nil {
		return 0, 0, fmt.Errorf("scrape %s: %w", project.SourceURL, err)
	}
	if len(result.Documents) == 0 {
		return 0, 0, ErrNoQualifyingDocuments
	}

	sc.payload.ScrapeResults = make([]ScrapedDocInfo, len(result.Documents))
	for i, d := range result.Documents {
		sc.payload.ScrapeResults[i] = ScrapedDocInfo{
			DocumentType: d.DocumentType,
			FiscalYear:   d.FiscalYear,
			Label:        d.Label,
			PDFURL:       d.PDFURL,
		}
	}
	sc.progress(fmt.Sprintf("found %d documents", len(sc.payload.ScrapeResults)))
	return 0, 0, nil
}

// runDownloadPDFs is step 2: fetch every scraped PDF's raw bytes, skipping
// any document whose bytes are already present in the resume payload.
func runDownloadPDFs(sc *stepContext) (int, int, error) {
	if sc.payload.PDFBuffers == nil {
		sc.payload.PDFBuffers = make(map[int][]byte, len(sc.payload.ScrapeResults))
	}
	total := len(sc.payload.ScrapeResults)
	for i, doc := range sc.payload.ScrapeResults {
		if sc.cancelled() {
			return 0, 0, errs.ErrCancelled
		}
		if _, ok := sc.payload.PDFBuffers[i]; ok {
			continue
		}
		data, err := sc.exec.Providers.PDFDownloader.DownloadPDF(sc.ctx, doc.PDFURL)
		if err != nil {
			return 0, 0, fmt.Errorf("download %s: %w", doc.PDFURL, err)
		}
		sc.payload.PDFBuffers[i] = data
		sc.progress(fmt.Sprintf("downloaded %d/%d", i+1, total))
	}
	return 0, 0, nil
}

// runUploadToCloud is step 3: persist each PDF to blob storage and create
// its Document row. This is the step in which a Document first exists
// (§3): scraping and downloading operate purely on resume-payload data.
func runUploadToCloud(sc *stepContext) (int, int, error) {
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}
	if err := sc.exec.Store.SetProjectStatus(sc.ctx, project.ID, domain.ProjectDownloading, ""); err != nil {
		return 0, 0, err
	}
	if sc.payload.DocumentIDs == nil {
		sc.payload.DocumentIDs = make(map[int]uuid.UUID, len(sc.payload.ScrapeResults))
	}
	if sc.payload.BlobURLs == nil {
		sc.payload.BlobURLs = make(map[int]string, len(sc.payload.ScrapeResults))
	}

	documentsCreated := 0
	for i, doc := range sc.payload.ScrapeResults {
		if sc.cancelled() {
			return documentsCreated, 0, errs.ErrCancelled
		}
		if _, ok := sc.payload.DocumentIDs[i]; ok {
			continue
		}
		data := sc.payload.PDFBuffers[i]
		key := fmt.Sprintf("%s/%02d-%s.pdf", project.ID, i, slugify(doc.Label))
		blobURL, err := sc.exec.Providers.BlobUploader.Upload(sc.ctx, key, data)
		if err != nil {
			return documentsCreated, 0, fmt.Errorf("upload %s: %w", key, err)
		}

		created, err := sc.exec.Store.CreateDocument(sc.ctx, domain.Document{
			ProjectID:    project.ID,
			DocumentType: doc.DocumentType,
			FiscalYear:   doc.FiscalYear,
			Label:        doc.Label,
			FileURL:      blobURL,
			OriginalURL:  doc.PDFURL,
		})
		if err != nil {
			return documentsCreated, 0, err
		}
		sc.payload.DocumentIDs[i] = created.ID
		sc.payload.BlobURLs[i] = blobURL
		documentsCreated++
		sc.progress(fmt.Sprintf("uploaded %d/%d", i+1, len(sc.payload.ScrapeResults)))
	}
	return documentsCreated, 0, nil
}

// runExtractText is step 4: split each PDF into page-indexed plain text
// and persist DocumentPage rows. The per-document checkpoint named in
// §4.3 is the cancellation check at the top of this loop.
func runExtractText(sc *stepContext) (int, int, error) {
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}
	if err := sc.exec.Store.SetProjectStatus(sc.ctx, project.ID, domain.ProjectProcessing, ""); err != nil {
		return 0, 0, err
	}
	if sc.payload.PageTexts == nil {
		sc.payload.PageTexts = make(map[int][]string, len(sc.payload.ScrapeResults))
	}

	for i := range sc.payload.ScrapeResults {
		if sc.cancelled() { // per-document checkpoint
			return 0, 0, errs.ErrCancelled
		}
		if _, ok := sc.payload.PageTexts[i]; ok {
			continue
		}
		docID := sc.payload.DocumentIDs[i]
		pages, err := sc.exec.Providers.PDFTextExtractor.ExtractPages(sc.ctx, sc.payload.PDFBuffers[i])
		if err != nil {
			return 0, 0, fmt.Errorf("extract text for document %s: %w", docID, err)
		}
		for idx, text := range pages {
			if _, _, err := sc.exec.Store.CreatePageIfAbsent(sc.ctx, domain.DocumentPage{
				DocumentID: docID,
				PageNumber: idx + 1,
				PageText:   text,
			}); err != nil {
				return 0, 0, err
			}
		}
		if err := sc.exec.Store.SetDocumentPageCount(sc.ctx, docID, len(pages)); err != nil {
			return 0, 0, err
		}
		sc.payload.PageTexts[i] = pages
		sc.progress(fmt.Sprintf("extracted text for document %d/%d", i+1, len(sc.payload.ScrapeResults)))
	}
	return 0, 0, nil
}

// runExtractData is step 5: ask the extraction provider for structured
// financial data per document and persist an ExtractionResult.
func runExtractData(sc *stepContext) (int, int, error) {
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}
	if sc.payload.ExtractionResults == nil {
		sc.payload.ExtractionResults = make(map[int]ExtractionSummary, len(sc.payload.ScrapeResults))
	}

	for i, doc := range sc.payload.ScrapeResults {
		if sc.cancelled() {
			return 0, 0, errs.ErrCancelled
		}
		if _, ok := sc.payload.ExtractionResults[i]; ok {
			continue
		}
		docID := sc.payload.DocumentIDs[i]
		out, err := sc.exec.Providers.Extractor.ExtractData(sc.ctx, sc.payload.PageTexts[i], provider.ExtractionHints{
			CompanyName:  project.CompanyName,
			DocumentType: doc.DocumentType,
			FiscalYear:   doc.FiscalYear,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("extract data for document %s: %w", docID, err)
		}

		saved, err := sc.exec.Store.CreateExtractionResult(sc.ctx, domain.ExtractionResult{
			DocumentID:         docID,
			ExtractedData:      out.Data,
			ExtractionMetadata: out.Metadata,
			CompanyName:        project.CompanyName,
			FiscalYear:         doc.FiscalYear,
			Revenue:            out.Revenue,
			NetProfit:          out.NetProfit,
		})
		if err != nil {
			return 0, 0, err
		}
		sc.payload.ExtractionResults[i] = ExtractionSummary{
			ExtractionResultID: saved.ID,
			CompanyName:        project.CompanyName,
			FiscalYear:         doc.FiscalYear,
			Revenue:            out.Revenue,
			NetProfit:          out.NetProfit,
		}
		sc.progress(fmt.Sprintf("extracted data for document %d/%d", i+1, len(sc.payload.ScrapeResults)))
	}
	return 0, 0, nil
}

// runCreateEmbeddings is step 6: chunk every extracted page and embed each
// chunk. The per-batch checkpoint named in §4.3 is the cancellation check
// once per document (a document's pages are one batch).
func runCreateEmbeddings(sc *stepContext) (int, int, error) {
	if sc.payload.EmbeddedDocs == nil {
		sc.payload.EmbeddedDocs = make(map[int]bool, len(sc.payload.ScrapeResults))
	}
	cfg := sc.exec.Config
	embeddingsCreated := 0

	for i := range sc.payload.ScrapeResults {
		if sc.cancelled() { // per-batch checkpoint
			return 0, embeddingsCreated, errs.ErrCancelled
		}
		if sc.payload.EmbeddedDocs[i] {
			continue
		}
		docID := sc.payload.DocumentIDs[i]
		pages := sc.payload.PageTexts[i]

		for pageIdx, pageText := range pages {
			page, err := sc.exec.Store.GetPage(sc.ctx, docID, pageIdx+1)
			if err != nil {
				return 0, embeddingsCreated, err
			}
			chunks := chunkText(pageText, cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxChunksPerPage)
			if len(chunks) == 0 {
				continue
			}
			vectors, err := sc.exec.Providers.Embedder.CreateEmbeddings(sc.ctx, chunks)
			if err != nil {
				return 0, embeddingsCreated, fmt.Errorf("embed page %d of document %s: %w", pageIdx+1, docID, err)
			}
			for chunkIdx, content := range chunks {
				chunk, _, err := sc.exec.Store.CreateChunkIfAbsent(sc.ctx, domain.TextChunk{
					PageID:     page.ID,
					ChunkIndex: chunkIdx,
					Content:    content,
				})
				if err != nil {
					return 0, embeddingsCreated, err
				}
				if _, created, err := sc.exec.Store.CreateEmbeddingIfAbsent(sc.ctx, domain.Embedding{
					ChunkID: chunk.ID,
					Vector:  vectors[chunkIdx],
				}); err != nil {
					return 0, embeddingsCreated, err
				} else if created {
					embeddingsCreated++
				}
			}
		}
		sc.payload.EmbeddedDocs[i] = true
		sc.progress(fmt.Sprintf("embedded document %d/%d", i+1, len(sc.payload.ScrapeResults)))
	}
	return 0, embeddingsCreated, nil
}

// runGenerateSnapshot is step 7: summarize the project's extraction
// results into the cached CompanySnapshot. Resolves Open Question (a):
// whether to always regenerate or skip if one already exists is
// controlled by Config.GenerateSnapshotOnResume (configurable per §9).
func runGenerateSnapshot(sc *stepContext) (int, int, error) {
	project, err := sc.exec.Store.GetProject(sc.ctx, sc.job.ProjectID)
	if err != nil {
		return 0, 0, err
	}

	if sc.exec.Config.GenerateSnapshotOnResume == "if_absent" {
		if _, err := sc.exec.Store.GetSnapshot(sc.ctx, project.ID); err == nil {
			if err := sc.exec.Store.SetProjectStatus(sc.ctx, project.ID, domain.ProjectCompleted, ""); err != nil {
				return 0, 0, err
			}
			return 0, 0, nil
		} else if errs.KindOf(err) != errs.NotFound {
			return 0, 0, err
		}
	}

	extractions, err := sc.exec.Store.GetExtractionResultsByProject(sc.ctx, project.ID)
	if err != nil {
		return 0, 0, err
	}
	inputs := make([]provider.ExtractionOutput, len(extractions))
	for i, e := range extractions {
		inputs[i] = provider.ExtractionOutput{
			Data: e.ExtractedData, Metadata: e.ExtractionMetadata,
			Revenue: e.Revenue, NetProfit: e.NetProfit,
		}
	}

	data, err := sc.exec.Providers.SnapshotGenerator.GenerateSnapshot(sc.ctx, provider.SnapshotInput{
		CompanyName: project.CompanyName,
		Extractions: inputs,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("generate snapshot for project %s: %w", project.ID, err)
	}
	if _, err := sc.exec.Store.UpsertSnapshot(sc.ctx, project.ID, data); err != nil {
		return 0, 0, err
	}
	if err := sc.exec.Store.SetProjectStatus(sc.ctx, project.ID, domain.ProjectCompleted, ""); err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}

// chunkText splits text into overlapping windows of size runes, capped at
// maxChunks per page (§4.0's pipeline tunables).
func chunkText(text string, size, overlap, maxChunks int) []string {
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) && len(chunks) < maxChunks {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func slugify(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
