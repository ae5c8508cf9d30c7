package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// CreateDocument inserts a new document row. Documents are created once
// during the upload step and are immutable thereafter except page_count.
func (s *Store) CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now())
RETURNING id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at
`, d.ProjectID, d.DocumentType, nullableString(d.FiscalYear), nullableString(d.Label), d.FileURL, nullableString(d.OriginalURL), d.PageCount)

	var out domain.Document
	var fy, label, orig sql.NullString
	if err := row.Scan(&out.ID, &out.ProjectID, &out.DocumentType, &fy, &label, &out.FileURL, &orig, &out.PageCount, &out.CreatedAt); err != nil {
		return domain.Document{}, translate(err, "document")
	}
	out.FiscalYear, out.Label, out.OriginalURL = fy.String, label.String, orig.String
	return out, nil
}

// ListDocumentsByProject returns every document owned by project, oldest first.
func (s *Store) ListDocumentsByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, document_type, fiscal_year, label, file_url, original_url, page_count, created_at
FROM documents WHERE project_id = $1 ORDER BY created_at ASC
`, projectID)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		var fy, label, orig sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DocumentType, &fy, &label, &d.FileURL, &orig, &d.PageCount, &d.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		d.FiscalYear, d.Label, d.OriginalURL = fy.String, label.String, orig.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDocumentPageCount updates the one mutable field on a Document.
func (s *Store) SetDocumentPageCount(ctx context.Context, id uuid.UUID, pageCount int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE documents SET page_count = $2 WHERE id = $1`, id, pageCount)
	return translate(err, "")
}

// CreatePageIfAbsent inserts a page, skipping silently if (document_id,
// page_number) already exists — this is what makes extract_text
// resume-safe without duplicate child rows.
func (s *Store) CreatePageIfAbsent(ctx context.Context, p domain.DocumentPage) (domain.DocumentPage, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO document_pages (id, document_id, page_number, page_text, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, now())
ON CONFLICT (document_id, page_number) DO NOTHING
RETURNING id, document_id, page_number, page_text, created_at
`, p.DocumentID, p.PageNumber, p.PageText)

	var out domain.DocumentPage
	if err := row.Scan(&out.ID, &out.DocumentID, &out.PageNumber, &out.PageText, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			existing, getErr := s.GetPage(ctx, p.DocumentID, p.PageNumber)
			return existing, false, getErr
		}
		return domain.DocumentPage{}, false, translate(err, "")
	}
	return out, true, nil
}

// GetPage fetches a page by its (document_id, page_number) natural key.
func (s *Store) GetPage(ctx context.Context, documentID uuid.UUID, pageNumber int) (domain.DocumentPage, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, document_id, page_number, page_text, created_at
FROM document_pages WHERE document_id = $1 AND page_number = $2
`, documentID, pageNumber)
	var out domain.DocumentPage
	if err := row.Scan(&out.ID, &out.DocumentID, &out.PageNumber, &out.PageText, &out.CreatedAt); err != nil {
		return domain.DocumentPage{}, translate(err, "page not found")
	}
	return out, nil
}

// ListPagesByDocument returns every page of a document, ordered by page number.
func (s *Store) ListPagesByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentPage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, page_number, page_text, created_at
FROM document_pages WHERE document_id = $1 ORDER BY page_number ASC
`, documentID)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()
	var out []domain.DocumentPage
	for rows.Next() {
		var p domain.DocumentPage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.PageText, &p.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountChunksByPage reports how many chunks already exist for a page.
func (s *Store) CountChunksByPage(ctx context.Context, pageID uuid.UUID) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM text_chunks WHERE page_id = $1`, pageID).Scan(&n)
	return n, translate(err, "")
}

// CreateChunkIfAbsent inserts a text chunk, skipping silently if
// (page_id, chunk_index) already exists — mirrors CreatePageIfAbsent so a
// create_embeddings step restarted after a mid-step crash does not
// duplicate chunk rows for documents it had already finished (§8).
func (s *Store) CreateChunkIfAbsent(ctx context.Context, c domain.TextChunk) (domain.TextChunk, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO text_chunks (id, page_id, chunk_index, content, field, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
ON CONFLICT (page_id, chunk_index) DO NOTHING
RETURNING id, page_id, chunk_index, content, field, created_at
`, c.PageID, c.ChunkIndex, c.Content, nullableString(c.Field))

	var out domain.TextChunk
	var field sql.NullString
	if err := row.Scan(&out.ID, &out.PageID, &out.ChunkIndex, &out.Content, &field, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			existing, getErr := s.GetChunk(ctx, c.PageID, c.ChunkIndex)
			return existing, false, getErr
		}
		return domain.TextChunk{}, false, translate(err, "")
	}
	out.Field = field.String
	return out, true, nil
}

// GetChunk fetches a chunk by its (page_id, chunk_index) natural key.
func (s *Store) GetChunk(ctx context.Context, pageID uuid.UUID, chunkIndex int) (domain.TextChunk, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, page_id, chunk_index, content, field, created_at
FROM text_chunks WHERE page_id = $1 AND chunk_index = $2
`, pageID, chunkIndex)
	var out domain.TextChunk
	var field sql.NullString
	if err := row.Scan(&out.ID, &out.PageID, &out.ChunkIndex, &out.Content, &field, &out.CreatedAt); err != nil {
		return domain.TextChunk{}, translate(err, "chunk not found")
	}
	out.Field = field.String
	return out, nil
}

// CreateEmbeddingIfAbsent inserts the vector for a chunk, skipping
// silently if the chunk already carries one (invariant 5's 1:1 relation
// doubles as the resume-safety guard for this insert). The dimension is
// checked against the store's configured width before the insert, so
// mismatched vectors are rejected client-side.
func (s *Store) CreateEmbeddingIfAbsent(ctx context.Context, e domain.Embedding) (domain.Embedding, bool, error) {
	if len(e.Vector) != s.dim {
		return domain.Embedding{}, false, errs.Validationf("embedding has %d dimensions, want %d", len(e.Vector), s.dim)
	}
	lit, err := encodeVectorLiteral(e.Vector)
	if err != nil {
		return domain.Embedding{}, false, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO embeddings (id, chunk_id, embedding, created_at)
VALUES (gen_random_uuid(), $1, $2::vector, now())
ON CONFLICT (chunk_id) DO NOTHING
RETURNING id, chunk_id, created_at
`, e.ChunkID, lit)
	var out domain.Embedding
	if err := row.Scan(&out.ID, &out.ChunkID, &out.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			out.ChunkID = e.ChunkID
			out.Vector = e.Vector
			return out, false, nil
		}
		return domain.Embedding{}, false, translate(err, "")
	}
	out.Vector = e.Vector
	return out, true, nil
}

// CreateExtractionResult stores the structured extraction for a document.
func (s *Store) CreateExtractionResult(ctx context.Context, r domain.ExtractionResult) (domain.ExtractionResult, error) {
	if r.ExtractedData == nil {
		r.ExtractedData = json.RawMessage("{}")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO extraction_results (id, document_id, extracted_data, extraction_metadata, company_name, fiscal_year, revenue, net_profit, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now())
RETURNING id, document_id, created_at
`, r.DocumentID, r.ExtractedData, r.ExtractionMetadata, nullableString(r.CompanyName), nullableString(r.FiscalYear), r.Revenue, r.NetProfit)
	var out domain.ExtractionResult
	if err := row.Scan(&out.ID, &out.DocumentID, &out.CreatedAt); err != nil {
		return domain.ExtractionResult{}, translate(err, "")
	}
	out.ExtractedData, out.ExtractionMetadata = r.ExtractedData, r.ExtractionMetadata
	out.CompanyName, out.FiscalYear, out.Revenue, out.NetProfit = r.CompanyName, r.FiscalYear, r.Revenue, r.NetProfit
	return out, nil
}

// GetExtractionResultsByProject joins documents->extraction_results for a project,
// ordered by creation time — the list generate_snapshot consumes.
func (s *Store) GetExtractionResultsByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ExtractionResult, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT er.id, er.document_id, er.extracted_data, er.extraction_metadata, er.company_name, er.fiscal_year, er.revenue, er.net_profit, er.created_at
FROM extraction_results er
JOIN documents d ON d.id = er.document_id
WHERE d.project_id = $1
ORDER BY er.created_at ASC
`, projectID)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()
	var out []domain.ExtractionResult
	for rows.Next() {
		var r domain.ExtractionResult
		var company, fy sql.NullString
		var meta []byte
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.ExtractedData, &meta, &company, &fy, &r.Revenue, &r.NetProfit, &r.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		r.ExtractionMetadata, r.CompanyName, r.FiscalYear = meta, company.String, fy.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSnapshot inserts or replaces the project's snapshot, incrementing
// version on conflict per the snapshot-regeneration testable property.
func (s *Store) UpsertSnapshot(ctx context.Context, projectID uuid.UUID, data []byte) (domain.CompanySnapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO company_snapshots (project_id, snapshot_data, generated_at, version, updated_at)
VALUES ($1, $2, now(), 1, now())
ON CONFLICT (project_id) DO UPDATE
  SET snapshot_data = EXCLUDED.snapshot_data,
      generated_at = now(),
      version = company_snapshots.version + 1,
      updated_at = now()
RETURNING project_id, snapshot_data, generated_at, version, updated_at
`, projectID, data)
	var out domain.CompanySnapshot
	if err := row.Scan(&out.ProjectID, &out.SnapshotData, &out.GeneratedAt, &out.Version, &out.UpdatedAt); err != nil {
		return domain.CompanySnapshot{}, translate(err, "")
	}
	return out, nil
}

// GetSnapshot fetches a project's cached snapshot, errs.NotFound if absent.
func (s *Store) GetSnapshot(ctx context.Context, projectID uuid.UUID) (domain.CompanySnapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT project_id, snapshot_data, generated_at, version, updated_at
FROM company_snapshots WHERE project_id = $1
`, projectID)
	var out domain.CompanySnapshot
	if err := row.Scan(&out.ProjectID, &out.SnapshotData, &out.GeneratedAt, &out.Version, &out.UpdatedAt); err != nil {
		return domain.CompanySnapshot{}, translate(err, "snapshot not generated yet")
	}
	return out, nil
}
