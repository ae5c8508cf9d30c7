package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// KNN returns the k nearest chunks to queryVector, scoped to chunks whose
// owning document belongs to projectIDs. Per open question (c) §9, an
// empty projectIDs set is rejected rather than silently searching globally.
// Ties in distance break by chunk id for determinism (testable property 6).
func (s *Store) KNN(ctx context.Context, queryVector []float32, projectIDs []uuid.UUID, k int) ([]domain.ChunkSearchResult, error) {
	if len(projectIDs) == 0 {
		return nil, errs.Validationf("project id set must not be empty")
	}
	if k <= 0 {
		k = 10
	}
	if len(queryVector) != s.dim {
		return nil, errs.Validationf("query vector has %d dimensions, want %d", len(queryVector), s.dim)
	}
	lit, err := encodeVectorLiteral(queryVector)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(projectIDs))
	for i, id := range projectIDs {
		ids[i] = id.String()
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT tc.id, p.id AS project_id, tc.content, tc.field, tc.chunk_index,
       dp.page_number, d.label, d.document_type, d.fiscal_year, p.company_name,
       e.embedding <=> $1::vector AS distance
FROM embeddings e
JOIN text_chunks tc ON tc.id = e.chunk_id
JOIN document_pages dp ON dp.id = tc.page_id
JOIN documents d ON d.id = dp.document_id
JOIN projects p ON p.id = d.project_id
WHERE p.id = ANY($2)
ORDER BY distance ASC, tc.id ASC
LIMIT $3
`, lit, pq.Array(ids), k)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	var out []domain.ChunkSearchResult
	for rows.Next() {
		var r domain.ChunkSearchResult
		var field, label, docType, fy sql.NullString
		if err := rows.Scan(&r.ChunkID, &r.ProjectID, &r.Content, &field, &r.ChunkIndex, &r.PageNumber, &label, &docType, &fy, &r.CompanyName, &r.Distance); err != nil {
			return nil, translate(err, "")
		}
		r.Field, r.DocumentLabel, r.DocumentType, r.FiscalYear = field.String, label.String, docType.String, fy.String
		out = append(out, r)
	}
	return out, rows.Err()
}
