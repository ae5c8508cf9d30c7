package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// CreateProjectIfAbsent atomically inserts a new project for sourceURL, or
// surfaces errs.Conflict if one already exists (invariant 2, §3).
func (s *Store) CreateProjectIfAbsent(ctx context.Context, companyName, sourceURL, exchange string) (domain.Project, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO projects (id, company_name, source_url, exchange, status, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
RETURNING id, company_name, source_url, exchange, status, error_message, created_at
`, companyName, sourceURL, exchange, domain.ProjectPending)

	var p domain.Project
	var errMsg sql.NullString
	if err := row.Scan(&p.ID, &p.CompanyName, &p.SourceURL, &p.Exchange, &p.Status, &errMsg, &p.CreatedAt); err != nil {
		return domain.Project{}, translate(err, "project")
	}
	if errMsg.Valid {
		p.ErrorMessage = errMsg.String
	}
	return p, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (domain.Project, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, company_name, source_url, exchange, status, error_message, created_at
FROM projects WHERE id = $1
`, id)
	var p domain.Project
	var errMsg sql.NullString
	if err := row.Scan(&p.ID, &p.CompanyName, &p.SourceURL, &p.Exchange, &p.Status, &errMsg, &p.CreatedAt); err != nil {
		return domain.Project{}, translate(err, "project not found")
	}
	if errMsg.Valid {
		p.ErrorMessage = errMsg.String
	}
	return p, nil
}

// ListProjects returns projects ordered most-recent first.
func (s *Store) ListProjects(ctx context.Context, skip, limit int) ([]domain.Project, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, company_name, source_url, exchange, status, error_message, created_at
FROM projects ORDER BY created_at DESC
OFFSET $1 LIMIT $2
`, skip, limit)
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		var errMsg sql.NullString
		if err := rows.Scan(&p.ID, &p.CompanyName, &p.SourceURL, &p.Exchange, &p.Status, &errMsg, &p.CreatedAt); err != nil {
			return nil, translate(err, "")
		}
		if errMsg.Valid {
			p.ErrorMessage = errMsg.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectStatus updates a project's lifecycle state and optional error message.
func (s *Store) SetProjectStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE projects SET status = $2, error_message = $3 WHERE id = $1
`, id, status, nullableString(errMsg))
	return translate(err, "")
}

// DeleteProject removes a project and, via ON DELETE CASCADE, every
// descendant row (documents, pages, chunks, embeddings, jobs, snapshot).
func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return translate(err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, "")
	}
	if n == 0 {
		return errs.NotFoundf("project not found")
	}
	return nil
}
