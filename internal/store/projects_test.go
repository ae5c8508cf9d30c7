package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

func TestCreateProjectIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	now := time.Now()
	id := uuid.New()

	query := regexp.QuoteMeta(`
INSERT INTO projects (id, company_name, source_url, exchange, status, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
RETURNING id, company_name, source_url, exchange, status, error_message, created_at
`)
	mock.ExpectQuery(query).
		WithArgs("TATA MOTORS", "https://example.com/stock-share-price/tata-motors/500570/1/financials-annual-reports/", "BSE", domain.ProjectPending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_name", "source_url", "exchange", "status", "error_message", "created_at"}).
			AddRow(id, "TATA MOTORS", "https://example.com/stock-share-price/tata-motors/500570/1/financials-annual-reports/", "BSE", "pending", nil, now))

	p, err := st.CreateProjectIfAbsent(context.Background(), "TATA MOTORS", "https://example.com/stock-share-price/tata-motors/500570/1/financials-annual-reports/", "BSE")
	require.NoError(t, err)
	require.Equal(t, id, p.ID)
	require.Equal(t, domain.ProjectPending, p.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectIfAbsentDuplicateURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	query := regexp.QuoteMeta(`
INSERT INTO projects (id, company_name, source_url, exchange, status, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
RETURNING id, company_name, source_url, exchange, status, error_message, created_at
`)
	mock.ExpectQuery(query).WillReturnError(&pq.Error{Code: "23505", Constraint: "projects_source_url_key"})

	_, err = st.CreateProjectIfAbsent(context.Background(), "X", "https://dup", "BSE")
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestDeleteProjectNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM projects WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.DeleteProject(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.KindOf(err))
}
