package store

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

func TestAcquireJobSlotConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	projectID := uuid.New()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "jobs_one_active_per_project_idx"})

	_, err = st.AcquireJobSlot(context.Background(), projectID, "abc123")
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestCancelJobIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE jobs SET status = $2, cancelled_at = now(), can_resume = true, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'running')
`)).WithArgs(id, "cancelled").WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := st.CancelJob(context.Background(), id)
	require.NoError(t, err)
	require.False(t, changed, "second cancel should be a no-op, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}
