package httpapi

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

const jobColumns = "id, project_id, short_id, status, current_step, current_step_index, " +
	"last_successful_step, failed_step, error_message, resume_data, can_resume, " +
	"documents_processed, embeddings_created, retry_count, started_at, updated_at, completed_at, cancelled_at"

// TestProgressStream_EmitsKeepAlive exercises the wire format of §6's
// keep-alive requirement directly: with no real bus event arriving before
// KeepAlive elapses, the handler must still write a `: keep-alive\n\n`
// comment frame so the connection survives an idle ingestion step.
func TestProgressStream_EmitsKeepAlive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := store.New(db, 1536)
	projectID := uuid.New()
	jobID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows(strings.Split(jobColumns, ", ")).
		AddRow(jobID, projectID, "abc123", "completed", "", 8,
			nil, nil, nil, nil, true, 3, 12, 0, now, now, now, nil)
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE project_id`).WithArgs(projectID).WillReturnRows(rows)

	h := &ProjectsHandler{Store: st, Bus: bus.New(), Logger: log.New(io.Discard, "", 0), KeepAlive: 10 * time.Millisecond}

	e := echo.New()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/projects/"+projectID.String()+"/progress-stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(projectID.String())

	err = h.progressStream(c)
	require.NoError(t, err)

	body := rec.Body.String()
	require.Contains(t, body, ": keep-alive\n\n", "idle stream must send the keep-alive comment frame")
	require.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	require.Equal(t, "no-cache", rec.Header().Get(echo.HeaderCacheControl))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// TestProgressStream_RelaysPublishedEvent confirms a published event is
// framed as `data: {...}\n\n` and reaches the response before keep-alive
// would otherwise fire.
func TestProgressStream_RelaysPublishedEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := store.New(db, 1536)
	projectID := uuid.New()
	jobID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows(strings.Split(jobColumns, ", ")).
		AddRow(jobID, projectID, "abc123", "running", "scrape_page", 2,
			nil, nil, nil, nil, true, 1, 0, 0, now, now, nil, nil)
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE project_id`).WithArgs(projectID).WillReturnRows(rows)

	b := bus.New()
	h := &ProjectsHandler{Store: st, Bus: b, Logger: log.New(io.Discard, "", 0), KeepAlive: time.Second}

	e := echo.New()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/projects/"+projectID.String()+"/progress-stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(projectID.String())

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish(jobID.String(), bus.Event{Type: bus.EventStreamEnd})
	}()

	err = h.progressStream(c)
	require.NoError(t, err)
	require.Contains(t, rec.Body.String(), `"type":"stream_end"`)
}
