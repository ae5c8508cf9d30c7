package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

func callErrorHandler(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	errorHandler(log.New(io.Discard, "", 0))(err, c)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

// TestErrorHandler_InternalDoesNotLeakCause is the regression test for §7's
// "Internal yields 500 with a generic message (no stack or secret
// leakage)": a wrapped DB driver error must never reach the response body.
func TestErrorHandler_InternalDoesNotLeakCause(t *testing.T) {
	dbErr := errors.New("pq: password authentication failed for user \"admin\"")
	wrapped := errs.Wrap(errs.Internal, "query project", dbErr)

	code, body := callErrorHandler(t, wrapped)

	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal error", body["error"])
	require.NotContains(t, body["error"], "password authentication failed")
}

// TestErrorHandler_UnclassifiedErrorDoesNotLeak covers a bare error that
// never went through the errs taxonomy at all (errs.KindOf defaults such
// errors to Internal).
func TestErrorHandler_UnclassifiedErrorDoesNotLeak(t *testing.T) {
	code, body := callErrorHandler(t, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal error", body["error"])
}

func TestErrorHandler_KindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errs.Validationf("bad url"), http.StatusBadRequest},
		{"conflict", errs.Conflictf("duplicate project"), http.StatusBadRequest},
		{"not found", errs.NotFoundf("no such project"), http.StatusNotFound},
		{"unavailable", errs.Unavailablef("db down"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := callErrorHandler(t, tc.err)
			require.Equal(t, tc.want, code)
			require.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestErrorHandler_EchoHTTPError(t *testing.T) {
	code, body := callErrorHandler(t, echo.NewHTTPError(http.StatusTeapot, "teapot"))
	require.Equal(t, http.StatusTeapot, code)
	require.Equal(t, "teapot", body["error"])
}
