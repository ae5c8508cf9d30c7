// Package httpapi implements the Echo handlers behind /api, following the
// teacher's per-resource Handler.Register(group) convention from
// internal/server/runs.go and internal/server/topics.go.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
)

// setSSEHeaders matches streamRuns's header set, plus X-Accel-Buffering
// (spec's reverse-proxy buffering suppression directive, absent from the
// teacher since it sits behind no such proxy in its own deployment).
func setSSEHeaders(resp *echo.Response) (http.Flusher, bool) {
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	return flusher, ok
}

// writeSSE renders one event onto resp and flushes it immediately, so a
// slow or stalled downstream proxy never buffers a chunk of progress.
func writeSSE(resp *echo.Response, flusher http.Flusher, ev bus.Event) error {
	line, err := ev.MarshalSSE()
	if err != nil {
		return err
	}
	if _, err := resp.Write(line); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeKeepAlive emits the comment-framed keep-alive line the wire format
// uses to hold a connection open across idle periods (§6).
func writeKeepAlive(resp *echo.Response, flusher http.Flusher) error {
	if _, err := resp.Write([]byte(": keep-alive\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
