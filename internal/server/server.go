// Package server assembles the Echo application: middleware, the unified
// error handler, ambient endpoints, and the httpapi resource handlers.
// Wiring mirrors the teacher's internal/server/server.go — echo.New(),
// middleware.Recover(), a custom HTTPErrorHandler, e.Group("/api") — with
// the handler registration generalized to this domain's two resources.
package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/executor"
	"github.com/ledgerline/filings-orchestrator/internal/httpapi"
	"github.com/ledgerline/filings-orchestrator/internal/retrieval"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

// Deps bundles everything the HTTP layer needs, assembled by cmd/filingsctl.
type Deps struct {
	Store     *store.Store
	Bus       *bus.Bus
	Exec      *executor.Executor
	Retrieval *retrieval.Pipeline
	KeepAlive time.Duration
}

// New builds a ready-to-serve *echo.Echo.
func New(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	logger := log.New(os.Stderr, "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	projects := &httpapi.ProjectsHandler{Store: deps.Store, Exec: deps.Exec, Bus: deps.Bus, Logger: logger, KeepAlive: deps.KeepAlive}
	projects.Register(api.Group("/projects"))

	chats := &httpapi.ChatsHandler{Store: deps.Store, Retrieval: deps.Retrieval, KeepAlive: deps.KeepAlive}
	chats.Register(api.Group("/chats"))

	return e
}

// errorHandler maps errs.Kind to HTTP status, generalizing the teacher's
// server.go switch (which only special-cased *echo.HTTPError) so every
// handler can simply `return err` and let this single place decide the
// wire status (§7, §4.0).
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		} else {
			switch errs.KindOf(err) {
			case errs.ValidationFailed, errs.Conflict:
				// §7: "Validation and Conflict are surfaced to the caller
				// as 4xx" — pinned to 400 specifically by S5's literal
				// duplicate-create scenario (spec.md §8) rather than 409,
				// since this service has no resource the client could
				// retry its way out of a conflict on.
				code = http.StatusBadRequest
				msg = err.Error()
			case errs.NotFound:
				code = http.StatusNotFound
				msg = err.Error()
			case errs.Unavailable:
				code = http.StatusServiceUnavailable
				msg = err.Error()
			case errs.Cancelled:
				code = http.StatusRequestTimeout
				msg = err.Error()
			default:
				// §7: "Internal yields 500 with a generic message (no stack
				// or secret leakage)" — the wrapped cause (often a raw DB
				// driver error) stays in the log line below, not the body.
				code = http.StatusInternalServerError
			}
		}

		req := c.Request()
		logger.Printf("%d %s %s: %v", code, req.Method, req.URL.Path, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
}
