package httpapi

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/executor"
	"github.com/ledgerline/filings-orchestrator/internal/store"
	"github.com/ledgerline/filings-orchestrator/internal/urlrules"
)

// ProjectsHandler serves every /api/projects route (spec.md §6).
type ProjectsHandler struct {
	Store     *store.Store
	Exec      *executor.Executor
	Bus       *bus.Bus
	Logger    *log.Logger
	KeepAlive time.Duration
}

// Register wires this handler's routes onto group, mirroring the
// teacher's RunsHandler.Register(api.Group("/topics")) convention.
func (h *ProjectsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/status", h.status)
	g.GET("/:id/snapshot", h.snapshot)
	g.GET("/:id/job", h.job)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/resume", h.resume)
	g.GET("/:id/progress-stream", h.progressStream)
	g.DELETE("/:id", h.delete)
}

type createProjectRequest struct {
	URL string `json:"url"`
}

type projectResponse struct {
	ID           uuid.UUID            `json:"id"`
	CompanyName  string               `json:"company_name"`
	SourceURL    string               `json:"source_url"`
	Exchange     string               `json:"exchange"`
	Status       domain.ProjectStatus `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

func toProjectResponse(p domain.Project) projectResponse {
	return projectResponse{
		ID: p.ID, CompanyName: p.CompanyName, SourceURL: p.SourceURL, Exchange: p.Exchange,
		Status: p.Status, ErrorMessage: p.ErrorMessage, CreatedAt: p.CreatedAt,
	}
}

// create validates the URL, atomically inserts the project, and kicks off
// the StepExecutor without awaiting its completion (§6).
func (h *ProjectsHandler) create(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid request body")
	}
	if !urlrules.Validate(req.URL) {
		return errs.Validationf("url does not match the required filings-page pattern")
	}
	companyName := urlrules.CompanyName(req.URL)

	project, err := h.Store.CreateProjectIfAbsent(c.Request().Context(), companyName, req.URL, "")
	if err != nil {
		return err
	}

	if _, err := h.Exec.Start(c.Request().Context(), project.ID); err != nil {
		h.Logger.Printf("project %s: start failed: %v", project.ID, err)
	}

	return c.JSON(http.StatusCreated, toProjectResponse(project))
}

func (h *ProjectsHandler) list(c echo.Context) error {
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	projects, err := h.Store.ListProjects(c.Request().Context(), skip, limit)
	if err != nil {
		return err
	}
	out := make([]projectResponse, len(projects))
	for i, p := range projects {
		out[i] = toProjectResponse(p)
	}
	return c.JSON(http.StatusOK, out)
}

type jobSummary struct {
	ID                 uuid.UUID       `json:"id"`
	Status             domain.JobStatus `json:"status"`
	CurrentStep        string          `json:"current_step"`
	CurrentStepIndex   int             `json:"current_step_index"`
	TotalSteps         int             `json:"total_steps"`
	FailedStep         string          `json:"failed_step,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CanResume          bool            `json:"can_resume"`
	DocumentsProcessed int             `json:"documents_processed"`
	EmbeddingsCreated  int             `json:"embeddings_created"`
	RetryCount         int             `json:"retry_count"`
}

func toJobSummary(j domain.Job) jobSummary {
	return jobSummary{
		ID: j.ID, Status: j.Status, CurrentStep: j.CurrentStep, CurrentStepIndex: j.CurrentStepIndex,
		TotalSteps: executor.TotalSteps, FailedStep: j.FailedStep, ErrorMessage: j.ErrorMessage,
		CanResume: j.CanResume, DocumentsProcessed: j.DocumentsProcessed, EmbeddingsCreated: j.EmbeddingsCreated,
		RetryCount: j.RetryCount,
	}
}

type projectDetailResponse struct {
	projectResponse
	Documents []domain.Document `json:"documents"`
	Job       *jobSummary       `json:"job,omitempty"`
}

func (h *ProjectsHandler) get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	project, err := h.Store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	docs, err := h.Store.ListDocumentsByProject(ctx, id)
	if err != nil {
		return err
	}
	resp := projectDetailResponse{projectResponse: toProjectResponse(project), Documents: docs}
	if job, err := h.Store.GetLatestJobByProject(ctx, id); err == nil {
		js := toJobSummary(job)
		resp.Job = &js
	} else if errs.KindOf(err) != errs.NotFound {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// status returns the project/job summary and reconciles the project's
// lifecycle column to the job's terminal state if it has drifted (§6) —
// the job row is this service's source of truth; the project's status
// column is a read-optimized mirror of it.
func (h *ProjectsHandler) status(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	project, err := h.Store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	job, err := h.Store.GetLatestJobByProject(ctx, id)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return c.JSON(http.StatusOK, projectDetailResponse{projectResponse: toProjectResponse(project)})
		}
		return err
	}

	if wantStatus, ok := reconciledStatus(job.Status); ok && project.Status != wantStatus {
		if err := h.Store.SetProjectStatus(ctx, id, wantStatus, job.ErrorMessage); err != nil {
			return err
		}
		project.Status = wantStatus
	}

	js := toJobSummary(job)
	return c.JSON(http.StatusOK, projectDetailResponse{projectResponse: toProjectResponse(project), Job: &js})
}

func reconciledStatus(js domain.JobStatus) (domain.ProjectStatus, bool) {
	switch js {
	case domain.JobCompleted:
		return domain.ProjectCompleted, true
	case domain.JobFailed:
		return domain.ProjectFailed, true
	default:
		return "", false
	}
}

func (h *ProjectsHandler) snapshot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	snap, err := h.Store.GetSnapshot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, snap.SnapshotData)
}

func (h *ProjectsHandler) job(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	job, err := h.Store.GetLatestJobByProject(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toJobSummary(job))
}

func (h *ProjectsHandler) cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	job, err := h.Store.GetActiveJobByProject(ctx, id)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return errs.NotFoundf("project %s has no active job", id)
		}
		return err
	}
	changed, err := h.Exec.Cancel(ctx, job.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": changed})
}

func (h *ProjectsHandler) resume(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	job, err := h.Exec.Resume(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toJobSummary(job))
}

// progressStream subscribes to the job's bus topic and relays every event
// as SSE until the topic closes or the client disconnects, grounded on
// the teacher's streamRuns handler (§6).
func (h *ProjectsHandler) progressStream(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	job, err := h.Store.GetLatestJobByProject(ctx, id)
	if err != nil {
		return err
	}

	resp := c.Response()
	flusher, ok := setSSEHeaders(resp)
	if !ok {
		return errs.Unavailablef("streaming unsupported by this connection")
	}

	topic := job.ID.String()
	events, unsub := h.Bus.Subscribe(topic, map[string]interface{}{
		"job_id": job.ID, "already_finished": job.Status != domain.JobRunning && job.Status != domain.JobPending,
	})
	defer unsub()

	keepAlive := time.NewTicker(keepAliveInterval(h.KeepAlive))
	defer keepAlive.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			if err := writeSSE(resp, flusher, ev); err != nil {
				return nil // client disconnected mid-stream
			}
			if ev.Type == bus.EventStreamEnd {
				return nil
			}
			keepAlive.Reset(keepAliveInterval(h.KeepAlive))
		case <-keepAlive.C:
			if err := writeKeepAlive(resp, flusher); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// keepAliveInterval falls back to spec.md §5's 30-second default if the
// handler was constructed without one set.
func keepAliveInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (h *ProjectsHandler) delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if job, err := h.Store.GetActiveJobByProject(ctx, id); err == nil {
		if _, err := h.Exec.Cancel(ctx, job.ID); err != nil {
			return err
		}
	} else if errs.KindOf(err) != errs.NotFound {
		return err
	}

	if err := h.Store.DeleteProject(ctx, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errs.Validationf("invalid id %q", c.Param("id"))
	}
	return id, nil
}
