// Package executor drives a Project's ingestion Job through the fixed
// eight-step pipeline (§4.3): resumable, cancellable, and observable
// through the progress bus. It is adapted from the teacher's
// internal/executor package — the retry/checkpoint loop shape survives,
// but the general task-graph/topological-sort machinery does not, since
// this domain's pipeline is a strict chain rather than an arbitrary DAG.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/provider"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

// Config carries the pipeline tunables an Executor needs, mirrored from
// config.PipelineConfig so this package does not import the config
// package directly (it is wired by cmd/filingsctl instead).
type Config struct {
	ChunkSize                int
	ChunkOverlap             int
	MaxChunksPerPage         int
	EmbeddingDimension       int
	MaxRetries               int
	StaleJobThreshold        time.Duration
	ScrapeTimeout            time.Duration
	GenerateSnapshotOnResume string // "always" | "if_absent"
}

// Providers bundles every external collaborator a step may call into.
// Any field may be nil in tests that only exercise steps not needing it.
type Providers struct {
	Scraper           provider.Scraper
	PDFDownloader     provider.PDFDownloader
	BlobUploader      provider.BlobUploader
	PDFTextExtractor  provider.PDFTextExtractor
	Embedder          provider.Embedder
	Extractor         provider.Extractor
	SnapshotGenerator provider.SnapshotGenerator
}

// jobQueries is the subset of store.Store the Executor needs beyond the
// CheckpointManager's narrower jobStore, kept as an interface so tests can
// substitute a fake.
type jobQueries interface {
	AcquireJobSlot(ctx context.Context, projectID uuid.UUID, shortID string) (domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	GetActiveJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error)
	GetLatestJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error)
	FindStaleRunningJobs(ctx context.Context, threshold store.StaleInterval) ([]domain.Job, error)
	StartJob(ctx context.Context, id uuid.UUID) error
	CompleteJob(ctx context.Context, id uuid.UUID, totalSteps int) error
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)
	CoerceStaleToFailed(ctx context.Context, id uuid.UUID) error
	IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error)
}

// Executor drives jobs through the eight-step pipeline.
type Executor struct {
	Store       *store.Store
	Bus         *bus.Bus
	Checkpoints CheckpointManager
	Cancels     *CancelRegistry
	Providers   Providers
	Config      Config
	logger      *log.Logger

	jobs jobQueries
}

// New constructs an Executor. st is also exposed as jobs via the
// jobQueries interface; passing *store.Store directly keeps call sites simple.
func New(st *store.Store, b *bus.Bus, cfg Config, providers Providers) *Executor {
	return &Executor{
		Store:       st,
		Bus:         b,
		Checkpoints: NewStoreCheckpointManager(st),
		Cancels:     NewCancelRegistry(),
		Providers:   providers,
		Config:      cfg,
		logger:      log.New(os.Stderr, "[EXEC] ", log.LstdFlags),
		jobs:        st,
	}
}

func topicFor(job domain.Job) string { return job.ID.String() }

// Start acquires a fresh job slot for projectID and runs it asynchronously;
// the caller's HTTP response must not await completion (§4.3).
func (e *Executor) Start(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	shortID := shortJobID()
	job, err := e.jobs.AcquireJobSlot(ctx, projectID, shortID)
	if err != nil {
		return domain.Job{}, err
	}
	go e.run(context.Background(), job.ID)
	return job, nil
}

// Resume implements §4.3's resume entrypoint and staleness recovery. It
// returns errs.ValidationFailed if the job is already completed, or if it
// is actively running and not stale.
func (e *Executor) Resume(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	job, err := e.jobs.GetActiveJobByProject(ctx, projectID)
	if err != nil && errs.KindOf(err) != errs.NotFound {
		return domain.Job{}, err
	}
	hasActive := err == nil

	if hasActive {
		if e.isStale(job) {
			if err := e.coerceStale(ctx, job.ID); err != nil {
				return domain.Job{}, err
			}
		} else {
			return domain.Job{}, errs.Validationf("job %s is already running", job.ID)
		}
	} else {
		job, err = e.jobs.GetLatestJobByProject(ctx, projectID)
		if err != nil {
			return domain.Job{}, err
		}
		if job.Status == domain.JobCompleted {
			return domain.Job{}, errs.Validationf("job %s has already completed and cannot be resumed", job.ID)
		}
		if !job.CanResume {
			return domain.Job{}, errs.Validationf("job %s failed fatally and cannot be resumed", job.ID)
		}
	}

	if _, err := e.jobs.IncrementRetryCount(ctx, job.ID); err != nil {
		return domain.Job{}, err
	}
	e.Cancels.Reset(job.ID)
	// Drop the previous run's closed topic so the resumed run publishes on
	// a fresh one.
	e.Bus.Forget(job.ID.String())

	job, err = e.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return domain.Job{}, err
	}
	go e.run(context.Background(), job.ID)
	return job, nil
}

// Cancel marks jobID's cancellation flag and transitions its row to
// cancelled. Idempotent: a second cancel on an already-terminal job is a
// benign no-op (satisfies cancel-idempotence, §8).
func (e *Executor) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	e.Cancels.Cancel(jobID)
	changed, err := e.jobs.CancelJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if changed {
		e.Bus.Publish(jobID.String(), bus.Event{Type: bus.EventCancelled, Payload: map[string]string{"message": "job cancelled"}})
		e.Bus.Close(jobID.String(), bus.ReasonCancelled)
	}
	return changed, nil
}

// SweepStale coerces every job stuck in running past the staleness
// threshold to failed, so a future resume call sees a clean starting
// point. Callers should serialize this across API replicas using a
// distributed lock (cmd/filingsctl wires Redis SETNX around this call,
// grounded on the teacher's scheduler lock idiom — see DESIGN.md).
func (e *Executor) SweepStale(ctx context.Context) (int, error) {
	threshold := store.NewStaleInterval(int64(e.Config.StaleJobThreshold.Seconds()))
	stale, err := e.jobs.FindStaleRunningJobs(ctx, threshold)
	if err != nil {
		return 0, err
	}
	for _, job := range stale {
		if err := e.coerceStale(ctx, job.ID); err != nil {
			e.logger.Printf("sweep: coerce %s failed: %v", job.ID, err)
			continue
		}
	}
	return len(stale), nil
}

func (e *Executor) isStale(job domain.Job) bool {
	if job.Status != domain.JobRunning {
		return false
	}
	return time.Since(job.UpdatedAt) > e.Config.StaleJobThreshold
}

func (e *Executor) coerceStale(ctx context.Context, jobID uuid.UUID) error {
	return e.jobs.CoerceStaleToFailed(ctx, jobID)
}

// run is the FSM loop: StartJob, then walk the step array from the job's
// current_step_index to completion, cancellation, or failure.
func (e *Executor) run(ctx context.Context, jobID uuid.UUID) {
	if err := e.jobs.StartJob(ctx, jobID); err != nil {
		e.logger.Printf("job %s: start failed: %v", jobID, err)
		return
	}
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Printf("job %s: reload after start failed: %v", jobID, err)
		return
	}

	payload, err := DecodeResumePayload(job.ResumeData)
	if err != nil {
		e.logger.Printf("job %s: corrupt resume payload: %v", jobID, err)
		return
	}

	topic := topicFor(job)

	for i := job.CurrentStepIndex; i < TotalSteps; i++ {
		step, _ := StepByIndex(i)

		if e.Cancels.IsCancelled(jobID) {
			e.finishCancelled(ctx, job)
			return
		}

		e.Bus.Publish(topic, bus.Event{Type: bus.EventStatus, Payload: map[string]interface{}{
			"step": step.String(), "step_index": i, "total_steps": TotalSteps,
			"message": fmt.Sprintf("running %s", step),
		}})
		if err := e.Checkpoints.SaveStepStart(ctx, jobID, step); err != nil {
			e.logger.Printf("job %s: save step start failed: %v", jobID, err)
			return
		}

		sc := &stepContext{ctx: ctx, exec: e, job: job, step: step, payload: &payload, topic: topic}
		docsDelta, embDelta, err := e.dispatch(step, sc)

		if err != nil {
			if errs.IsCancelled(err) {
				e.finishCancelled(ctx, job)
				return
			}
			e.finishFailed(ctx, job, step, err)
			return
		}

		job.DocumentsProcessed += docsDelta
		job.EmbeddingsCreated += embDelta
		if err := e.Checkpoints.SaveStepSuccess(ctx, jobID, step, payload, job.DocumentsProcessed, job.EmbeddingsCreated); err != nil {
			e.logger.Printf("job %s: save step success failed: %v", jobID, err)
			return
		}
		e.Bus.Publish(topic, bus.Event{Type: bus.EventDetail, Payload: map[string]interface{}{
			"step": step.String(),
			"counters": map[string]int{
				"documents_processed": job.DocumentsProcessed,
				"embeddings_created":  job.EmbeddingsCreated,
			},
			"message": fmt.Sprintf("%s complete", step),
		}})
	}

	if err := e.jobs.CompleteJob(ctx, jobID, TotalSteps); err != nil {
		e.logger.Printf("job %s: complete failed: %v", jobID, err)
		return
	}
	e.Bus.Publish(topic, bus.Event{Type: bus.EventCompleted, Payload: map[string]string{"message": "job completed"}})
	e.Bus.Close(topic, bus.ReasonCompleted)
	e.Cancels.Forget(jobID)
}

func (e *Executor) finishCancelled(ctx context.Context, job domain.Job) {
	if _, err := e.jobs.CancelJob(ctx, job.ID); err != nil {
		e.logger.Printf("job %s: cancel on check failed: %v", job.ID, err)
	}
	topic := topicFor(job)
	e.Bus.Publish(topic, bus.Event{Type: bus.EventCancelled, Payload: map[string]string{"message": "job cancelled"}})
	e.Bus.Close(topic, bus.ReasonCancelled)
}

func (e *Executor) finishFailed(ctx context.Context, job domain.Job, step Step, stepErr error) {
	canResume := classifyStepFailure(step, stepErr)
	retryExceeded := job.RetryCount > e.Config.MaxRetries
	if err := e.Checkpoints.SaveStepFailure(ctx, job.ID, step, stepErr.Error(), canResume); err != nil {
		e.logger.Printf("job %s: save step failure failed: %v", job.ID, err)
	}
	topic := topicFor(job)
	if retryExceeded {
		e.Bus.Publish(topic, bus.Event{Type: bus.EventDetail, Payload: map[string]interface{}{
			"step": step.String(), "message": "retry_count exceeds max_retries; resuming anyway",
		}})
	}
	e.Bus.Publish(topic, bus.Event{Type: bus.EventError, Payload: map[string]string{
		"step": step.String(), "message": stepErr.Error(),
	}})
	e.Bus.Close(topic, bus.ReasonError)
}

// stepContext is the per-run argument bundle every step function receives,
// the typed `(input_slice, output_slice) = run(context, resume_payload)`
// signature from spec.md §9, made concrete for Go.
type stepContext struct {
	ctx     context.Context
	exec    *Executor
	job     domain.Job
	step    Step
	payload *ResumePayload
	topic   string
}

func (sc *stepContext) progress(message string) {
	sc.exec.Bus.Publish(sc.topic, bus.Event{Type: bus.EventProgress, Payload: map[string]interface{}{
		"step": sc.step.String(), "message": message,
	}})
}

func (sc *stepContext) cancelled() bool {
	return sc.exec.Cancels.IsCancelled(sc.job.ID)
}

func (e *Executor) dispatch(step Step, sc *stepContext) (documentsDelta, embeddingsDelta int, err error) {
	switch step {
	case StepValidateURL:
		return runValidateURL(sc)
	case StepScrapePage:
		return runScrapePage(sc)
	case StepDownloadPDFs:
		return runDownloadPDFs(sc)
	case StepUploadToCloud:
		return runUploadToCloud(sc)
	case StepExtractText:
		return runExtractText(sc)
	case StepExtractData:
		return runExtractData(sc)
	case StepCreateEmbeddings:
		return runCreateEmbeddings(sc)
	case StepGenerateSnapshot:
		return runGenerateSnapshot(sc)
	default:
		return 0, 0, fmt.Errorf("unknown step %v", step)
	}
}

func shortJobID() string {
	id := uuid.New()
	return id.String()[:8]
}
