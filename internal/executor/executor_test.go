package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

// fakeJobs is an in-memory jobQueries double. It never touches a database,
// so run()'s loop must be kept empty (CurrentStepIndex == TotalSteps) in
// any test that lets the Executor's background goroutine actually execute,
// since dispatch() would otherwise reach the nil *store.Store field.
type fakeJobs struct {
	mu sync.Mutex

	jobs map[uuid.UUID]domain.Job

	staleJobs []domain.Job

	completeCalls  []uuid.UUID
	cancelCalls    []uuid.UUID
	coerceCalls    []uuid.UUID
	retryIncrement map[uuid.UUID]int
	cancelResult   bool
	cancelErr      error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]domain.Job), retryIncrement: make(map[uuid.UUID]int), cancelResult: true}
}

func (f *fakeJobs) put(j domain.Job) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return j
}

func (f *fakeJobs) AcquireJobSlot(ctx context.Context, projectID uuid.UUID, shortID string) (domain.Job, error) {
	return f.put(domain.Job{
		ID: uuid.New(), ProjectID: projectID, ShortID: shortID,
		Status: domain.JobPending, CurrentStepIndex: TotalSteps, UpdatedAt: time.Now(),
	}), nil
}

func (f *fakeJobs) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, errs.NotFoundf("job %s not found", id)
	}
	return j, nil
}

func (f *fakeJobs) GetActiveJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ProjectID == projectID && j.Status == domain.JobRunning {
			return j, nil
		}
	}
	return domain.Job{}, errs.NotFoundf("no active job for project %s", projectID)
}

func (f *fakeJobs) GetLatestJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ProjectID == projectID {
			return j, nil
		}
	}
	return domain.Job{}, errs.NotFoundf("no job for project %s", projectID)
}

func (f *fakeJobs) FindStaleRunningJobs(ctx context.Context, threshold store.StaleInterval) ([]domain.Job, error) {
	return f.staleJobs, nil
}

func (f *fakeJobs) StartJob(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = domain.JobRunning
	f.jobs[id] = j
	return nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, id uuid.UUID, totalSteps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, id)
	j := f.jobs[id]
	j.Status = domain.JobCompleted
	f.jobs[id] = j
	return nil
}

func (f *fakeJobs) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, id)
	return f.cancelResult, f.cancelErr
}

func (f *fakeJobs) CoerceStaleToFailed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coerceCalls = append(f.coerceCalls, id)
	j := f.jobs[id]
	j.Status = domain.JobFailed
	j.CanResume = true
	f.jobs[id] = j
	return nil
}

func (f *fakeJobs) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryIncrement[id]++
	j := f.jobs[id]
	j.RetryCount++
	f.jobs[id] = j
	return j.RetryCount, nil
}

var _ jobQueries = (*fakeJobs)(nil)

type fakeCheckpoints struct {
	mu     sync.Mutex
	starts []Step
}

func (f *fakeCheckpoints) SaveStepStart(ctx context.Context, jobID uuid.UUID, step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, step)
	return nil
}

func (f *fakeCheckpoints) SaveStepSuccess(ctx context.Context, jobID uuid.UUID, step Step, payload ResumePayload, documentsProcessed, embeddingsCreated int) error {
	return nil
}

func (f *fakeCheckpoints) SaveStepFailure(ctx context.Context, jobID uuid.UUID, step Step, message string, canResume bool) error {
	return nil
}

var _ CheckpointManager = (*fakeCheckpoints)(nil)

func newTestExecutor(jobs *fakeJobs) *Executor {
	return &Executor{
		Bus:         bus.New(),
		Checkpoints: &fakeCheckpoints{},
		Cancels:     NewCancelRegistry(),
		Config:      Config{StaleJobThreshold: 5 * time.Minute, MaxRetries: 3},
		jobs:        jobs,
	}
}

func waitForEvent(t *testing.T, ch <-chan bus.Event, want bus.EventType) bus.Event {
	t.Helper()
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestRunDrivesAnAlreadyCompleteStepChainToCompletion(t *testing.T) {
	// CurrentStepIndex is seeded at TotalSteps, so run()'s loop body never
	// executes and dispatch() never touches the (nil, in this test) Store.
	// run is invoked synchronously, not via Start's goroutine, so the test
	// subscribes before any event is published — no race to win.
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	job := jobs.put(domain.Job{ID: uuid.New(), Status: domain.JobPending, CurrentStepIndex: TotalSteps})

	sub, unsubscribe := exec.Bus.Subscribe(job.ID.String(), nil)
	defer unsubscribe()

	exec.run(context.Background(), job.ID)

	waitForEvent(t, sub, bus.EventConnected)
	waitForEvent(t, sub, bus.EventCompleted)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Contains(t, jobs.completeCalls, job.ID)
	assert.False(t, exec.Cancels.IsCancelled(job.ID))
}

func TestStartSpawnsRunAndReturnsTheAcquiredJobImmediately(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)

	job, err := exec.Start(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, TotalSteps, job.CurrentStepIndex)

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		for _, id := range jobs.completeCalls {
			if id == job.ID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelPublishesCancelledAndClosesStream(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	jobID := uuid.New()
	jobs.put(domain.Job{ID: jobID, Status: domain.JobRunning})

	sub, unsubscribe := exec.Bus.Subscribe(jobID.String(), nil)
	defer unsubscribe()
	waitForEvent(t, sub, bus.EventConnected)

	changed, err := exec.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, exec.Cancels.IsCancelled(jobID))

	waitForEvent(t, sub, bus.EventCancelled)
	waitForEvent(t, sub, bus.EventStreamEnd)
}

func TestCancelIsIdempotentWhenStoreReportsNoChange(t *testing.T) {
	jobs := newFakeJobs()
	jobs.cancelResult = false
	exec := newTestExecutor(jobs)
	jobID := uuid.New()

	changed, err := exec.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestResumeRejectsAnAlreadyRunningNonStaleJob(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	projectID := uuid.New()
	jobs.put(domain.Job{ID: uuid.New(), ProjectID: projectID, Status: domain.JobRunning, UpdatedAt: time.Now()})

	_, err := exec.Resume(context.Background(), projectID)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestResumeCoercesAStaleRunningJobThenResumes(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	projectID := uuid.New()
	jobID := uuid.New()
	jobs.put(domain.Job{
		ID: jobID, ProjectID: projectID, Status: domain.JobRunning,
		CurrentStepIndex: TotalSteps, UpdatedAt: time.Now().Add(-10 * time.Minute),
	})

	job, err := exec.Resume(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)

	jobs.mu.Lock()
	assert.Contains(t, jobs.coerceCalls, jobID)
	assert.Equal(t, 1, jobs.retryIncrement[jobID])
	jobs.mu.Unlock()
}

func TestResumeRejectsAnAlreadyCompletedJob(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	projectID := uuid.New()
	jobs.put(domain.Job{ID: uuid.New(), ProjectID: projectID, Status: domain.JobCompleted})

	_, err := exec.Resume(context.Background(), projectID)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestResumeRejectsAFatallyFailedJob(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	projectID := uuid.New()
	jobs.put(domain.Job{ID: uuid.New(), ProjectID: projectID, Status: domain.JobFailed, CanResume: false})

	_, err := exec.Resume(context.Background(), projectID)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestResumeOfAResumableFailedJobClearsItsCancelFlag(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	projectID := uuid.New()
	jobID := uuid.New()
	jobs.put(domain.Job{
		ID: jobID, ProjectID: projectID, Status: domain.JobFailed,
		CanResume: true, CurrentStepIndex: TotalSteps,
	})
	exec.Cancels.Cancel(jobID) // simulate a stale flag left from a prior cancel

	_, err := exec.Resume(context.Background(), projectID)
	require.NoError(t, err)
	assert.False(t, exec.Cancels.IsCancelled(jobID))
}

func TestSweepStaleCoercesEveryStaleJobAndReportsCount(t *testing.T) {
	jobs := newFakeJobs()
	exec := newTestExecutor(jobs)
	j1, j2 := uuid.New(), uuid.New()
	jobs.put(domain.Job{ID: j1})
	jobs.put(domain.Job{ID: j2})
	jobs.staleJobs = []domain.Job{{ID: j1}, {ID: j2}}

	n, err := exec.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.ElementsMatch(t, []uuid.UUID{j1, j2}, jobs.coerceCalls)
}
