package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// AcquireJobSlot attempts to insert a new pending job for projectID. It
// relies on the partial unique index `(project_id) WHERE status IN
// ('pending','running')` to enforce invariant 1 (§3): a concurrent
// double-start surfaces as errs.Conflict, which callers treat as benign.
func (s *Store) AcquireJobSlot(ctx context.Context, projectID uuid.UUID, shortID string) (domain.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO jobs (id, project_id, short_id, status, current_step, current_step_index, can_resume, started_at, updated_at)
VALUES (gen_random_uuid(), $1, $2, $3, '', 0, true, now(), now())
RETURNING id, project_id, short_id, status, current_step, current_step_index, last_successful_step,
          failed_step, error_message, resume_data, can_resume, documents_processed, embeddings_created,
          retry_count, started_at, updated_at, completed_at, cancelled_at
`, projectID, shortID, domain.JobPending)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, translate(err, "")
	}
	return job, nil
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var j domain.Job
	var lastStep, failedStep, errMsg sql.NullString
	var resumeData []byte
	var completedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&j.ID, &j.ProjectID, &j.ShortID, &j.Status, &j.CurrentStep, &j.CurrentStepIndex,
		&lastStep, &failedStep, &errMsg, &resumeData, &j.CanResume,
		&j.DocumentsProcessed, &j.EmbeddingsCreated, &j.RetryCount,
		&j.StartedAt, &j.UpdatedAt, &completedAt, &cancelledAt,
	); err != nil {
		return domain.Job{}, err
	}
	j.LastSuccessfulStep, j.FailedStep, j.ErrorMessage = lastStep.String, failedStep.String, errMsg.String
	j.ResumeData = resumeData
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		j.CancelledAt = &t
	}
	return j, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, project_id, short_id, status, current_step, current_step_index, last_successful_step,
       failed_step, error_message, resume_data, can_resume, documents_processed, embeddings_created,
       retry_count, started_at, updated_at, completed_at, cancelled_at
FROM jobs WHERE id = $1
`, id)
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, translate(err, "job not found")
	}
	return j, nil
}

// GetActiveJobByProject returns the job in {pending, running} for a
// project, if any (invariant 1 guarantees at most one).
func (s *Store) GetActiveJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, project_id, short_id, status, current_step, current_step_index, last_successful_step,
       failed_step, error_message, resume_data, can_resume, documents_processed, embeddings_created,
       retry_count, started_at, updated_at, completed_at, cancelled_at
FROM jobs WHERE project_id = $1 AND status IN ('pending', 'running')
`, projectID)
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, translate(err, "no active job")
	}
	return j, nil
}

// GetLatestJobByProject returns the most recently started job for a
// project regardless of status, used by GET /projects/{id} summaries.
func (s *Store) GetLatestJobByProject(ctx context.Context, projectID uuid.UUID) (domain.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, project_id, short_id, status, current_step, current_step_index, last_successful_step,
       failed_step, error_message, resume_data, can_resume, documents_processed, embeddings_created,
       retry_count, started_at, updated_at, completed_at, cancelled_at
FROM jobs WHERE project_id = $1 ORDER BY started_at DESC LIMIT 1
`, projectID)
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, translate(err, "no job for project")
	}
	return j, nil
}

// FindStaleRunningJobs returns every job in status=running whose
// updated_at predates the staleness threshold (§4.3's crash-recovery rule).
func (s *Store) FindStaleRunningJobs(ctx context.Context, threshold StaleInterval) ([]domain.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, short_id, status, current_step, current_step_index, last_successful_step,
       failed_step, error_message, resume_data, can_resume, documents_processed, embeddings_created,
       retry_count, started_at, updated_at, completed_at, cancelled_at
FROM jobs WHERE status = 'running' AND updated_at < now() - $1::interval
`, threshold.String())
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var j domain.Job
		var lastStep, failedStep, errMsg sql.NullString
		var resumeData []byte
		var completedAt, cancelledAt sql.NullTime
		if err := rows.Scan(
			&j.ID, &j.ProjectID, &j.ShortID, &j.Status, &j.CurrentStep, &j.CurrentStepIndex,
			&lastStep, &failedStep, &errMsg, &resumeData, &j.CanResume,
			&j.DocumentsProcessed, &j.EmbeddingsCreated, &j.RetryCount,
			&j.StartedAt, &j.UpdatedAt, &completedAt, &cancelledAt,
		); err != nil {
			return nil, translate(err, "")
		}
		j.LastSuccessfulStep, j.FailedStep, j.ErrorMessage = lastStep.String, failedStep.String, errMsg.String
		j.ResumeData = resumeData
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		if cancelledAt.Valid {
			t := cancelledAt.Time
			j.CancelledAt = &t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// StaleInterval renders as a Postgres interval literal, e.g. "300 seconds".
type StaleInterval struct{ seconds int64 }

func (d StaleInterval) String() string { return strconv.FormatInt(d.seconds, 10) + " seconds" }

// NewStaleInterval exposes StaleInterval construction to callers outside the package.
func NewStaleInterval(seconds int64) StaleInterval { return StaleInterval{seconds: seconds} }

// StartJob transitions a pending, failed or cancelled job to running (the
// latter two when a job is resumed).
func (s *Store) StartJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1 AND status IN ('pending', 'failed', 'cancelled')
`, id, domain.JobRunning)
	return checkUpdated(res, err)
}

// SaveStepStart records a `status` checkpoint: current step name/index and a bump of updated_at.
func (s *Store) SaveStepStart(ctx context.Context, id uuid.UUID, stepName string, stepIndex int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET current_step = $2, current_step_index = $3, updated_at = now() WHERE id = $1
`, id, stepName, stepIndex)
	return translate(err, "")
}

// SaveStepSuccess persists a step's committed outputs atomically: the new
// resume payload, the last_successful_step marker, and the advanced step
// index, per §4.3's commit discipline.
func (s *Store) SaveStepSuccess(ctx context.Context, id uuid.UUID, stepName string, nextStepIndex int, resumeData []byte, documentsProcessed, embeddingsCreated int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs
SET last_successful_step = $2,
    current_step_index = $3,
    resume_data = $4,
    documents_processed = $5,
    embeddings_created = $6,
    updated_at = now()
WHERE id = $1
`, id, stepName, nextStepIndex, resumeData, documentsProcessed, embeddingsCreated)
	return translate(err, "")
}

// SaveStepFailure marks the job failed at stepName with message, setting
// can_resume per the fatal/resumable classification (§7).
func (s *Store) SaveStepFailure(ctx context.Context, id uuid.UUID, stepName, message string, canResume bool) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs
SET status = $2, failed_step = $3, error_message = $4, can_resume = $5, updated_at = now()
WHERE id = $1
`, id, domain.JobFailed, stepName, message, canResume)
	return translate(err, "")
}

// CompleteJob transitions a job to completed with current_step_index = total_steps.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, totalSteps int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status = $2, current_step_index = $3, completed_at = now(), updated_at = now()
WHERE id = $1
`, id, domain.JobCompleted, totalSteps)
	return translate(err, "")
}

// CancelJob transitions an active job to cancelled. Idempotent: cancelling
// an already-cancelled job is a no-op success (satisfies cancel-idempotence).
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status = $2, cancelled_at = now(), can_resume = true, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'running')
`, id, domain.JobCancelled)
	if err != nil {
		return false, translate(err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "")
	}
	return n > 0, nil
}

// CoerceStaleToFailed marks a stale running job failed at its current step,
// per §4.3's staleness recovery rule, prior to a normal resume.
func (s *Store) CoerceStaleToFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status = $2, failed_step = current_step, can_resume = true, updated_at = now()
WHERE id = $1 AND status = 'running'
`, id, domain.JobFailed)
	return translate(err, "")
}

// IncrementRetryCount bumps retry_count, called on every Resume.
func (s *Store) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
UPDATE jobs SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1
RETURNING retry_count
`, id).Scan(&n)
	return n, translate(err, "")
}

func checkUpdated(res sql.Result, err error) error {
	if err != nil {
		return translate(err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, "")
	}
	if n == 0 {
		return errs.Conflictf("job not in an updatable state")
	}
	return nil
}
