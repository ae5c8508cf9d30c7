package executor

import (
	"context"

	"github.com/google/uuid"
)

// CheckpointManager persists job progress to support resume semantics,
// adapted from the teacher's executor.CheckpointManager but narrowed to
// this domain's linear step chain: there is no per-task attempt counter,
// only a per-step start/success/failure against one job row.
type CheckpointManager interface {
	// SaveStepStart records that stepIndex has begun, bumping the job's
	// updated_at so staleness recovery has a live heartbeat to compare.
	SaveStepStart(ctx context.Context, jobID uuid.UUID, step Step) error

	// SaveStepSuccess commits a step's outputs atomically: the updated
	// resume payload, the new last_successful_step, and the counters.
	SaveStepSuccess(ctx context.Context, jobID uuid.UUID, step Step, payload ResumePayload, documentsProcessed, embeddingsCreated int) error

	// SaveStepFailure marks the job failed at step with message, setting
	// can_resume per the fatal/resumable classification (§7).
	SaveStepFailure(ctx context.Context, jobID uuid.UUID, step Step, message string, canResume bool) error
}

// jobStore is the subset of store.Store the checkpoint manager needs,
// kept narrow so tests can fake it without wiring a full *store.Store —
// the same narrowing the teacher applies with its checkpointStore interface.
type jobStore interface {
	SaveStepStart(ctx context.Context, id uuid.UUID, stepName string, stepIndex int) error
	SaveStepSuccess(ctx context.Context, id uuid.UUID, stepName string, nextStepIndex int, resumeData []byte, documentsProcessed, embeddingsCreated int) error
	SaveStepFailure(ctx context.Context, id uuid.UUID, stepName, message string, canResume bool) error
}

// StoreCheckpointManager backs CheckpointManager with a Store, adapted
// from the teacher's StoreCheckpointManager.
type StoreCheckpointManager struct {
	store jobStore
}

// NewStoreCheckpointManager constructs a CheckpointManager over st.
func NewStoreCheckpointManager(st jobStore) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st}
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)

func (m *StoreCheckpointManager) SaveStepStart(ctx context.Context, jobID uuid.UUID, step Step) error {
	return m.store.SaveStepStart(ctx, jobID, step.String(), int(step))
}

func (m *StoreCheckpointManager) SaveStepSuccess(ctx context.Context, jobID uuid.UUID, step Step, payload ResumePayload, documentsProcessed, embeddingsCreated int) error {
	encoded, err := payload.Encode()
	if err != nil {
		return err
	}
	return m.store.SaveStepSuccess(ctx, jobID, step.String(), int(step)+1, encoded, documentsProcessed, embeddingsCreated)
}

func (m *StoreCheckpointManager) SaveStepFailure(ctx context.Context, jobID uuid.UUID, step Step, message string, canResume bool) error {
	return m.store.SaveStepFailure(ctx, jobID, step.String(), message, canResume)
}
