package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

type TrainingService interface {
	Reconcile(ctx context.Context, jobID uuid.UUID) (*training.Snapshot, error)
	PromoteQueued(ctx context.Context, userID uuid.UUID) (int, error)
	RunningJobIDs(ctx context.Context) ([]uuid.UUID, error)
	QueuedOwners(ctx context.Context) ([]uuid.UUID, error)
}

type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, jobID uuid.UUID) error
	EnqueuePromote(ctx context.Context, userID uuid.UUID) error
}

// TrainingWorker drives the orchestrator from the task queue. Every task
// is a single idempotent pass; the periodic sweep keeps them coming.
type TrainingWorker struct {
	svc   TrainingService
	queue Enqueuer
}

func NewTrainingWorker(svc TrainingService, q Enqueuer) *TrainingWorker {
	return &TrainingWorker{svc: svc, queue: q}
}

func (w *TrainingWorker) Register(r *queue.HandlersRegistry) {
	r.RegisterFunc(queue.TypeTrainingReconcile, w.ProcessReconcile)
	r.RegisterFunc(queue.TypeTrainingPromote, w.ProcessPromote)
	r.RegisterFunc(queue.TypeTrainingSweep, w.ProcessSweep)
}

func (w *TrainingWorker) ProcessReconcile(ctx context.Context, t *asynq.Task) error {
	var payload queue.ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	snap, err := w.svc.Reconcile(ctx, payload.JobID)
	if errors.Is(err, training.ErrJobNotFound) {
		slog.Warn("reconcile for unknown job", "job_id", payload.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile job %s: %w", payload.JobID, err)
	}

	slog.Debug("reconciled training job", "job_id", payload.JobID, "status", snap.Status, "step", snap.CurrentStep)
	return nil
}

func (w *TrainingWorker) ProcessPromote(ctx context.Context, t *asynq.Task) error {
	var payload queue.PromotePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := w.svc.PromoteQueued(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("promote queued jobs for %s: %w", payload.UserID, err)
	}
	if n > 0 {
		slog.Info("promoted queued jobs", "user_id", payload.UserID, "count", n)
	}
	return nil
}

// ProcessSweep fans out one reconcile per running job and one promotion per
// user with queued work.
func (w *TrainingWorker) ProcessSweep(ctx context.Context, _ *asynq.Task) error {
	running, err := w.svc.RunningJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	owners, err := w.svc.QueuedOwners(ctx)
	if err != nil {
		return fmt.Errorf("list queued owners: %w", err)
	}

	var errs []error
	for _, id := range running {
		if err := w.queue.EnqueueReconcile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, owner := range owners {
		if err := w.queue.EnqueuePromote(ctx, owner); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("training sweep", "running", len(running), "queued_owners", len(owners), "enqueue_errors", len(errs))
	return errors.Join(errs...)
}
