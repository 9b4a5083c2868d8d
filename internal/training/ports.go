package training

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

// JobStore is the durable record of training jobs. Implementations must
// apply each Update atomically per row and must refuse updates to jobs that
// already reached a terminal status with ErrJobImmutable.
type JobStore interface {
	Create(ctx context.Context, job *models.TrainingJob) (*models.TrainingJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
	Update(ctx context.Context, id uuid.UUID, patch models.JobPatch) error
	CountByStatus(ctx context.Context, ownerID uuid.UUID, statuses ...models.JobStatus) (int, error)
	// ListByOwner returns the owner's jobs, newest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.TrainingJob, error)
	// ListByStatus returns jobs of every owner in the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.TrainingJob, error)
}

type DatasetGateway interface {
	GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
}

// ArtifactStore owns the per-job config artifact and output area.
type ArtifactStore interface {
	WriteConfig(ctx context.Context, jobID uuid.UUID, cfg WorkerConfig) (string, error)
	MkdirOutput(ctx context.Context, jobID uuid.UUID) (string, error)
}

type WorkerState string

const (
	WorkerRunning     WorkerState = "running"
	WorkerExited      WorkerState = "exited"
	WorkerUnreachable WorkerState = "unreachable"
)

// WorkerBackend launches and observes isolated training workers. Every call
// is a single attempt; callers decide whether and when to try again.
type WorkerBackend interface {
	Launch(ctx context.Context, m *Materialized) (string, error)
	Probe(ctx context.Context, handle string) (WorkerState, error)
	FetchLog(ctx context.Context, handle string) (string, error)
	Stop(ctx context.Context, handle string) error
}

// Locker serializes work on a key across processes. ok is false when the
// key is held by someone else.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// Notifier is told about every status transition the service performs.
type Notifier interface {
	Notify(ctx context.Context, job *models.TrainingJob)
}

// Notifiers fans a transition out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, job *models.TrainingJob) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, job)
		}
	}
}
