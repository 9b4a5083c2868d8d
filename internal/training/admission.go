package training

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

const DefaultMaxActiveJobs = 2

type Decision int

const (
	Admit Decision = iota
	Queue
)

func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "queue"
}

type jobCounter interface {
	CountByStatus(ctx context.Context, ownerID uuid.UUID, statuses ...models.JobStatus) (int, error)
}

// AdmissionController compares a user's active job count to a fixed
// ceiling. The count is read, not locked: two concurrent submissions may
// both be admitted, which is tolerated.
type AdmissionController struct {
	jobs    jobCounter
	ceiling int
}

func NewAdmissionController(jobs jobCounter, ceiling int) *AdmissionController {
	if ceiling <= 0 {
		ceiling = DefaultMaxActiveJobs
	}
	return &AdmissionController{jobs: jobs, ceiling: ceiling}
}

func (a *AdmissionController) Ceiling() int { return a.ceiling }

// Decide counts pending, queued and running jobs of the user.
func (a *AdmissionController) Decide(ctx context.Context, userID uuid.UUID) (Decision, error) {
	n, err := a.jobs.CountByStatus(ctx, userID, models.ActiveStatuses...)
	if err != nil {
		return Queue, fmt.Errorf("count active jobs: %w", err)
	}
	if n >= a.ceiling {
		return Queue, nil
	}
	return Admit, nil
}

// HasCapacity reports whether a queued job of the user may be promoted.
// Queued jobs are not counted here since they are the ones waiting.
func (a *AdmissionController) HasCapacity(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := a.jobs.CountByStatus(ctx, userID, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("count running jobs: %w", err)
	}
	return n < a.ceiling, nil
}
