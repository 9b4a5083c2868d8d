package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

// Service is the training orchestrator. It holds no job state of its own;
// every operation reads and writes the JobStore.
type Service struct {
	jobs         JobStore
	datasets     DatasetGateway
	backend      WorkerBackend
	materializer *Materializer
	admission    *AdmissionController
	locker       Locker
	notifier     Notifier
	now          func() time.Time

	// pendingTimeout is how long a job may sit in pending before a
	// promotion pass assumes its start was interrupted and retries it.
	pendingTimeout time.Duration
}

const defaultPendingTimeout = 10 * time.Minute

type Option func(*Service)

// WithLocker serializes reconcile and promote passes across processes.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPendingTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pendingTimeout = d
		}
	}
}

func NewService(jobs JobStore, datasets DatasetGateway, artifacts ArtifactStore, backend WorkerBackend, maxActive int, opts ...Option) *Service {
	s := &Service{
		jobs:         jobs,
		datasets:     datasets,
		backend:      backend,
		materializer: NewMaterializer(artifacts),
		admission:    NewAdmissionController(jobs, maxActive),
		notifier:     Notifiers(nil),
		now:          time.Now,

		pendingTimeout: defaultPendingTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmitResult struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Error  *string          `json:"error,omitempty"`
}

// Submit validates the request, checks dataset ownership, admits or queues
// the job and, when admitted, materializes its config and launches a worker.
// Request problems are returned as errors and no job is created; failures
// after the job exists are recorded on the job instead.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if problems := Validate(req); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	ds, err := s.ownedDataset(ctx, req.DatasetID, req.UserID)
	if err != nil {
		return nil, err
	}

	decision, err := s.admission.Decide(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	status := models.JobStatusPending
	if decision == Queue {
		status = models.JobStatusQueued
	}

	triggerWords, _ := decodeTriggerWords(req.TriggerWords)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s-%s", req.Type, s.now().UTC().Format("20060102-150405"))
	}

	job, err := s.jobs.Create(ctx, &models.TrainingJob{
		ID:           uuid.New(),
		OwnerID:      req.UserID,
		DatasetID:    req.DatasetID,
		Name:         name,
		Type:         req.Type,
		BaseModel:    req.BaseModel,
		Hyperparams:  req.Hyperparams.hyperparameters(),
		TriggerWords: triggerWords,
		Status:       status,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	slog.Info("training job submitted", "job_id", job.ID, "user_id", job.OwnerID, "decision", decision.String())

	if decision == Admit {
		if err := s.start(ctx, job, ds); err != nil {
			return nil, s.requeue(ctx, job, err)
		}
	}

	return &SubmitResult{JobID: job.ID, Status: job.Status, Error: job.Error}, nil
}

func (s *Service) ownedDataset(ctx context.Context, datasetID, userID uuid.UUID) (*models.Dataset, error) {
	ds, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.OwnerID != userID {
		return nil, ErrDatasetForbidden
	}
	return ds, nil
}

// start moves a pending job to running, or to failed when the config cannot
// be materialized or the worker cannot be launched. job is updated in place.
// The returned error is reserved for the store itself failing; the job is
// then still pending and no worker is left behind for it.
func (s *Service) start(ctx context.Context, job *models.TrainingJob, ds *models.Dataset) error {
	m, err := s.materializer.Materialize(ctx, job, ds)
	if err != nil {
		return s.fail(ctx, job, err.Error())
	}

	handle, err := s.backend.Launch(ctx, m)
	if err != nil {
		return s.fail(ctx, job, err.Error())
	}

	running := models.JobStatusRunning
	now := s.now()
	patch := models.JobPatch{Status: &running, WorkerHandle: &handle, StartedAt: &now}
	if err := s.jobs.Update(ctx, job.ID, patch); err != nil {
		// Either cancelled while launching or not recorded at all; in both
		// cases the worker has no job to report to.
		if stopErr := s.backend.Stop(ctx, handle); stopErr != nil {
			slog.Warn("failed to stop orphaned worker", "job_id", job.ID, "handle", handle, "error", stopErr)
		}
		if errors.Is(err, ErrJobImmutable) {
			return s.reload(ctx, job)
		}
		return fmt.Errorf("mark job running: %w", err)
	}
	patch.Apply(job)

	slog.Info("training worker launched", "job_id", job.ID, "handle", handle)
	s.notifier.Notify(ctx, job)
	return nil
}

func (s *Service) fail(ctx context.Context, job *models.TrainingJob, msg string) error {
	failed := models.JobStatusFailed
	now := s.now()
	patch := models.JobPatch{Status: &failed, Error: &msg, CompletedAt: &now}
	if err := s.jobs.Update(ctx, job.ID, patch); err != nil {
		if errors.Is(err, ErrJobImmutable) {
			return s.reload(ctx, job)
		}
		return fmt.Errorf("mark job failed: %w", err)
	}
	patch.Apply(job)

	slog.Warn("training job failed to start", "job_id", job.ID, "error", msg)
	s.notifier.Notify(ctx, job)
	return nil
}

// requeue puts a job whose start was interrupted back in the queue so a
// later promotion pass retries it, and returns cause. If the store refuses
// that too, the job stays pending until it is old enough for
// PromoteQueued to pick it up.
func (s *Service) requeue(ctx context.Context, job *models.TrainingJob, cause error) error {
	queued := models.JobStatusQueued
	err := s.jobs.Update(ctx, job.ID, models.JobPatch{Status: &queued})
	switch {
	case err == nil:
		job.Status = queued
		slog.Warn("training job requeued", "job_id", job.ID, "error", cause)
	case errors.Is(err, ErrJobImmutable):
	default:
		slog.Error("failed to requeue job", "job_id", job.ID, "error", err, "cause", cause)
	}
	return cause
}

func (s *Service) stalePending(job *models.TrainingJob) bool {
	return job.Status == models.JobStatusPending && s.now().Sub(job.CreatedAt) >= s.pendingTimeout
}

func (s *Service) reload(ctx context.Context, job *models.TrainingJob) error {
	current, err := s.jobs.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	*job = *current
	return nil
}

// Get returns a job owned by userID. Jobs of other users are reported as
// not found.
func (s *Service) Get(ctx context.Context, jobID, userID uuid.UUID) (*models.TrainingJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.TrainingJob, error) {
	return s.jobs.ListByOwner(ctx, userID)
}

// Cancel marks a non-terminal job cancelled and asks the backend to tear the
// worker down. The record stops changing even if teardown fails.
func (s *Service) Cancel(ctx context.Context, jobID, userID uuid.UUID) (*models.TrainingJob, error) {
	job, err := s.Get(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	cancelled := models.JobStatusCancelled
	now := s.now()
	patch := models.JobPatch{Status: &cancelled, CompletedAt: &now}
	if err := s.jobs.Update(ctx, job.ID, patch); err != nil {
		if errors.Is(err, ErrJobImmutable) {
			return s.jobs.Get(ctx, job.ID)
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	patch.Apply(job)

	if job.WorkerHandle != nil {
		if err := s.backend.Stop(ctx, *job.WorkerHandle); err != nil {
			slog.Warn("failed to stop cancelled worker", "job_id", job.ID, "handle", *job.WorkerHandle, "error", err)
		}
	}

	slog.Info("training job cancelled", "job_id", job.ID, "user_id", userID)
	s.notifier.Notify(ctx, job)
	return job, nil
}

// PromoteQueued starts the user's oldest queued jobs while they have spare
// capacity and returns how many were started. Jobs left pending past the
// pending timeout by an interrupted start are retried first; they already
// hold a slot.
func (s *Service) PromoteQueued(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "promote:"+userID.String())
		if err != nil {
			return 0, fmt.Errorf("acquire promote lock: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer unlock()
	}

	candidates, err := s.jobs.ListByStatus(ctx, models.JobStatusPending, models.JobStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	promoted := 0
	for i := range candidates {
		job := &candidates[i]
		if job.OwnerID != userID || !s.stalePending(job) {
			continue
		}
		slog.Warn("retrying stalled pending job", "job_id", job.ID, "created_at", job.CreatedAt)
		started, err := s.startPending(ctx, job)
		if err != nil {
			return promoted, err
		}
		if started {
			promoted++
		}
	}

	for i := range candidates {
		job := &candidates[i]
		if job.OwnerID != userID || job.Status != models.JobStatusQueued {
			continue
		}

		ok, err := s.admission.HasCapacity(ctx, userID)
		if err != nil {
			return promoted, err
		}
		if !ok {
			break
		}

		pending := models.JobStatusPending
		if err := s.jobs.Update(ctx, job.ID, models.JobPatch{Status: &pending}); err != nil {
			if errors.Is(err, ErrJobImmutable) {
				continue
			}
			return promoted, fmt.Errorf("promote job %s: %w", job.ID, err)
		}
		job.Status = pending

		started, err := s.startPending(ctx, job)
		if err != nil {
			return promoted, err
		}
		if started {
			promoted++
		}
	}

	if promoted > 0 {
		slog.Info("queued training jobs promoted", "user_id", userID, "count", promoted)
	}
	return promoted, nil
}

// startPending resolves the dataset and starts a pending job. A missing or
// foreign dataset fails the job; any other error requeues it.
func (s *Service) startPending(ctx context.Context, job *models.TrainingJob) (bool, error) {
	ds, err := s.ownedDataset(ctx, job.DatasetID, job.OwnerID)
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) || errors.Is(err, ErrDatasetForbidden) {
			return false, s.fail(ctx, job, err.Error())
		}
		return false, s.requeue(ctx, job, fmt.Errorf("load dataset: %w", err))
	}

	if err := s.start(ctx, job, ds); err != nil {
		return false, s.requeue(ctx, job, err)
	}
	return true, nil
}

// QueuedOwners lists the users that currently have queued jobs or jobs
// stalled in pending.
func (s *Service) QueuedOwners(ctx context.Context) ([]uuid.UUID, error) {
	candidates, err := s.jobs.ListByStatus(ctx, models.JobStatusPending, models.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	var owners []uuid.UUID
	for i := range candidates {
		j := &candidates[i]
		if j.Status == models.JobStatusPending && !s.stalePending(j) {
			continue
		}
		if !seen[j.OwnerID] {
			seen[j.OwnerID] = true
			owners = append(owners, j.OwnerID)
		}
	}
	return owners, nil
}

// RunningJobIDs lists jobs a reconcile sweep should visit.
func (s *Service) RunningJobIDs(ctx context.Context) ([]uuid.UUID, error) {
	running, err := s.jobs.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(running))
	for _, j := range running {
		ids = append(ids, j.ID)
	}
	return ids, nil
}
