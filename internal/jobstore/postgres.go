package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, owner_id, dataset_id, name, job_type, base_model, hyperparams, trigger_words,
	status, worker_handle, error, progress_percent, current_step, total_steps, loss_history, samples,
	created_at, started_at, completed_at`

// Store keeps training jobs in the training_jobs table.
type Store struct {
	db DB
}

var _ training.JobStore = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, job *models.TrainingJob) (*models.TrainingJob, error) {
	trigger := job.TriggerWords
	if trigger == nil {
		trigger = []string{}
	}
	losses := job.LossHistory
	if losses == nil {
		losses = []models.LossSample{}
	}
	samples := job.Samples
	if samples == nil {
		samples = []models.ArtifactSample{}
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO training_jobs (id, owner_id, dataset_id, name, job_type, base_model, hyperparams, trigger_words,
			status, worker_handle, error, progress_percent, current_step, total_steps, loss_history, samples,
			created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING `+jobColumns,
		job.ID, job.OwnerID, job.DatasetID, job.Name, string(job.Type), job.BaseModel, job.Hyperparams, trigger,
		string(job.Status), job.WorkerHandle, job.Error, job.ProgressPercent, job.CurrentStep, job.TotalSteps,
		losses, samples, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	created, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert training job: %w", err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM training_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, training.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get training job: %w", err)
	}
	return job, nil
}

// Update applies patch in a single statement guarded on the row not being
// terminal. A zero row count is resolved into ErrJobNotFound or
// ErrJobImmutable.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch models.JobPatch) error {
	if patch.Empty() {
		return nil
	}

	query, args := buildUpdate(id, patch)
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update training job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM training_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check training job: %w", err)
	}
	if !exists {
		return training.ErrJobNotFound
	}
	return training.ErrJobImmutable
}

func buildUpdate(id uuid.UUID, p models.JobPatch) (string, []any) {
	var sets []string
	args := []any{id}
	argIdx := 2

	set := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.WorkerHandle != nil {
		set("worker_handle", *p.WorkerHandle)
	}
	if p.Error != nil {
		set("error", *p.Error)
	}
	if p.ProgressPercent != nil {
		set("progress_percent", *p.ProgressPercent)
	}
	if p.CurrentStep != nil {
		set("current_step", *p.CurrentStep)
	}
	if p.TotalSteps != nil {
		set("total_steps", *p.TotalSteps)
	}
	if p.LossHistory != nil {
		set("loss_history", p.LossHistory)
	}
	if p.Samples != nil {
		set("samples", p.Samples)
	}
	if p.StartedAt != nil {
		set("started_at", *p.StartedAt)
	}
	if p.CompletedAt != nil {
		set("completed_at", *p.CompletedAt)
	}

	query := fmt.Sprintf(`UPDATE training_jobs SET %s WHERE id = $1 AND status <> ALL($%d)`,
		strings.Join(sets, ", "), argIdx)
	args = append(args, statusStrings(models.TerminalStatuses))
	return query, args
}

func (s *Store) CountByStatus(ctx context.Context, ownerID uuid.UUID, statuses ...models.JobStatus) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM training_jobs WHERE owner_id = $1 AND status = ANY($2)`,
		ownerID, statusStrings(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count training jobs: %w", err)
	}
	return n, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.TrainingJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM training_jobs WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list training jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.TrainingJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM training_jobs WHERE status = ANY($1) ORDER BY created_at ASC`,
		statusStrings(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("list training jobs by status: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]models.TrainingJob, error) {
	defer rows.Close()

	var jobs []models.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*models.TrainingJob, error) {
	var (
		job     models.TrainingJob
		jobType string
		status  string
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.DatasetID, &job.Name, &jobType, &job.BaseModel, &job.Hyperparams,
		&job.TriggerWords, &status, &job.WorkerHandle, &job.Error, &job.ProgressPercent, &job.CurrentStep,
		&job.TotalSteps, &job.LossHistory, &job.Samples, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	return &job, nil
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
