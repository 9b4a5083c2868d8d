// Package audit keeps the per-job history of status transitions.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Service struct {
	db DB
}

var _ training.Notifier = (*Service)(nil)

func NewService(db DB) *Service {
	return &Service{db: db}
}

// Notify appends the job's current status to its history. Failures are
// logged; the transition itself has already been persisted.
func (s *Service) Notify(ctx context.Context, job *models.TrainingJob) {
	if err := s.Record(ctx, job); err != nil {
		slog.Error("record job event", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (s *Service) Record(ctx context.Context, job *models.TrainingJob) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO training_job_events (job_id, owner_id, status, progress_percent, current_step, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.OwnerID, string(job.Status), job.ProgressPercent, job.CurrentStep, job.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

type Query struct {
	Status models.JobStatus
	Since  *time.Time
	Limit  int
	Offset int
}

func buildQuery(ownerID, jobID uuid.UUID, q Query) (string, []any) {
	query := `SELECT id, job_id, owner_id, status, progress_percent, current_step, error, created_at
			  FROM training_job_events WHERE owner_id = $1 AND job_id = $2`
	args := []any{ownerID, jobID}
	argIdx := 3

	if q.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(q.Status))
		argIdx++
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.Since)
		argIdx++
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}
	offset := max(q.Offset, 0)

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)
	return query, args
}

// List returns the newest events first.
func (s *Service) List(ctx context.Context, ownerID, jobID uuid.UUID, q Query) ([]models.JobEvent, error) {
	query, args := buildQuery(ownerID, jobID, q)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		var (
			e      models.JobEvent
			status string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.OwnerID, &status, &e.ProgressPercent, &e.CurrentStep, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Status = models.JobStatus(status)
		events = append(events, e)
	}
	return events, rows.Err()
}
