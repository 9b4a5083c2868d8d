package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

type execRecorder struct {
	sql  string
	args []any
	err  error
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestRecord(t *testing.T) {
	db := &execRecorder{}
	msg := "OOM"
	job := &models.TrainingJob{
		ID: uuid.New(), OwnerID: uuid.New(), Status: models.JobStatusFailed,
		ProgressPercent: 42.5, CurrentStep: 425, Error: &msg,
	}

	require.NoError(t, NewService(db).Record(context.Background(), job))
	assert.Contains(t, db.sql, "INSERT INTO training_job_events")
	assert.Equal(t, []any{job.ID, job.OwnerID, "failed", 42.5, 425, &msg}, db.args)
}

func TestNotifySwallowsErrors(t *testing.T) {
	db := &execRecorder{err: errors.New("connection reset")}
	assert.NotPanics(t, func() {
		NewService(db).Notify(context.Background(), &models.TrainingJob{ID: uuid.New()})
	})
}

func TestBuildQuery(t *testing.T) {
	owner, job := uuid.New(), uuid.New()
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	testCases := []struct {
		name      string
		q         Query
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "defaults",
			q:         Query{},
			wantWhere: "WHERE owner_id = $1 AND job_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
			wantArgs:  []any{owner, job, defaultLimit, 0},
		},
		{
			name:      "filters",
			q:         Query{Status: models.JobStatusRunning, Since: &since, Limit: 10, Offset: 20},
			wantWhere: "AND status = $3 AND created_at >= $4 ORDER BY created_at DESC, id DESC LIMIT $5 OFFSET $6",
			wantArgs:  []any{owner, job, "running", since, 10, 20},
		},
		{
			name:      "clamped",
			q:         Query{Limit: 10_000, Offset: -5},
			wantWhere: "LIMIT $3 OFFSET $4",
			wantArgs:  []any{owner, job, maxLimit, 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, args := buildQuery(owner, job, tc.q)
			assert.Contains(t, sql, tc.wantWhere)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}
