package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

type fakeService struct {
	reconciled   []uuid.UUID
	reconcileErr error
	promoted     []uuid.UUID
	promoteN     int
	running      []uuid.UUID
	owners       []uuid.UUID
}

func (f *fakeService) Reconcile(_ context.Context, id uuid.UUID) (*training.Snapshot, error) {
	f.reconciled = append(f.reconciled, id)
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return &training.Snapshot{TrainingJob: &models.TrainingJob{ID: id, Status: models.JobStatusRunning}}, nil
}

func (f *fakeService) PromoteQueued(_ context.Context, user uuid.UUID) (int, error) {
	f.promoted = append(f.promoted, user)
	return f.promoteN, nil
}

func (f *fakeService) RunningJobIDs(context.Context) ([]uuid.UUID, error) { return f.running, nil }

func (f *fakeService) QueuedOwners(context.Context) ([]uuid.UUID, error) { return f.owners, nil }

type fakeQueue struct {
	reconcile []uuid.UUID
	promote   []uuid.UUID
	err       error
}

func (f *fakeQueue) EnqueueReconcile(_ context.Context, id uuid.UUID) error {
	f.reconcile = append(f.reconcile, id)
	return f.err
}

func (f *fakeQueue) EnqueuePromote(_ context.Context, id uuid.UUID) error {
	f.promote = append(f.promote, id)
	return f.err
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, data)
}

func TestProcessReconcile(t *testing.T) {
	svc := &fakeService{}
	w := NewTrainingWorker(svc, &fakeQueue{})
	id := uuid.New()

	require.NoError(t, w.ProcessReconcile(context.Background(), task(t, queue.TypeTrainingReconcile, queue.ReconcilePayload{JobID: id})))
	assert.Equal(t, []uuid.UUID{id}, svc.reconciled)

	svc.reconcileErr = training.ErrJobNotFound
	assert.NoError(t, w.ProcessReconcile(context.Background(), task(t, queue.TypeTrainingReconcile, queue.ReconcilePayload{JobID: id})))

	svc.reconcileErr = errors.New("store down")
	assert.Error(t, w.ProcessReconcile(context.Background(), task(t, queue.TypeTrainingReconcile, queue.ReconcilePayload{JobID: id})))
}

func TestProcessReconcileBadPayloadSkipsRetry(t *testing.T) {
	w := NewTrainingWorker(&fakeService{}, &fakeQueue{})
	err := w.ProcessReconcile(context.Background(), asynq.NewTask(queue.TypeTrainingReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessPromote(t *testing.T) {
	svc := &fakeService{promoteN: 1}
	w := NewTrainingWorker(svc, &fakeQueue{})
	user := uuid.New()

	require.NoError(t, w.ProcessPromote(context.Background(), task(t, queue.TypeTrainingPromote, queue.PromotePayload{UserID: user})))
	assert.Equal(t, []uuid.UUID{user}, svc.promoted)
}

func TestProcessSweepFansOut(t *testing.T) {
	svc := &fakeService{
		running: []uuid.UUID{uuid.New(), uuid.New()},
		owners:  []uuid.UUID{uuid.New()},
	}
	q := &fakeQueue{}
	w := NewTrainingWorker(svc, q)

	require.NoError(t, w.ProcessSweep(context.Background(), asynq.NewTask(queue.TypeTrainingSweep, nil)))
	assert.Equal(t, svc.running, q.reconcile)
	assert.Equal(t, svc.owners, q.promote)

	q.err = errors.New("redis down")
	err := w.ProcessSweep(context.Background(), asynq.NewTask(queue.TypeTrainingSweep, nil))
	assert.Error(t, err)
	assert.Len(t, q.reconcile, 4)
}

func TestRegisterRoutesTrainingTasks(t *testing.T) {
	r := queue.NewHandlersRegistry()
	NewTrainingWorker(&fakeService{}, &fakeQueue{}).Register(r)

	for _, typ := range []string{queue.TypeTrainingReconcile, queue.TypeTrainingPromote, queue.TypeTrainingSweep} {
		_, pattern := r.Mux().Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
}
