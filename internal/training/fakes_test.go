package training

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]models.TrainingJob
	updates int
	failGet bool

	// beforeUpdate runs once, under the lock, ahead of the next Update. It
	// may change the stored job or fail the update.
	beforeUpdate func(j *models.TrainingJob) error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]models.TrainingJob)}
}

func (m *memStore) Create(_ context.Context, job *models.TrainingJob) (*models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	out := *job
	return &out, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("store down")
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (m *memStore) Update(_ context.Context, id uuid.UUID, patch models.JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		err := hook(&j)
		m.jobs[id] = j
		if err != nil {
			return err
		}
	}
	if j.Status.Terminal() {
		return ErrJobImmutable
	}
	patch.Apply(&j)
	m.jobs[id] = j
	m.updates++
	return nil
}

func (m *memStore) CountByStatus(_ context.Context, ownerID uuid.UUID, statuses ...models.JobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.OwnerID != ownerID {
			continue
		}
		for _, s := range statuses {
			if j.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memStore) list(filter func(models.TrainingJob) bool) []models.TrainingJob {
	var out []models.TrainingJob
	for _, j := range m.jobs {
		if filter(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (m *memStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.list(func(j models.TrainingJob) bool { return j.OwnerID == ownerID })
	for a, b := 0, len(out)-1; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out, nil
}

func (m *memStore) ListByStatus(_ context.Context, statuses ...models.JobStatus) ([]models.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(j models.TrainingJob) bool {
		for _, s := range statuses {
			if j.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *memStore) onNextUpdate(hook func(j *models.TrainingJob) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeUpdate = hook
}

// cancelBeforeNextUpdate simulates a cancel landing between a read and the
// following write.
func (m *memStore) cancelBeforeNextUpdate() {
	m.onNextUpdate(func(j *models.TrainingJob) error {
		j.Status = models.JobStatusCancelled
		return nil
	})
}

// put inserts a job directly, bypassing Submit.
func (m *memStore) put(j models.TrainingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

func (m *memStore) get(id uuid.UUID) models.TrainingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

type fakeDatasets map[uuid.UUID]models.Dataset

func (f fakeDatasets) GetDataset(_ context.Context, id uuid.UUID) (*models.Dataset, error) {
	ds, ok := f[id]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return &ds, nil
}

// flakyDatasets fails every lookup with err while it is set.
type flakyDatasets struct {
	fakeDatasets
	err error
}

func (f *flakyDatasets) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fakeDatasets.GetDataset(ctx, id)
}

type fakeArtifacts struct {
	configErr error
	outputErr error
	written   map[uuid.UUID]WorkerConfig
}

func (f *fakeArtifacts) WriteConfig(_ context.Context, jobID uuid.UUID, cfg WorkerConfig) (string, error) {
	if f.configErr != nil {
		return "", f.configErr
	}
	if f.written == nil {
		f.written = make(map[uuid.UUID]WorkerConfig)
	}
	f.written[jobID] = cfg
	return "/data/jobs/" + jobID.String() + "/config.yaml", nil
}

func (f *fakeArtifacts) MkdirOutput(_ context.Context, jobID uuid.UUID) (string, error) {
	if f.outputErr != nil {
		return "", f.outputErr
	}
	return "/data/jobs/" + jobID.String() + "/output", nil
}

type fakeBackend struct {
	mu        sync.Mutex
	launchErr error
	state     WorkerState
	probeErr  error
	logs      string
	logErr    error
	launched  []*Materialized
	stopped   []string
	probes    int
}

func (f *fakeBackend) Launch(_ context.Context, m *Materialized) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return "", f.launchErr
	}
	f.launched = append(f.launched, m)
	return "container-" + m.JobID.String()[:8], nil
}

func (f *fakeBackend) Probe(context.Context, string) (WorkerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.state, f.probeErr
}

func (f *fakeBackend) FetchLog(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs, f.logErr
}

func (f *fakeBackend) Stop(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, handle)
	return nil
}

func (f *fakeBackend) setLogs(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = s
}

type recordingNotifier struct {
	statuses []models.JobStatus
}

func (r *recordingNotifier) Notify(_ context.Context, job *models.TrainingJob) {
	r.statuses = append(r.statuses, job.Status)
}

type fakeLocker struct {
	held map[string]bool
}

func (f *fakeLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	return func() { delete(f.held, key) }, true, nil
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }
