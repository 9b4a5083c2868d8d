package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

// Snapshot is what pollers see after a reconciliation pass.
type Snapshot struct {
	*models.TrainingJob
	ETA *time.Time `json:"eta,omitempty"`
}

// foldState accumulates the effect of parsed events on a running job.
type foldState struct {
	status  models.JobStatus
	errMsg  *string
	percent float64
	step    int
	total   int
	losses  []models.LossSample
	samples []models.ArtifactSample

	lossesChanged  bool
	samplesChanged bool
}

// fold applies events in log order and stops at the first terminal event.
// The whole log is re-read on every pass, so loss samples at or before the
// last recorded step and already-known artifacts are not appended again.
func fold(job *models.TrainingJob, events []LogEvent) *foldState {
	st := &foldState{
		status:  job.Status,
		percent: job.ProgressPercent,
		step:    job.CurrentStep,
		total:   job.TotalSteps,
		losses:  append([]models.LossSample(nil), job.LossHistory...),
		samples: append([]models.ArtifactSample(nil), job.Samples...),
	}

	lastLossStep := -1
	if n := len(job.LossHistory); n > 0 {
		lastLossStep = job.LossHistory[n-1].Step
	}
	seen := make(map[models.ArtifactSample]bool, len(job.Samples))
	for _, s := range job.Samples {
		seen[s] = true
	}

	for _, ev := range events {
		switch ev.Kind {
		case EventProgress:
			if ev.TotalSteps != nil && *ev.TotalSteps > st.total {
				st.total = *ev.TotalSteps
			}
			if ev.Step > st.step {
				st.step = ev.Step
			}
			if ev.Percent > st.percent {
				st.percent = ev.Percent
			}
			if ev.Loss != nil && ev.Step > lastLossStep {
				st.losses = append(st.losses, models.LossSample{Step: ev.Step, Loss: *ev.Loss})
				st.lossesChanged = true
				lastLossStep = ev.Step
			}
			if st.percent >= 100 {
				st.status = models.JobStatusCompleted
			}

		case EventSample:
			s := models.ArtifactSample{Step: ev.Step, URL: ev.ArtifactURL}
			if !seen[s] {
				seen[s] = true
				st.samples = append(st.samples, s)
				st.samplesChanged = true
			}

		case EventError:
			st.fail(ev.Message)

		case EventComplete:
			st.percent = 100
			st.status = models.JobStatusCompleted
		}

		if st.status.Terminal() {
			break
		}
	}

	if st.total > 0 && st.step > st.total {
		st.step = st.total
	}
	return st
}

func (st *foldState) fail(msg string) {
	st.status = models.JobStatusFailed
	st.errMsg = &msg
}

// patch expresses the difference between the folded state and job.
func (st *foldState) patch(job *models.TrainingJob, now time.Time) models.JobPatch {
	var p models.JobPatch
	if st.status != job.Status {
		status := st.status
		p.Status = &status
		if status.Terminal() {
			p.CompletedAt = &now
		}
	}
	if st.errMsg != nil {
		p.Error = st.errMsg
	}
	if st.percent != job.ProgressPercent {
		percent := st.percent
		p.ProgressPercent = &percent
	}
	if st.step != job.CurrentStep {
		step := st.step
		p.CurrentStep = &step
	}
	if st.total != job.TotalSteps {
		total := st.total
		p.TotalSteps = &total
	}
	if st.lossesChanged {
		p.LossHistory = st.losses
	}
	if st.samplesChanged {
		p.Samples = st.samples
	}
	return p
}

// Reconcile runs one pass: probe the worker, parse its log, fold the events
// into the stored job and persist the result. Terminal jobs are returned as
// stored without contacting the worker, and an unreachable probe or log
// backend leaves the record untouched for the next pass.
func (s *Service) Reconcile(ctx context.Context, jobID uuid.UUID) (*Snapshot, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusRunning {
		return s.snapshot(job), nil
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "reconcile:"+jobID.String())
		if err != nil {
			slog.Warn("reconcile lock unavailable", "job_id", jobID, "error", err)
			return s.snapshot(job), nil
		}
		if !ok {
			return s.snapshot(job), nil
		}
		defer unlock()

		if job, err = s.jobs.Get(ctx, jobID); err != nil {
			return nil, err
		}
		if job.Status != models.JobStatusRunning {
			return s.snapshot(job), nil
		}
	}

	if job.WorkerHandle == nil {
		slog.Warn("running job has no worker handle", "job_id", job.ID)
		return s.snapshot(job), nil
	}
	handle := *job.WorkerHandle

	state, err := s.backend.Probe(ctx, handle)
	if err != nil || state == WorkerUnreachable {
		slog.Warn("worker probe unreachable", "job_id", job.ID, "handle", handle, "error", err)
		return s.snapshot(job), nil
	}

	text, err := s.backend.FetchLog(ctx, handle)
	if err != nil {
		if state != WorkerExited {
			slog.Warn("worker log unavailable", "job_id", job.ID, "handle", handle, "error", err)
			return s.snapshot(job), nil
		}
		text = ""
	}

	st := fold(job, ParseLog(text))
	if !st.status.Terminal() && state == WorkerExited {
		st.fail(UnexpectedExitMessage)
	}

	patch := st.patch(job, s.now())
	if patch.Empty() {
		return s.snapshot(job), nil
	}

	if err := s.jobs.Update(ctx, job.ID, patch); err != nil {
		if errors.Is(err, ErrJobImmutable) {
			current, getErr := s.jobs.Get(ctx, job.ID)
			if getErr != nil {
				return nil, getErr
			}
			return s.snapshot(current), nil
		}
		return nil, fmt.Errorf("update job: %w", err)
	}

	prev := job.Status
	patch.Apply(job)
	if job.Status != prev {
		slog.Info("training job transitioned", "job_id", job.ID, "from", prev, "to", job.Status)
		s.notifier.Notify(ctx, job)
	}
	return s.snapshot(job), nil
}

func (s *Service) snapshot(job *models.TrainingJob) *Snapshot {
	snap := &Snapshot{TrainingJob: job}
	if job.Status == models.JobStatusRunning && job.StartedAt != nil {
		eta := EstimateCompletion(s.now(), *job.StartedAt, job.CurrentStep, job.TotalSteps)
		snap.ETA = &eta
	}
	return snap
}
