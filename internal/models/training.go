package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further field mutation is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the statuses counted against a user's concurrency ceiling.
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning}

// TerminalStatuses never change once reached.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

type JobType string

const (
	JobTypeLoRA       JobType = "lora"
	JobTypeDreambooth JobType = "dreambooth"
)

func (t JobType) Valid() bool {
	return t == JobTypeLoRA || t == JobTypeDreambooth
}

type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	Steps        int     `json:"steps" yaml:"steps"`
	Resolution   int     `json:"resolution" yaml:"resolution"`
	Rank         *int    `json:"rank,omitempty" yaml:"rank,omitempty"`
	Alpha        *int    `json:"alpha,omitempty" yaml:"alpha,omitempty"`
}

type LossSample struct {
	Step int     `json:"step"`
	Loss float64 `json:"loss"`
}

type ArtifactSample struct {
	Step int    `json:"step"`
	URL  string `json:"url"`
}

type TrainingJob struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	OwnerID         uuid.UUID        `json:"owner_id" db:"owner_id"`
	DatasetID       uuid.UUID        `json:"dataset_id" db:"dataset_id"`
	Name            string           `json:"name" db:"name"`
	Type            JobType          `json:"type" db:"job_type"`
	BaseModel       string           `json:"base_model" db:"base_model"`
	Hyperparams     Hyperparameters  `json:"hyperparams" db:"hyperparams"`
	TriggerWords    []string         `json:"trigger_words,omitempty" db:"trigger_words"`
	Status          JobStatus        `json:"status" db:"status"`
	WorkerHandle    *string          `json:"worker_handle,omitempty" db:"worker_handle"`
	Error           *string          `json:"error,omitempty" db:"error"`
	ProgressPercent float64          `json:"progress_percent" db:"progress_percent"`
	CurrentStep     int              `json:"current_step" db:"current_step"`
	TotalSteps      int              `json:"total_steps" db:"total_steps"`
	LossHistory     []LossSample     `json:"loss_history" db:"loss_history"`
	Samples         []ArtifactSample `json:"samples" db:"samples"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// JobPatch is a partial update; nil fields are left untouched.
type JobPatch struct {
	Status          *JobStatus
	WorkerHandle    *string
	Error           *string
	ProgressPercent *float64
	CurrentStep     *int
	TotalSteps      *int
	LossHistory     []LossSample
	Samples         []ArtifactSample
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Empty reports whether applying the patch would change nothing.
func (p JobPatch) Empty() bool {
	return p.Status == nil && p.WorkerHandle == nil && p.Error == nil &&
		p.ProgressPercent == nil && p.CurrentStep == nil && p.TotalSteps == nil &&
		p.LossHistory == nil && p.Samples == nil && p.StartedAt == nil && p.CompletedAt == nil
}

// Apply copies every set field of p onto j.
func (p JobPatch) Apply(j *TrainingJob) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.WorkerHandle != nil {
		h := *p.WorkerHandle
		j.WorkerHandle = &h
	}
	if p.Error != nil {
		e := *p.Error
		j.Error = &e
	}
	if p.ProgressPercent != nil {
		j.ProgressPercent = *p.ProgressPercent
	}
	if p.CurrentStep != nil {
		j.CurrentStep = *p.CurrentStep
	}
	if p.TotalSteps != nil {
		j.TotalSteps = *p.TotalSteps
	}
	if p.LossHistory != nil {
		j.LossHistory = append([]LossSample(nil), p.LossHistory...)
	}
	if p.Samples != nil {
		j.Samples = append([]ArtifactSample(nil), p.Samples...)
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		j.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		j.CompletedAt = &t
	}
}

type Dataset struct {
	ID              uuid.UUID `json:"id" db:"id"`
	OwnerID         uuid.UUID `json:"owner_id" db:"owner_id"`
	Name            string    `json:"name" db:"name"`
	StorageLocation string    `json:"storage_location" db:"storage_location"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// JobEvent is one recorded status transition of a training job.
type JobEvent struct {
	ID              int64     `json:"id" db:"id"`
	JobID           uuid.UUID `json:"job_id" db:"job_id"`
	OwnerID         uuid.UUID `json:"-" db:"owner_id"`
	Status          JobStatus `json:"status" db:"status"`
	ProgressPercent float64   `json:"progress_percent" db:"progress_percent"`
	CurrentStep     int       `json:"current_step" db:"current_step"`
	Error           *string   `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
