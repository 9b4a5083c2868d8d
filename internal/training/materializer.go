package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

// Mount points inside the worker container. The worker only ever sees these
// paths; host locations stay with the orchestrator.
const (
	WorkerDatasetDir = "/workspace/dataset"
	WorkerOutputDir  = "/workspace/output"
	WorkerCacheDir   = "/workspace/cache"
	WorkerConfigPath = "/workspace/config/config.yaml"
)

// WorkerConfig is the document the worker reads at startup.
type WorkerConfig struct {
	JobID        string                 `yaml:"job_id"`
	JobType      models.JobType         `yaml:"job_type"`
	DatasetPath  string                 `yaml:"dataset_path"`
	BaseModel    string                 `yaml:"base_model"`
	OutputPath   string                 `yaml:"output_path"`
	CachePath    string                 `yaml:"cache_path"`
	Hyperparams  models.Hyperparameters `yaml:"hyperparams"`
	TriggerWords []string               `yaml:"trigger_words,omitempty"`
}

// Materialized ties a written WorkerConfig to the host paths it refers to.
type Materialized struct {
	JobID       uuid.UUID
	Config      WorkerConfig
	ConfigPath  string
	DatasetPath string
	OutputPath  string
}

type Materializer struct {
	artifacts ArtifactStore
}

func NewMaterializer(artifacts ArtifactStore) *Materializer {
	return &Materializer{artifacts: artifacts}
}

func (m *Materializer) Materialize(ctx context.Context, job *models.TrainingJob, ds *models.Dataset) (*Materialized, error) {
	outputPath, err := m.artifacts.MkdirOutput(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	cfg := WorkerConfig{
		JobID:        job.ID.String(),
		JobType:      job.Type,
		DatasetPath:  WorkerDatasetDir,
		BaseModel:    job.BaseModel,
		OutputPath:   WorkerOutputDir,
		CachePath:    WorkerCacheDir,
		Hyperparams:  job.Hyperparams,
		TriggerWords: job.TriggerWords,
	}

	configPath, err := m.artifacts.WriteConfig(ctx, job.ID, cfg)
	if err != nil {
		return nil, fmt.Errorf("write worker config: %w", err)
	}

	return &Materialized{
		JobID:       job.ID,
		Config:      cfg,
		ConfigPath:  configPath,
		DatasetPath: ds.StorageLocation,
		OutputPath:  outputPath,
	}, nil
}

// FileArtifactStore lays artifacts out as <root>/jobs/<id>/{config.yaml,output/}.
type FileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) *FileArtifactStore {
	return &FileArtifactStore{root: root}
}

func (s *FileArtifactStore) jobDir(jobID uuid.UUID) string {
	return filepath.Join(s.root, "jobs", jobID.String())
}

func (s *FileArtifactStore) WriteConfig(_ context.Context, jobID uuid.UUID, cfg WorkerConfig) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal worker config: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (s *FileArtifactStore) MkdirOutput(_ context.Context, jobID uuid.UUID) (string, error) {
	path := filepath.Join(s.jobDir(jobID), "output")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	return path, nil
}
