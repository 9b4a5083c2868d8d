// Package app assembles the orchestrator's services from configuration.
// Both the API server and the queue worker build the same graph.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/trainingorchestrator/internal/audit"
	"github.com/nikhilbhutani/trainingorchestrator/internal/cache"
	"github.com/nikhilbhutani/trainingorchestrator/internal/config"
	"github.com/nikhilbhutani/trainingorchestrator/internal/dataset"
	"github.com/nikhilbhutani/trainingorchestrator/internal/jobstore"
	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
	"github.com/nikhilbhutani/trainingorchestrator/internal/webhook"
	"github.com/nikhilbhutani/trainingorchestrator/internal/workerrt"
)

type Services struct {
	Training *training.Service
	Datasets *dataset.Gateway
	Webhooks *webhook.Service
	History  *audit.Service
	Queue    *queue.Client
}

func NewServices(cfg *config.Config, db *pgxpool.Pool, rdb redis.UniversalClient) *Services {
	q := queue.NewClient(cfg.Redis, cfg.Training.WebhookMaxRetries)
	webhooks := webhook.NewService(db, q)
	datasets := dataset.NewGateway(db)
	history := audit.NewService(db)

	backend := workerrt.NewDocker(workerrt.DockerConfig{
		Bin:           cfg.Training.DockerBin,
		Image:         cfg.Training.WorkerImage,
		ModelCacheDir: cfg.Training.ModelCacheDir,
		GPUs:          cfg.Training.GPUs,
		LaunchTimeout: cfg.Training.LaunchTimeout,
		ProbeTimeout:  cfg.Training.ProbeTimeout,
	}, workerrt.ExecRunner{})

	svc := training.NewService(
		jobstore.New(db),
		datasets,
		training.NewFileArtifactStore(cfg.Training.DataDir),
		backend,
		cfg.Training.MaxActiveJobs,
		training.WithLocker(cache.NewLocker(rdb, cfg.Training.ReconcileLockTTL)),
		training.WithPendingTimeout(cfg.Training.PendingTimeout),
		training.WithNotifier(training.Notifiers{history, webhooks, q}),
	)

	return &Services{
		Training: svc,
		Datasets: datasets,
		Webhooks: webhooks,
		History:  history,
		Queue:    q,
	}
}

func (s *Services) Close() error {
	return s.Queue.Close()
}
