package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/trainingorchestrator/internal/app"
	"github.com/nikhilbhutani/trainingorchestrator/internal/config"
	"github.com/nikhilbhutani/trainingorchestrator/internal/database"
	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
	"github.com/nikhilbhutani/trainingorchestrator/internal/queue/workers"
	"github.com/nikhilbhutani/trainingorchestrator/internal/webhook"
)

const concurrency = 10

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	services := app.NewServices(cfg, db, rdb)
	defer services.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: slogAdapter{},
		},
	)

	registry := queue.NewHandlersRegistry()
	workers.NewTrainingWorker(services.Training, services.Queue).Register(registry)
	registry.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(webhook.NewDispatcher(db).ProcessTask))

	// The sweep backstops promotion and reconciliation when a notify-driven
	// enqueue was lost.
	scheduler := asynq.NewScheduler(queue.RedisOpt(cfg.Redis), &asynq.SchedulerOpts{Logger: slogAdapter{}})
	spec := "@every " + cfg.Training.SweepInterval.String()
	if _, err := scheduler.Register(spec, asynq.NewTask(queue.TypeTrainingSweep, nil), asynq.Queue(queue.QueueLow)); err != nil {
		slog.Error("register sweep", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	slog.Info("starting worker", "concurrency", concurrency, "sweep", spec)
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug("asynq", "msg", args) }
func (slogAdapter) Info(args ...interface{})  { slog.Info("asynq", "msg", args) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn("asynq", "msg", args) }
func (slogAdapter) Error(args ...interface{}) { slog.Error("asynq", "msg", args) }
func (slogAdapter) Fatal(args ...interface{}) {
	slog.Error("asynq fatal", "msg", args)
	os.Exit(1)
}
