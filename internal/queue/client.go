package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/trainingorchestrator/internal/config"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

// uniqueWindow collapses repeated reconcile and promote requests for the
// same job or user while one is still pending.
const uniqueWindow = 30 * time.Second

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	client         enqueuer
	webhookRetries int
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig, webhookRetries int) *Client {
	return &Client{
		client:         asynq.NewClient(RedisOpt(cfg)),
		webhookRetries: webhookRetries,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueReconcile(ctx context.Context, jobID uuid.UUID) error {
	return c.enqueue(ctx, TypeTrainingReconcile, ReconcilePayload{JobID: jobID},
		asynq.Queue(QueueDefault), asynq.MaxRetry(0), asynq.Timeout(2*time.Minute), asynq.Unique(uniqueWindow))
}

func (c *Client) EnqueuePromote(ctx context.Context, userID uuid.UUID) error {
	return c.enqueue(ctx, TypeTrainingPromote, PromotePayload{UserID: userID},
		asynq.Queue(QueueCritical), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute), asynq.Unique(uniqueWindow))
}

func (c *Client) EnqueueWebhookDeliver(ctx context.Context, payload WebhookDeliverPayload) error {
	return c.enqueue(ctx, TypeWebhookDeliver, payload,
		asynq.Queue(QueueLow), asynq.MaxRetry(c.webhookRetries), asynq.Timeout(30*time.Second))
}

// Notify schedules queue promotion for the owner whenever a job frees a
// slot by reaching a terminal status.
func (c *Client) Notify(ctx context.Context, job *models.TrainingJob) {
	if !job.Status.Terminal() {
		return
	}
	if err := c.EnqueuePromote(ctx, job.OwnerID); err != nil {
		slog.Error("failed to enqueue promotion", "user_id", job.OwnerID, "job_id", job.ID, "error", err)
	}
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
