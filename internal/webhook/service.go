package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

var ErrWebhookNotFound = errors.New("webhook not found")

var knownEvents = map[string]bool{
	models.EventTrainingRunning:   true,
	models.EventTrainingCompleted: true,
	models.EventTrainingFailed:    true,
	models.EventTrainingCancelled: true,
}

type Enqueuer interface {
	EnqueueWebhookDeliver(ctx context.Context, payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db    *pgxpool.Pool
	queue Enqueuer
}

var _ training.Notifier = (*Service)(nil)

func NewService(db *pgxpool.Pool, q Enqueuer) *Service {
	return &Service{db: db, queue: q}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (r CreateRequest) Validate() []string {
	var problems []string
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, "url must be an absolute http or https URL")
	}
	if len(r.Events) == 0 {
		problems = append(problems, "events must not be empty")
	}
	for _, e := range r.Events {
		if !knownEvents[e] {
			problems = append(problems, fmt.Sprintf("unknown event %q", e))
		}
	}
	return problems
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*models.Webhook, error) {
	if problems := req.Validate(); len(problems) > 0 {
		return nil, &training.ValidationError{Problems: problems}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (owner_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, owner_id, url, events, is_active, created_at`,
		ownerID, req.URL, req.Events, secret,
	).Scan(&wh.ID, &wh.OwnerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	// Return secret only on creation
	wh.Secret = secret

	return &wh, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, url, events, is_active, created_at
		 FROM webhooks WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.OwnerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// Event is the body posted to subscribers.
type Event struct {
	Event      string              `json:"event"`
	OccurredAt time.Time           `json:"occurred_at"`
	Job        *models.TrainingJob `json:"job"`
}

// Notify enqueues one delivery per active webhook of the job's owner that
// subscribes to the event for the job's new status.
func (s *Service) Notify(ctx context.Context, job *models.TrainingJob) {
	event, ok := models.EventForStatus(job.Status)
	if !ok {
		return
	}
	if err := s.Dispatch(ctx, job.OwnerID, event, Event{Event: event, OccurredAt: time.Now().UTC(), Job: job}); err != nil {
		slog.Error("webhook dispatch failed", "job_id", job.ID, "event", event, "error", err)
	}
}

func (s *Service) Dispatch(ctx context.Context, ownerID uuid.UUID, event string, payload interface{}) error {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM webhooks
		 WHERE owner_id = $1 AND is_active = true AND events @> $2::jsonb`,
		ownerID, fmt.Sprintf(`[%q]`, event),
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan webhook id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, id := range ids {
		err := s.queue.EnqueueWebhookDeliver(ctx, queue.WebhookDeliverPayload{
			WebhookID: id,
			Event:     event,
			Payload:   string(body),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
