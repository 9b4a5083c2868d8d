package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/trainingorchestrator/internal/queue"
)

// Dispatcher performs webhook:deliver tasks. A failed delivery is returned
// as an error so the queue retries it with backoff.
type Dispatcher struct {
	db         *pgxpool.Pool
	httpClient *http.Client
}

type DeliveryRequest struct {
	WebhookID uuid.UUID
	URL       string
	Secret    string
	Event     string
	Payload   []byte
}

func NewDispatcher(db *pgxpool.Pool) *Dispatcher {
	return &Dispatcher{
		db: db,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *Dispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	req := DeliveryRequest{
		WebhookID: payload.WebhookID,
		Event:     payload.Event,
		Payload:   []byte(payload.Payload),
	}
	err := d.db.QueryRow(ctx,
		`SELECT url, secret FROM webhooks WHERE id = $1 AND is_active = true`,
		payload.WebhookID,
	).Scan(&req.URL, &req.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Info("webhook removed before delivery", "webhook_id", payload.WebhookID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}

	status, err := d.deliver(ctx, req)
	d.recordDelivery(ctx, req, status, err)
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, req DeliveryRequest) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %v: %w", err, asynq.SkipRetry)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.Event)
	httpReq.Header.Set("X-Webhook-Signature", sign(req.Payload, req.Secret))
	httpReq.Header.Set("X-Webhook-ID", req.WebhookID.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		slog.Warn("webhook delivery failed", "error", err, "webhook_id", req.WebhookID)
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "webhook_id", req.WebhookID)
		return resp.StatusCode, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, req DeliveryRequest, status int, deliveryErr error) {
	var deliveredAt *time.Time
	if deliveryErr == nil {
		now := time.Now()
		deliveredAt = &now
	}

	attempts := 1
	if n, ok := asynq.GetRetryCount(ctx); ok {
		attempts = n + 1
	}

	_, err := d.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.WebhookID, req.Event, req.Payload, status, attempts, deliveredAt,
	)
	if err != nil {
		slog.Error("failed to record webhook delivery", "error", err)
	}
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
