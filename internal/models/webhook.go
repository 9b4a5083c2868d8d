package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Webhook struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	URL       string    `json:"url" db:"url"`
	Events    []string  `json:"events" db:"events"`
	Secret    string    `json:"secret,omitempty" db:"secret"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	WebhookID      uuid.UUID       `json:"webhook_id" db:"webhook_id"`
	Event          string          `json:"event" db:"event"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	ResponseStatus int             `json:"response_status" db:"response_status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

const (
	EventTrainingRunning   = "training.running"
	EventTrainingCompleted = "training.completed"
	EventTrainingFailed    = "training.failed"
	EventTrainingCancelled = "training.cancelled"
)

// EventForStatus maps a job status to the webhook event announcing it.
func EventForStatus(s JobStatus) (string, bool) {
	switch s {
	case JobStatusRunning:
		return EventTrainingRunning, true
	case JobStatusCompleted:
		return EventTrainingCompleted, true
	case JobStatusFailed:
		return EventTrainingFailed, true
	case JobStatusCancelled:
		return EventTrainingCancelled, true
	}
	return "", false
}
