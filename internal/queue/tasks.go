package queue

import "github.com/google/uuid"

const (
	TypeTrainingReconcile = "training:reconcile"
	TypeTrainingPromote   = "training:promote"
	TypeTrainingSweep     = "training:sweep"
	TypeWebhookDeliver    = "webhook:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type ReconcilePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

type PromotePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type WebhookDeliverPayload struct {
	WebhookID uuid.UUID `json:"webhook_id"`
	Event     string    `json:"event"`
	Payload   string    `json:"payload"` // JSON string
}
