package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "PENDING"
	WebhookProcessing WebhookStatus = "PROCESSING"
	WebhookCompleted  WebhookStatus = "COMPLETED"
	WebhookFailed     WebhookStatus = "FAILED"
)

// WebhookEvent is the idempotency and audit record for inbound provider
// webhooks. The (source, eventId) unique index is the sole deduplication
// mechanism: a redelivered event id is a no-op regardless of order. Rows are
// never deleted.
type WebhookEvent struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey"`
	Source      string        `gorm:"uniqueIndex:idx_webhook_source_event;index"`
	EventType   string        `gorm:"index"`
	EventID     string        `gorm:"uniqueIndex:idx_webhook_source_event"`
	Payload     datatypes.JSON
	Status      WebhookStatus `gorm:"index;default:PENDING"`
	Error       string
	RetryCount  int           `gorm:"default:0"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
