package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"donation-settlement-backend/internal/models"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// RecordEvent inserts a PENDING event row for (source, eventID). Returns
// (event, false) when a row for that pair already exists — the dedup check
// and the insert are one statement, so two racing deliveries can't both win.
func (r *WebhookEventRepository) RecordEvent(
	ctx context.Context,
	source, eventType, eventID string,
	payload []byte,
) (*models.WebhookEvent, bool, error) {
	event := &models.WebhookEvent{
		ID:        uuid.New(),
		Source:    source,
		EventType: eventType,
		EventID:   eventID,
		Payload:   datatypes.JSON(payload),
		Status:    models.WebhookPending,
		CreatedAt: time.Now().UTC(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		// Duplicate delivery: hand back the existing row for auditing.
		var existing models.WebhookEvent
		err := r.db.WithContext(ctx).
			First(&existing, "source = ? AND event_id = ?", source, eventID).Error
		if err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	return event, true, nil
}

func (r *WebhookEventRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("status", models.WebhookProcessing).Error
}

func (r *WebhookEventRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.WebhookCompleted,
			"processed_at": now,
			"error":        "",
		}).Error
}

func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id uuid.UUID, handlerErr error) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.WebhookFailed,
			"error":       handlerErr.Error(),
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}

// ListFailed returns FAILED events still below the retry ceiling, oldest
// first, for the retry job.
func (r *WebhookEventRepository) ListFailed(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.WebhookFailed).
		Where("retry_count < ?", maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListStalled returns events stuck in PENDING or PROCESSING since before
// cutoff. A crash between recording an event and finalizing it leaves the row
// in one of those states, and the provider's redelivery is swallowed by the
// dedup insert, so the retry job has to pick these up itself.
func (r *WebhookEventRepository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.WebhookStatus{models.WebhookPending, models.WebhookProcessing}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListRecent returns the newest events for the monitoring endpoint.
func (r *WebhookEventRepository) ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Reset puts a failed event back to PENDING so the dispatcher will run it
// again.
func (r *WebhookEventRepository) Reset(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("status", models.WebhookPending).Error
}
