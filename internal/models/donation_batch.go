package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DonationBatchStatus string

const (
	BatchPending    DonationBatchStatus = "PENDING"
	BatchReady      DonationBatchStatus = "READY"
	BatchProcessing DonationBatchStatus = "PROCESSING"
	BatchCompleted  DonationBatchStatus = "COMPLETED"
	BatchFailed     DonationBatchStatus = "FAILED"
)

// DonationBatch aggregates one user's pending donations for a week into a
// single collection. TotalAmount always equals the sum of member donation
// amounts. Unique on (user, weekOf).
type DonationBatch struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID           `gorm:"type:uuid;uniqueIndex:idx_batch_user_week"`
	WeekOf      time.Time           `gorm:"uniqueIndex:idx_batch_user_week"` // Sunday 00:00 UTC
	TotalAmount decimal.Decimal     `gorm:"type:decimal(10,2)"`
	Status      DonationBatchStatus `gorm:"index;default:PENDING"`

	// Correlation id from the payment-collection provider.
	CollectionID  string `gorm:"index"`
	FailureReason string
	RetryCount    int `gorm:"default:0"`

	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
