package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DonationStatus string

const (
	DonationPending    DonationStatus = "PENDING"
	DonationProcessing DonationStatus = "PROCESSING"
	DonationCompleted  DonationStatus = "COMPLETED"
	DonationFailed     DonationStatus = "FAILED"
	DonationRefunded   DonationStatus = "REFUNDED"
)

// Terminal reports whether s is a terminal state. Terminal states are sticky:
// a later webhook for the same donation must not move it again.
func (s DonationStatus) Terminal() bool {
	switch s {
	case DonationCompleted, DonationFailed, DonationRefunded:
		return true
	}
	return false
}

// Donation is a pending-or-settled pledge derived from a matched transaction.
// Amount is immutable once created. The target is either a concrete charity
// (CharityID/CharitySlug set) or a designated cause resolved to its default
// charity at disbursement time (DesignatedCauseID set).
type Donation struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID  `gorm:"type:uuid;index"`
	TransactionID *uuid.UUID `gorm:"type:uuid;uniqueIndex"` // at most one donation per transaction
	BatchID       *uuid.UUID `gorm:"type:uuid;index"`

	CharityID         *uuid.UUID `gorm:"type:uuid"`
	CharitySlug       string
	CharityName       string
	DesignatedCauseID *uuid.UUID `gorm:"type:uuid"`

	Amount decimal.Decimal `gorm:"type:decimal(10,2)"`
	Status DonationStatus  `gorm:"index;default:PENDING"`

	// Correlation ids assigned by the disbursement providers, matched against
	// later webhook confirmations.
	DisbursementID string `gorm:"index"`
	ReceiptURL     string
	ErrorMessage   string

	CreatedAt   time.Time
	CompletedAt *time.Time
}
