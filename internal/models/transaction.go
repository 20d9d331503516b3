package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionMatched TransactionStatus = "MATCHED"
	TransactionBatched TransactionStatus = "BATCHED"
	TransactionDonated TransactionStatus = "DONATED"
	TransactionSkipped TransactionStatus = "SKIPPED"
	TransactionFailed  TransactionStatus = "FAILED"
)

// Transaction is a bank transaction ingested from the banking provider.
// Keyed on the provider's transaction id so redelivered sync callbacks are
// no-ops.
type Transaction struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID                uuid.UUID `gorm:"type:uuid;index"`
	ProviderTransactionID string    `gorm:"uniqueIndex"`
	MerchantName          string
	MerchantNameNorm      string          `gorm:"index"`
	Amount                decimal.Decimal `gorm:"type:decimal(10,2)"`
	Date                  time.Time
	Category              datatypes.JSON
	MatchedMappingID      *uuid.UUID        `gorm:"type:uuid"`
	Status                TransactionStatus `gorm:"index;default:PENDING"`
	CreatedAt             time.Time
}
