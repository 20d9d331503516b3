package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email              string    `gorm:"uniqueIndex"`
	Name               string
	DonationMultiplier decimal.Decimal  `gorm:"type:decimal(3,2);default:1.0"`
	MonthlyLimit       *decimal.Decimal `gorm:"type:decimal(10,2)"`
	CurrentMonthTotal  decimal.Decimal  `gorm:"type:decimal(10,2);default:0"`
	MonthlyResetAt     time.Time
	AutoDonateEnabled  bool `gorm:"default:false"`
	// Collection-provider customer + payment method, set during bank linking
	CollectionCustomerID string
	PaymentMethodID      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
