package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BusinessMapping is a merchant-pattern -> cause -> charity rule. Mappings are
// administered out of band and read-only to the settlement core. Patterns are
// not mutually exclusive; the table is scanned in insertion order and the
// first match wins.
type BusinessMapping struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	MerchantPattern string    // case-insensitive substring, matched against the normalized name
	MerchantName    string    // human-readable display name
	CauseID         uuid.UUID `gorm:"type:uuid;index"`
	CharitySlug     string
	CharityName     string
	Confidence      decimal.Decimal `gorm:"type:decimal(3,2);default:1.0"`
	IsActive        bool            `gorm:"default:true;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
