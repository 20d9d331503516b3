package models

import (
	"time"

	"github.com/google/uuid"
)

type Charity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CauseID   uuid.UUID `gorm:"type:uuid;index"`
	Slug      string    `gorm:"uniqueIndex"` // disbursement-provider nonprofit slug
	Name      string
	EIN       string
	IsDefault bool `gorm:"default:false"`
	IsActive  bool `gorm:"default:true"`
	CreatedAt time.Time
}
