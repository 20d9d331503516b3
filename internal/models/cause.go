package models

import (
	"time"

	"github.com/google/uuid"
)

type Cause struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"uniqueIndex"`
	Slug        string    `gorm:"uniqueIndex"`
	Description string
	IsActive    bool `gorm:"default:true;index"`
	CreatedAt   time.Time
}

// UserCause records a user's opt-in to a cause. A donation is only ever
// created for causes the user has opted into.
type UserCause struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_cause"`
	CauseID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_cause"`
	Priority  int       `gorm:"default:1"`
	CreatedAt time.Time
}
