package repository

import (
	"context"

	"gorm.io/gorm"

	"donation-settlement-backend/internal/models"
)

type MappingRepository struct {
	db *gorm.DB
}

func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// ListActiveMappings returns the active mapping set in insertion order. The
// order matters: the matcher scans it top to bottom and the first hit wins.
func (r *MappingRepository) ListActiveMappings(ctx context.Context) ([]models.BusinessMapping, error) {
	var mappings []models.BusinessMapping
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&mappings).Error
	return mappings, err
}
