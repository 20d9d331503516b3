package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"donation-settlement-backend/internal/models"
)

type DonationRepository struct {
	db *gorm.DB
}

func NewDonationRepository(db *gorm.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) DB() *gorm.DB {
	return r.db
}

func (r *DonationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).First(&donation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

// FindByDisbursementID looks a donation up by the correlation id stored when
// the disbursement was initiated.
func (r *DonationRepository) FindByDisbursementID(ctx context.Context, disbursementID string) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).
		First(&donation, "disbursement_id = ?", disbursementID).Error
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

// FindOpenByUserCharityAmount is the fallback correlation path: an open
// donation for the same user, charity and exact amount.
func (r *DonationRepository) FindOpenByUserCharityAmount(
	ctx context.Context,
	userID uuid.UUID,
	charitySlug string,
	amount decimal.Decimal,
) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("charity_slug = ?", charitySlug).
		Where("status IN ?", []models.DonationStatus{models.DonationPending, models.DonationProcessing}).
		Where("amount = ?", amount).
		Order("created_at ASC").
		First(&donation).Error
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

// ListByDisbursementID returns every donation covered by one grant.
func (r *DonationRepository) ListByDisbursementID(ctx context.Context, disbursementID string) ([]models.Donation, error) {
	var donations []models.Donation
	err := r.db.WithContext(ctx).
		Where("disbursement_id = ?", disbursementID).
		Find(&donations).Error
	return donations, err
}

// CountOpenInBatch counts donations in the batch still awaiting their own
// confirmation. Zero means the batch can be rolled up to COMPLETED.
func (r *DonationRepository) CountOpenInBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).
		Where("batch_id = ?", batchID).
		Where("status IN ?", []models.DonationStatus{models.DonationPending, models.DonationProcessing}).
		Count(&count).Error
	return count, err
}
