package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"donation-settlement-backend/internal/models"
)

// sameMonthUTC reports whether a and b fall in the same UTC calendar month.
func sameMonthUTC(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// reconcileMonthWindow lazily resets the user's monthly counter when the last
// reset falls in a different UTC calendar month. No read of CurrentMonthTotal
// across a month boundary is valid without calling this first. Runs inside
// the caller's DB transaction; the reset is guarded on the old reset
// timestamp so a concurrent reconcile is applied once.
func reconcileMonthWindow(dbtx *gorm.DB, user *models.User) error {
	now := time.Now().UTC()
	if sameMonthUTC(user.MonthlyResetAt, now) {
		return nil
	}

	result := dbtx.Model(&models.User{}).
		Where("id = ? AND monthly_reset_at = ?", user.ID, user.MonthlyResetAt).
		Updates(map[string]interface{}{
			"current_month_total": decimal.Zero,
			"monthly_reset_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		user.CurrentMonthTotal = decimal.Zero
		user.MonthlyResetAt = now
		return nil
	}

	// Lost the race to another reconcile; pick up its result.
	return dbtx.First(user, "id = ?", user.ID).Error
}

// ResetStaleMonthlyCounters zeroes every counter whose last reset precedes
// the current UTC month. The ledger already reconciles lazily on each commit;
// this job keeps reporting views honest for users with no activity.
func (s *Service) ResetStaleMonthlyCounters(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("monthly_reset_at < ?", monthStart).
		Updates(map[string]interface{}{
			"current_month_total": decimal.Zero,
			"monthly_reset_at":    now,
		})
	return result.RowsAffected, result.Error
}

// commitDonationWithLimitCheck atomically enforces the monthly limit,
// increments the user's counter, creates the donation, and marks the
// transaction MATCHED. Over-limit is not an error: the transaction is marked
// SKIPPED inside the same unit of work and committed=false is returned.
//
// The counter increment is a single guarded UPDATE, so concurrent commits for
// the same user can never push the counter past the limit: whichever commit
// loses the guard sees zero rows affected.
func (s *Service) commitDonationWithLimitCheck(
	ctx context.Context,
	tx *models.Transaction,
	user *models.User,
	mapping *models.BusinessMapping,
	target *donationTarget,
	amount decimal.Decimal,
) (uuid.UUID, bool, error) {
	donationID := uuid.New()
	committed := false

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := reconcileMonthWindow(dbtx, user); err != nil {
			return err
		}

		result := dbtx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Where("monthly_limit IS NULL OR current_month_total + ? <= monthly_limit", amount).
			Update("current_month_total", gorm.Expr("current_month_total + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Over the configured limit: expected policy outcome.
			updates := map[string]interface{}{
				"status":             models.TransactionSkipped,
				"matched_mapping_id": mapping.ID,
			}
			return dbtx.Model(&models.Transaction{}).
				Where("id = ?", tx.ID).
				Updates(updates).Error
		}

		donation := &models.Donation{
			ID:                donationID,
			UserID:            user.ID,
			TransactionID:     &tx.ID,
			CharityID:         target.CharityID,
			CharitySlug:       target.CharitySlug,
			CharityName:       target.CharityName,
			DesignatedCauseID: target.DesignatedCauseID,
			Amount:            amount,
			Status:            models.DonationPending,
			CreatedAt:         time.Now().UTC(),
		}
		if err := dbtx.Create(donation).Error; err != nil {
			return err
		}

		if err := dbtx.Model(&models.Transaction{}).
			Where("id = ?", tx.ID).
			Updates(map[string]interface{}{
				"status":             models.TransactionMatched,
				"matched_mapping_id": mapping.ID,
			}).Error; err != nil {
			return err
		}

		committed = true
		return nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}

	return donationID, committed, nil
}
