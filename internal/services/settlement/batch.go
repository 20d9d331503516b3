package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/metrics"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/providers"
)

// WeekStart returns the Sunday 00:00 UTC anchoring the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	d := t.AddDate(0, 0, -int(t.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// BatchRunSummary reports one CreateWeeklyBatches invocation.
type BatchRunSummary struct {
	WeekOf         time.Time       `json:"week_of"`
	BatchesTouched int             `json:"batches_touched"`
	Donations      int             `json:"donations"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// CreateWeeklyBatches groups unbatched PENDING donations of auto-donate users
// into per-user weekly batches. Triggered externally (cron); safe to run
// repeatedly — already-batched donations are never picked up again, and the
// (user, weekOf) unique key keeps one batch per user per week.
func (s *Service) CreateWeeklyBatches(ctx context.Context) (BatchRunSummary, error) {
	weekOf := WeekStart(time.Now())
	summary := BatchRunSummary{WeekOf: weekOf, TotalAmount: decimal.Zero}

	var pending []models.Donation
	err := s.db.WithContext(ctx).
		Where("status = ?", models.DonationPending).
		Where("batch_id IS NULL").
		Order("created_at ASC").
		Find(&pending).Error
	if err != nil {
		return summary, err
	}

	byUser := make(map[uuid.UUID][]models.Donation)
	for _, d := range pending {
		byUser[d.UserID] = append(byUser[d.UserID], d)
	}

	for userID, donations := range byUser {
		var user models.User
		if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			return summary, err
		}
		if !user.AutoDonateEnabled {
			continue
		}

		total := decimal.Zero
		for _, d := range donations {
			total = total.Add(d.Amount)
		}
		if total.LessThan(s.minBatchTotal) {
			continue
		}

		if err := s.attachToWeeklyBatch(ctx, userID, weekOf, donations, total); err != nil {
			return summary, err
		}

		summary.BatchesTouched++
		summary.Donations += len(donations)
		summary.TotalAmount = summary.TotalAmount.Add(total)
	}

	logger.Info("weekly batches created",
		zap.Time("week_of", weekOf),
		zap.Int("batches", summary.BatchesTouched),
		zap.Int("donations", summary.Donations),
		zap.String("total", summary.TotalAmount.String()))

	return summary, nil
}

// attachToWeeklyBatch upserts the (user, weekOf) batch and attaches the
// donations in one transaction, keeping TotalAmount equal to the member sum
// at every committed point.
func (s *Service) attachToWeeklyBatch(
	ctx context.Context,
	userID uuid.UUID,
	weekOf time.Time,
	donations []models.Donation,
	total decimal.Decimal,
) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var batch models.DonationBatch
		err := dbtx.Where("user_id = ? AND week_of = ?", userID, weekOf).First(&batch).Error
		now := time.Now().UTC()

		switch {
		case err == nil:
			if err := dbtx.Model(&models.DonationBatch{}).
				Where("id = ?", batch.ID).
				Updates(map[string]interface{}{
					"total_amount": gorm.Expr("total_amount + ?", total),
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			batch = models.DonationBatch{
				ID:          uuid.New(),
				UserID:      userID,
				WeekOf:      weekOf,
				TotalAmount: total,
				Status:      models.BatchPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := dbtx.Create(&batch).Error; err != nil {
				return err
			}
		default:
			return err
		}

		donationIDs := make([]uuid.UUID, 0, len(donations))
		txIDs := make([]uuid.UUID, 0, len(donations))
		for _, d := range donations {
			donationIDs = append(donationIDs, d.ID)
			if d.TransactionID != nil {
				txIDs = append(txIDs, *d.TransactionID)
			}
		}

		if err := dbtx.Model(&models.Donation{}).
			Where("id IN ?", donationIDs).
			Update("batch_id", batch.ID).Error; err != nil {
			return err
		}

		if len(txIDs) > 0 {
			if err := dbtx.Model(&models.Transaction{}).
				Where("id IN ? AND status = ?", txIDs, models.TransactionMatched).
				Update("status", models.TransactionBatched).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// MarkBatchesReady closes out batches for past weeks so collection can begin.
func (s *Service) MarkBatchesReady(ctx context.Context) (int64, error) {
	weekOf := WeekStart(time.Now())
	result := s.db.WithContext(ctx).Model(&models.DonationBatch{}).
		Where("status = ? AND week_of < ?", models.BatchPending, weekOf).
		Updates(map[string]interface{}{
			"status":     models.BatchReady,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// InitiateCollection drives one external payment collection for the batch
// total. The batch is moved to PROCESSING before the provider call so a
// concurrent trigger sees a non-collectable state; a failed call puts it back
// to READY with retry bookkeeping.
func (s *Service) InitiateCollection(ctx context.Context, batchID uuid.UUID) error {
	var batch models.DonationBatch
	if err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error; err != nil {
		return err
	}

	if batch.Status != models.BatchPending && batch.Status != models.BatchReady {
		return ErrBatchNotCollectable
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", batch.UserID).Error; err != nil {
		return err
	}
	if user.CollectionCustomerID == "" || user.PaymentMethodID == "" {
		return ErrNoPaymentMethod
	}

	claimed := s.db.WithContext(ctx).Model(&models.DonationBatch{}).
		Where("id = ? AND status IN ?", batch.ID,
			[]models.DonationBatchStatus{models.BatchPending, models.BatchReady}).
		Updates(map[string]interface{}{
			"status":     models.BatchProcessing,
			"updated_at": time.Now().UTC(),
		})
	if claimed.Error != nil {
		return claimed.Error
	}
	if claimed.RowsAffected == 0 {
		return ErrBatchNotCollectable
	}

	result, err := s.collection.InitiateCollection(ctx, providers.CollectionRequest{
		CustomerID:      user.CollectionCustomerID,
		PaymentMethodID: user.PaymentMethodID,
		AmountCents:     batch.TotalAmount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:        "usd",
		Metadata: map[string]string{
			"batch_id": batch.ID.String(),
			"user_id":  batch.UserID.String(),
		},
	})
	if err != nil {
		revertErr := s.db.WithContext(ctx).Model(&models.DonationBatch{}).
			Where("id = ?", batch.ID).
			Updates(map[string]interface{}{
				"status":         models.BatchReady,
				"failure_reason": err.Error(),
				"retry_count":    gorm.Expr("retry_count + 1"),
				"updated_at":     time.Now().UTC(),
			}).Error
		if revertErr != nil {
			logger.Error("failed to revert batch after collection error",
				zap.String("batch_id", batch.ID.String()), zap.Error(revertErr))
		}
		return err
	}

	return s.db.WithContext(ctx).Model(&models.DonationBatch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{
			"collection_id": result.ID,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// HandleCollectionSucceeded reacts to the collection provider confirming the
// batch payment: every member donation still awaiting disbursement gets a
// grant created against the disbursement provider. Idempotent — donations
// that already carry a disbursement id are skipped, so a retried event or a
// partially failed earlier run picks up where it left off.
func (s *Service) HandleCollectionSucceeded(ctx context.Context, collectionID string) error {
	batch, err := s.findBatchByCollectionID(ctx, collectionID)
	if err != nil {
		return err
	}

	switch batch.Status {
	case models.BatchCompleted, models.BatchFailed:
		// Terminal states are sticky.
		return nil
	}

	var donations []models.Donation
	err = s.db.WithContext(ctx).
		Where("batch_id = ?", batch.ID).
		Where("status = ?", models.DonationPending).
		Where("disbursement_id = ?", "").
		Order("created_at ASC").
		Find(&donations).Error
	if err != nil {
		return err
	}

	// Group member donations by their resolved charity so each charity gets
	// one consolidated grant.
	type grantGroup struct {
		slug      string
		name      string
		amount    decimal.Decimal
		donations []uuid.UUID
	}
	groups := make(map[string]*grantGroup)
	order := make([]string, 0)
	unresolved := make([]models.Donation, 0)

	for _, d := range donations {
		slug, name, err := s.resolveDisbursementCharity(ctx, &d)
		if err != nil {
			return err
		}
		if slug == "" {
			logger.Warn("no charity resolvable for donation, skipping grant",
				zap.String("donation_id", d.ID.String()))
			unresolved = append(unresolved, d)
			continue
		}
		g, ok := groups[slug]
		if !ok {
			g = &grantGroup{slug: slug, name: name, amount: decimal.Zero}
			groups[slug] = g
			order = append(order, slug)
		}
		g.amount = g.amount.Add(d.Amount)
		g.donations = append(g.donations, d.ID)
	}

	for _, slug := range order {
		g := groups[slug]

		ids := make([]string, len(g.donations))
		for i, id := range g.donations {
			ids[i] = id.String()
		}

		result, err := s.disbursement.CreateDisbursement(ctx, providers.Grant{
			NonprofitID: g.slug,
			AmountCents: g.amount.Mul(decimal.NewFromInt(100)).IntPart(),
			Memo:        fmt.Sprintf("Round-up grant - %s", g.name),
			Metadata: map[string]string{
				"batch_id":     batch.ID.String(),
				"user_id":      batch.UserID.String(),
				"donation_ids": strings.Join(ids, ","),
			},
		})
		if err != nil {
			// Leave the remaining groups for the provider retry; donations
			// already granted keep their disbursement ids.
			return err
		}

		err = s.db.WithContext(ctx).Model(&models.Donation{}).
			Where("id IN ?", g.donations).
			Updates(map[string]interface{}{
				"disbursement_id": result.ID,
				"status":          models.DonationProcessing,
			}).Error
		if err != nil {
			return err
		}
	}

	if len(unresolved) > 0 {
		return s.failUnresolvedMembers(ctx, batch, unresolved)
	}

	return nil
}

// failUnresolvedMembers fails member donations that resolve to no charity and
// closes the batch out when nothing else is in flight. Without this a batch
// whose every member is unresolvable would sit in PROCESSING forever.
func (s *Service) failUnresolvedMembers(ctx context.Context, batch *models.DonationBatch, members []models.Donation) error {
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		now := time.Now().UTC()

		memberIDs := make([]uuid.UUID, 0, len(members))
		txIDs := make([]uuid.UUID, 0, len(members))
		for _, d := range members {
			memberIDs = append(memberIDs, d.ID)
			if d.TransactionID != nil {
				txIDs = append(txIDs, *d.TransactionID)
			}
		}

		if err := dbtx.Model(&models.Donation{}).
			Where("id IN ?", memberIDs).
			Updates(map[string]interface{}{
				"status":        models.DonationFailed,
				"error_message": "no charity resolvable",
			}).Error; err != nil {
			return err
		}

		if len(txIDs) > 0 {
			if err := dbtx.Model(&models.Transaction{}).
				Where("id IN ?", txIDs).
				Update("status", models.TransactionFailed).Error; err != nil {
				return err
			}
		}

		var open int64
		if err := dbtx.Model(&models.Donation{}).
			Where("batch_id = ?", batch.ID).
			Where("status IN ?", []models.DonationStatus{models.DonationPending, models.DonationProcessing}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return nil
		}

		return dbtx.Model(&models.DonationBatch{}).
			Where("id = ? AND status <> ?", batch.ID, models.BatchFailed).
			Updates(map[string]interface{}{
				"status":       models.BatchCompleted,
				"processed_at": now,
				"updated_at":   now,
			}).Error
	})
	if err != nil {
		return err
	}

	metrics.DonationsSettled.WithLabelValues(string(models.DonationFailed)).Add(float64(len(members)))

	if err := s.notifier.NotifyDonationFailure(ctx, batch.UserID, "no charity resolvable"); err != nil {
		logger.Error("failed to notify user of unresolvable donations",
			zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}
	return nil
}

// resolveDisbursementCharity picks the grant destination for a donation:
// its own charity when set, otherwise the designated cause's default charity.
func (s *Service) resolveDisbursementCharity(ctx context.Context, d *models.Donation) (slug, name string, err error) {
	if d.CharitySlug != "" {
		return d.CharitySlug, d.CharityName, nil
	}
	if d.DesignatedCauseID == nil {
		return "", "", nil
	}

	var charity models.Charity
	err = s.db.WithContext(ctx).
		Where("cause_id = ? AND is_active = ?", *d.DesignatedCauseID, true).
		Order("is_default DESC, created_at ASC").
		First(&charity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return charity.Slug, charity.Name, nil
}

// HandleCollectionFailed fails the batch and all of its member donations
// atomically, then surfaces the failure to the user.
func (s *Service) HandleCollectionFailed(ctx context.Context, collectionID, reason string) error {
	batch, err := s.findBatchByCollectionID(ctx, collectionID)
	if err != nil {
		return err
	}

	switch batch.Status {
	case models.BatchCompleted, models.BatchFailed:
		return nil
	}

	failedMembers := 0
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		now := time.Now().UTC()

		if err := dbtx.Model(&models.DonationBatch{}).
			Where("id = ?", batch.ID).
			Updates(map[string]interface{}{
				"status":         models.BatchFailed,
				"failure_reason": reason,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		var members []models.Donation
		if err := dbtx.
			Where("batch_id = ?", batch.ID).
			Where("status IN ?", []models.DonationStatus{models.DonationPending, models.DonationProcessing}).
			Find(&members).Error; err != nil {
			return err
		}

		failedMembers = len(members)
		memberIDs := make([]uuid.UUID, 0, len(members))
		txIDs := make([]uuid.UUID, 0, len(members))
		for _, d := range members {
			memberIDs = append(memberIDs, d.ID)
			if d.TransactionID != nil {
				txIDs = append(txIDs, *d.TransactionID)
			}
		}

		if len(memberIDs) > 0 {
			if err := dbtx.Model(&models.Donation{}).
				Where("id IN ?", memberIDs).
				Updates(map[string]interface{}{
					"status":        models.DonationFailed,
					"error_message": reason,
				}).Error; err != nil {
				return err
			}
		}

		if len(txIDs) > 0 {
			if err := dbtx.Model(&models.Transaction{}).
				Where("id IN ?", txIDs).
				Update("status", models.TransactionFailed).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	metrics.DonationsSettled.WithLabelValues(string(models.DonationFailed)).Add(float64(failedMembers))

	if err := s.notifier.NotifyDonationFailure(ctx, batch.UserID, reason); err != nil {
		// Notification is best-effort; the settlement state is already
		// committed.
		logger.Error("failed to notify user of batch failure",
			zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}

	return nil
}

// CompleteDonation marks one donation COMPLETED on provider confirmation,
// advances its transaction to DONATED, and lazily rolls the batch up: when no
// member remains PENDING or PROCESSING the batch is COMPLETED. Terminal
// donations are sticky, so a duplicate or late event is a no-op.
func (s *Service) CompleteDonation(ctx context.Context, donationID uuid.UUID, providerRef, receiptURL string) error {
	settled := false
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var donation models.Donation
		if err := dbtx.First(&donation, "id = ?", donationID).Error; err != nil {
			return err
		}

		if donation.Status.Terminal() {
			return nil
		}
		settled = true

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":       models.DonationCompleted,
			"completed_at": now,
		}
		if receiptURL != "" {
			updates["receipt_url"] = receiptURL
		}
		if donation.DisbursementID == "" && providerRef != "" {
			updates["disbursement_id"] = providerRef
		}
		if err := dbtx.Model(&models.Donation{}).
			Where("id = ?", donation.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		if donation.TransactionID != nil {
			if err := dbtx.Model(&models.Transaction{}).
				Where("id = ?", *donation.TransactionID).
				Update("status", models.TransactionDonated).Error; err != nil {
				return err
			}
		}

		if donation.BatchID == nil {
			return nil
		}

		// Lazy event-driven rollup: the write above and this count share the
		// transaction, so the count is never stale relative to it.
		var open int64
		if err := dbtx.Model(&models.Donation{}).
			Where("batch_id = ?", *donation.BatchID).
			Where("status IN ?", []models.DonationStatus{models.DonationPending, models.DonationProcessing}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return nil
		}

		return dbtx.Model(&models.DonationBatch{}).
			Where("id = ? AND status <> ?", *donation.BatchID, models.BatchFailed).
			Updates(map[string]interface{}{
				"status":       models.BatchCompleted,
				"processed_at": now,
				"updated_at":   now,
			}).Error
	})
	if err == nil && settled {
		metrics.DonationsSettled.WithLabelValues(string(models.DonationCompleted)).Inc()
	}
	return err
}

// FailDonation marks one donation FAILED on a provider failure event. Sticky
// against terminal states: a FAILED event arriving after COMPLETED does not
// revert it.
func (s *Service) FailDonation(ctx context.Context, donationID uuid.UUID, reason string) error {
	settled := false
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var donation models.Donation
		if err := dbtx.First(&donation, "id = ?", donationID).Error; err != nil {
			return err
		}

		if donation.Status.Terminal() {
			return nil
		}
		settled = true

		if err := dbtx.Model(&models.Donation{}).
			Where("id = ?", donation.ID).
			Updates(map[string]interface{}{
				"status":        models.DonationFailed,
				"error_message": reason,
			}).Error; err != nil {
			return err
		}

		if donation.TransactionID != nil {
			if err := dbtx.Model(&models.Transaction{}).
				Where("id = ?", *donation.TransactionID).
				Update("status", models.TransactionFailed).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err == nil && settled {
		metrics.DonationsSettled.WithLabelValues(string(models.DonationFailed)).Inc()
	}
	return err
}

// CollectionRunSummary reports one CollectReadyBatches sweep.
type CollectionRunSummary struct {
	MarkedReady int64 `json:"marked_ready"`
	Initiated   int   `json:"initiated"`
	Failed      int   `json:"failed"`
}

// CollectReadyBatches closes out past-week batches and initiates collection
// for everything READY. One batch failing does not stop the sweep; it keeps
// its retry bookkeeping and is picked up on the next run.
func (s *Service) CollectReadyBatches(ctx context.Context) (CollectionRunSummary, error) {
	var summary CollectionRunSummary

	marked, err := s.MarkBatchesReady(ctx)
	if err != nil {
		return summary, err
	}
	summary.MarkedReady = marked

	var ready []models.DonationBatch
	err = s.db.WithContext(ctx).
		Where("status = ?", models.BatchReady).
		Order("week_of ASC, created_at ASC").
		Find(&ready).Error
	if err != nil {
		return summary, err
	}

	for _, batch := range ready {
		if err := s.InitiateCollection(ctx, batch.ID); err != nil {
			summary.Failed++
			logger.Warn("batch collection failed",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
			continue
		}
		summary.Initiated++
	}

	logger.Info("batch collection sweep finished",
		zap.Int64("marked_ready", summary.MarkedReady),
		zap.Int("initiated", summary.Initiated),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

func (s *Service) findBatchByCollectionID(ctx context.Context, collectionID string) (*models.DonationBatch, error) {
	var batch models.DonationBatch
	err := s.db.WithContext(ctx).First(&batch, "collection_id = ?", collectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownCorrelation
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
