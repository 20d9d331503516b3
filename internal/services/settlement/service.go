package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/notify"
	"donation-settlement-backend/internal/providers"
	"donation-settlement-backend/internal/services/matching"
)

// Service owns the transaction/donation/batch state machine. Matching and the
// limit ledger run when a transaction is ingested; the batch coordinator and
// the webhook handlers drive the rest of the lifecycle.
type Service struct {
	db            *gorm.DB
	matcher       *matching.Matcher
	collection    providers.CollectionClient
	disbursement  providers.DisbursementClient
	notifier      notify.Notifier
	minBatchTotal decimal.Decimal
}

func NewService(
	db *gorm.DB,
	matcher *matching.Matcher,
	collection providers.CollectionClient,
	disbursement providers.DisbursementClient,
	notifier notify.Notifier,
	minBatchTotal decimal.Decimal,
) *Service {
	return &Service{
		db:            db,
		matcher:       matcher,
		collection:    collection,
		disbursement:  disbursement,
		notifier:      notifier,
		minBatchTotal: minBatchTotal,
	}
}

func (s *Service) DB() *gorm.DB {
	return s.db
}

// IngestInput is the per-transaction callback delivered by the banking
// collaborator.
type IngestInput struct {
	UserID                uuid.UUID
	ProviderTransactionID string
	MerchantName          string
	Amount                decimal.Decimal
	Date                  time.Time
	Category              []string
}

// IngestTransaction records a bank transaction and runs it through matching.
// Keyed on the provider transaction id: a redelivered callback inserts
// nothing and triggers nothing.
func (s *Service) IngestTransaction(ctx context.Context, input IngestInput) (*models.Transaction, bool, error) {
	categoryJSON, err := json.Marshal(input.Category)
	if err != nil {
		return nil, false, err
	}

	tx := &models.Transaction{
		ID:                    uuid.New(),
		UserID:                input.UserID,
		ProviderTransactionID: input.ProviderTransactionID,
		MerchantName:          input.MerchantName,
		MerchantNameNorm:      matching.NormalizeMerchant(input.MerchantName),
		Amount:                input.Amount.Abs(), // banking provider signs spends negative
		Date:                  input.Date,
		Category:              categoryJSON,
		Status:                models.TransactionPending,
		CreatedAt:             time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(tx)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}

	if _, err := s.ProcessTransaction(ctx, tx.ID); err != nil {
		return tx, true, err
	}

	return tx, true, nil
}

// ReprocessPendingTransactions re-drives matching for transactions stuck in
// PENDING, typically after processing failed post-ingestion. Returns how many
// were processed.
func (s *Service) ReprocessPendingTransactions(ctx context.Context, limit int) (int, error) {
	var pending []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ?", models.TransactionPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, tx := range pending {
		if _, err := s.ProcessTransaction(ctx, tx.ID); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// ProcessResult reports the matcher/ledger outcome for one transaction.
// Reason is set for the expected policy outcomes ending in SKIPPED.
type ProcessResult struct {
	Matched    bool
	DonationID *uuid.UUID
	Reason     string
}

const (
	ReasonNoMatch          = "no_match"
	ReasonCauseNotSelected = "cause_not_selected"
	ReasonOverMonthlyLimit = "over_monthly_limit"
	ReasonNoCharity        = "no_charity_for_cause"
)

// ProcessTransaction matches a PENDING transaction against the mapping table
// and, when the user has opted into the mapped cause, commits a donation
// under the monthly limit. All SKIPPED outcomes are policy results, not
// errors.
func (s *Service) ProcessTransaction(ctx context.Context, transactionID uuid.UUID) (ProcessResult, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, "id = ?", transactionID).Error; err != nil {
		return ProcessResult{}, err
	}

	// Matching mutates a transaction exactly once.
	if tx.Status != models.TransactionPending {
		return ProcessResult{}, nil
	}

	mapping, ok, err := s.matcher.Match(ctx, tx.MerchantName)
	if err != nil {
		return ProcessResult{}, err
	}
	if !ok {
		if err := s.skipTransaction(ctx, &tx, nil); err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Reason: ReasonNoMatch}, nil
	}

	optedIn, err := s.userHasCause(ctx, tx.UserID, mapping.CauseID)
	if err != nil {
		return ProcessResult{}, err
	}
	if !optedIn {
		if err := s.skipTransaction(ctx, &tx, &mapping.ID); err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Reason: ReasonCauseNotSelected}, nil
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", tx.UserID).Error; err != nil {
		return ProcessResult{}, err
	}

	amount := matching.CalculateDonation(tx.Amount, user.DonationMultiplier)

	target, err := s.resolveTarget(ctx, mapping)
	if err != nil {
		return ProcessResult{}, err
	}
	if target == nil {
		logger.Error("no charity resolvable for mapped cause",
			zap.String("mapping_id", mapping.ID.String()),
			zap.String("cause_id", mapping.CauseID.String()))
		if err := s.skipTransaction(ctx, &tx, &mapping.ID); err != nil {
			return ProcessResult{}, err
		}
		return ProcessResult{Reason: ReasonNoCharity}, nil
	}

	donationID, committed, err := s.commitDonationWithLimitCheck(ctx, &tx, &user, mapping, target, amount)
	if err != nil {
		return ProcessResult{}, err
	}
	if !committed {
		return ProcessResult{Reason: ReasonOverMonthlyLimit}, nil
	}

	logger.Info("donation created",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("donation_id", donationID.String()),
		zap.String("amount", amount.String()))

	return ProcessResult{Matched: true, DonationID: &donationID}, nil
}

// donationTarget is the destination descriptor for a new donation: either a
// concrete charity, or a designated cause resolved at disbursement time.
type donationTarget struct {
	CharityID         *uuid.UUID
	CharitySlug       string
	CharityName       string
	DesignatedCauseID *uuid.UUID
}

// resolveTarget prefers the cause's default charity, then any active charity
// for the cause, then the mapping's own charity slug, and finally falls back
// to a designated-cause donation resolved at grant time.
func (s *Service) resolveTarget(ctx context.Context, mapping *models.BusinessMapping) (*donationTarget, error) {
	var charity models.Charity
	err := s.db.WithContext(ctx).
		Where("cause_id = ? AND is_active = ?", mapping.CauseID, true).
		Order("is_default DESC, created_at ASC").
		First(&charity).Error
	if err == nil {
		return &donationTarget{
			CharityID:   &charity.ID,
			CharitySlug: charity.Slug,
			CharityName: charity.Name,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if mapping.CharitySlug != "" {
		return &donationTarget{
			CharitySlug: mapping.CharitySlug,
			CharityName: mapping.CharityName,
		}, nil
	}

	causeID := mapping.CauseID
	var cause models.Cause
	if err := s.db.WithContext(ctx).First(&cause, "id = ? AND is_active = ?", causeID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &donationTarget{DesignatedCauseID: &causeID}, nil
}

func (s *Service) userHasCause(ctx context.Context, userID, causeID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UserCause{}).
		Where("user_id = ? AND cause_id = ?", userID, causeID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) skipTransaction(ctx context.Context, tx *models.Transaction, mappingID *uuid.UUID) error {
	updates := map[string]interface{}{"status": models.TransactionSkipped}
	if mappingID != nil {
		updates["matched_mapping_id"] = *mappingID
	}
	return s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", tx.ID).
		Updates(updates).Error
}
