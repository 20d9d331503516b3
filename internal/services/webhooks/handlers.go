package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/services/settlement"
)

// handleDisbursementCompleted completes every donation the grant covered.
// Donation ids normally ride in the grant metadata; a stored disbursement_id
// is the fallback for grants created before metadata was attached.
func (g *Gateway) handleDisbursementCompleted(ctx context.Context, e DisbursementCompleted) error {
	donations, err := g.resolveGrantMembers(ctx, e.DisbursementID, e.DonationIDs)
	if err != nil {
		return err
	}
	for _, id := range donations {
		if err := g.settle.CompleteDonation(ctx, id, e.DisbursementID, e.ReceiptURL); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) handleDisbursementFailed(ctx context.Context, e DisbursementFailed) error {
	donations, err := g.resolveGrantMembers(ctx, e.DisbursementID, e.DonationIDs)
	if err != nil {
		return err
	}
	for _, id := range donations {
		if err := g.settle.FailDonation(ctx, id, e.Reason); err != nil {
			return err
		}
	}
	return nil
}

// resolveGrantMembers turns a grant event into the donation ids it settles.
func (g *Gateway) resolveGrantMembers(ctx context.Context, disbursementID string, metadataIDs []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(metadataIDs))
	for _, raw := range metadataIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			logger.Warn("grant metadata carried a malformed donation id",
				zap.String("disbursement_id", disbursementID),
				zap.String("donation_id", raw))
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	donations, err := g.donations.ListByDisbursementID(ctx, disbursementID)
	if err != nil {
		return nil, err
	}
	if len(donations) == 0 {
		return nil, settlement.ErrUnknownCorrelation
	}
	for _, d := range donations {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// handleDonationConfirmed resolves provider B's per-donation completion.
// Resolution order: explicit metadata id, then an open (user, charity, amount)
// match, then the stored provider donation id.
func (g *Gateway) handleDonationConfirmed(ctx context.Context, e DonationConfirmed) error {
	donation, err := g.resolveDonation(ctx, e)
	if err != nil {
		return err
	}
	return g.settle.CompleteDonation(ctx, donation.ID, e.ProviderDonationID, e.ReceiptURL)
}

func (g *Gateway) handleDonationRejected(ctx context.Context, e DonationRejected) error {
	if e.DonationID != "" {
		if id, err := uuid.Parse(e.DonationID); err == nil {
			if _, err := g.donations.GetByID(ctx, id); err == nil {
				return g.settle.FailDonation(ctx, id, e.Reason)
			}
		}
	}
	donation, err := g.donations.FindByDisbursementID(ctx, e.ProviderDonationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settlement.ErrUnknownCorrelation
	}
	if err != nil {
		return err
	}
	return g.settle.FailDonation(ctx, donation.ID, e.Reason)
}

func (g *Gateway) resolveDonation(ctx context.Context, e DonationConfirmed) (*models.Donation, error) {
	if e.DonationID != "" {
		id, err := uuid.Parse(e.DonationID)
		if err == nil {
			donation, err := g.donations.GetByID(ctx, id)
			if err == nil {
				return donation, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
	}

	if e.UserID != "" && e.NonprofitSlug != "" && e.Amount != "" {
		userID, uidErr := uuid.Parse(e.UserID)
		amount, amtErr := decimal.NewFromString(e.Amount)
		if uidErr == nil && amtErr == nil {
			donation, err := g.donations.FindOpenByUserCharityAmount(ctx, userID, e.NonprofitSlug, amount)
			if err == nil {
				return donation, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
	}

	donation, err := g.donations.FindByDisbursementID(ctx, e.ProviderDonationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, settlement.ErrUnknownCorrelation
	}
	if err != nil {
		return nil, err
	}
	return donation, nil
}
