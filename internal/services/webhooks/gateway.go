package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/metrics"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/repository"
	"donation-settlement-backend/internal/services/settlement"
)

// Outcome is the ingestion result reported to the HTTP layer.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

type parseFunc func(rawBody []byte) (eventID, eventType string, event Event, err error)

// Gateway ingests provider webhooks: verify, dedup, record, dispatch,
// finalize. Handlers are idempotent on top of the dedup layer, because the
// dedup check and the handler run are not one atomic unit.
type Gateway struct {
	events    *repository.WebhookEventRepository
	donations *repository.DonationRepository
	settle    *settlement.Service
	verifiers map[string]Verifier
	parsers   map[string]parseFunc
	env       string
}

func NewGateway(
	events *repository.WebhookEventRepository,
	donations *repository.DonationRepository,
	settle *settlement.Service,
	verifiers map[string]Verifier,
	env string,
) *Gateway {
	return &Gateway{
		events:    events,
		donations: donations,
		settle:    settle,
		verifiers: verifiers,
		parsers: map[string]parseFunc{
			ProviderBanking:   parseBankingEvent,
			ProviderPayments:  parsePaymentsEvent,
			ProviderGrants:    parseGrantsEvent,
			ProviderDonations: parseDonationsEvent,
		},
		env: env,
	}
}

// Ingest runs the five-step pipeline for one delivery. The returned error is
// a handler failure: the delivery was recorded and the provider should retry
// (5xx); the dedup layer turns that retry into a no-op once the effect lands.
func (g *Gateway) Ingest(ctx context.Context, provider string, rawBody []byte, signature string) (Outcome, error) {
	verifier, ok := g.verifiers[provider]
	if !ok {
		metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeRejected)).Inc()
		return OutcomeRejected, nil
	}

	// Step 1: signature verification at the boundary.
	if err := verifier.Verify(rawBody, signature); err != nil {
		if errors.Is(err, ErrNoSecret) && g.env != "production" {
			// Explicit, logged decision: unverified pass-through is allowed
			// outside production only.
			logger.Warn("webhook accepted without signature verification, no secret configured",
				zap.String("provider", provider),
				zap.String("env", g.env))
		} else {
			logger.Warn("webhook signature rejected",
				zap.String("provider", provider),
				zap.Error(err))
			metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeRejected)).Inc()
			return OutcomeRejected, nil
		}
	}

	eventID, eventType, event, err := g.parsers[provider](rawBody)
	if err != nil {
		logger.Warn("webhook payload rejected",
			zap.String("provider", provider),
			zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeRejected)).Inc()
		return OutcomeRejected, nil
	}

	// Steps 2+3: dedup and PENDING record in one insert. A crash after this
	// point leaves an auditable, retryable row, never a silent gap.
	record, created, err := g.events.RecordEvent(ctx, provider, eventType, eventID, rawBody)
	if err != nil {
		return OutcomeRejected, err
	}
	if !created {
		logger.Debug("duplicate webhook delivery",
			zap.String("provider", provider),
			zap.String("event_id", eventID))
		metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	if err := g.events.MarkProcessing(ctx, record.ID); err != nil {
		return OutcomeAccepted, err
	}

	// Step 4: dispatch.
	if err := g.dispatch(ctx, event); err != nil {
		if errors.Is(err, settlement.ErrUnknownCorrelation) {
			// Correlation-miss: log and discard. Retries cannot manufacture
			// the missing reference, and no phantom record is created.
			logger.Warn("webhook event could not be correlated, discarding",
				zap.String("provider", provider),
				zap.String("event_type", eventType),
				zap.String("event_id", eventID))
			if err := g.events.MarkCompleted(ctx, record.ID); err != nil {
				return OutcomeAccepted, err
			}
			metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeAccepted)).Inc()
			return OutcomeAccepted, nil
		}

		// Step 5 (failure): FAILED with retry bookkeeping, 5xx upstream.
		if markErr := g.events.MarkFailed(ctx, record.ID, err); markErr != nil {
			logger.Error("failed to record webhook failure",
				zap.String("event_id", eventID), zap.Error(markErr))
		}
		metrics.WebhookEvents.WithLabelValues(provider, "failed").Inc()
		return OutcomeAccepted, err
	}

	// Step 5 (success).
	if err := g.events.MarkCompleted(ctx, record.ID); err != nil {
		return OutcomeAccepted, err
	}
	metrics.WebhookEvents.WithLabelValues(provider, string(OutcomeAccepted)).Inc()
	return OutcomeAccepted, nil
}

// RetrySummary reports one RetryFailedWebhooks run.
type RetrySummary struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// staleAfter is how long a PENDING or PROCESSING event may sit before the
// retry job treats it as abandoned by a crashed run.
const staleAfter = 10 * time.Minute

// RetryFailedWebhooks re-drives FAILED events still under the retry ceiling,
// plus events stranded in PENDING or PROCESSING by a crash mid-pipeline —
// those never reach FAILED on their own, and the provider's redelivery is
// deduped away. Handler idempotency makes a partially applied earlier run
// safe to repeat.
func (g *Gateway) RetryFailedWebhooks(ctx context.Context, maxRetries int) (RetrySummary, error) {
	var summary RetrySummary

	failed, err := g.events.ListFailed(ctx, maxRetries, 50)
	if err != nil {
		return summary, err
	}
	stalled, err := g.events.ListStalled(ctx, time.Now().UTC().Add(-staleAfter), 50)
	if err != nil {
		return summary, err
	}

	for _, record := range append(failed, stalled...) {
		summary.Retried++

		parser, ok := g.parsers[record.Source]
		if !ok {
			summary.Failed++
			continue
		}

		_, _, event, err := parser(record.Payload)
		if err != nil {
			summary.Failed++
			continue
		}

		if err := g.events.Reset(ctx, record.ID); err != nil {
			return summary, err
		}

		if err := g.dispatch(ctx, event); err != nil && !errors.Is(err, settlement.ErrUnknownCorrelation) {
			if markErr := g.events.MarkFailed(ctx, record.ID, err); markErr != nil {
				return summary, markErr
			}
			summary.Failed++
			continue
		}

		if err := g.events.MarkCompleted(ctx, record.ID); err != nil {
			return summary, err
		}
		summary.Succeeded++
	}

	logger.Info("webhook retry run finished",
		zap.Int("retried", summary.Retried),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// ListRecentEvents exposes the audit trail for monitoring.
func (g *Gateway) ListRecentEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return g.events.ListRecent(ctx, limit)
}

// dispatch routes one parsed event to its settlement handler. The switch is
// exhaustive over the Event union; adding a variant without a case here is a
// compile-time visible gap.
func (g *Gateway) dispatch(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case CollectionSucceeded:
		return g.settle.HandleCollectionSucceeded(ctx, e.CollectionID)
	case CollectionFailed:
		return g.settle.HandleCollectionFailed(ctx, e.CollectionID, e.Reason)
	case DisbursementCompleted:
		return g.handleDisbursementCompleted(ctx, e)
	case DisbursementFailed:
		return g.handleDisbursementFailed(ctx, e)
	case DonationConfirmed:
		return g.handleDonationConfirmed(ctx, e)
	case DonationRejected:
		return g.handleDonationRejected(ctx, e)
	case BankSyncAvailable:
		// Sync is driven by the banking collaborator; record and acknowledge.
		logger.Info("bank sync available",
			zap.String("item_id", e.ItemID),
			zap.Int("new_transactions", e.NewTransactions))
		return nil
	case UnknownEvent:
		logger.Info("unhandled webhook event type", zap.String("type", e.Type))
		return nil
	default:
		return fmt.Errorf("no handler for event %T", event)
	}
}
