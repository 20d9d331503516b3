package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"donation-settlement-backend/internal/cache"
	"donation-settlement-backend/internal/models"
	"donation-settlement-backend/internal/notify"
	"donation-settlement-backend/internal/providers"
	"donation-settlement-backend/internal/repository"
	"donation-settlement-backend/internal/services/matching"
	"donation-settlement-backend/internal/services/settlement"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Named shared-cache database: gorm's pool opens several connections and
	// a plain :memory: would give each one its own empty database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

type fakeDisbursementClient struct {
	grants []providers.Grant
	err    error
}

func (f *fakeDisbursementClient) CreateDisbursement(_ context.Context, grant providers.Grant) (*providers.DisbursementResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.grants = append(f.grants, grant)
	return &providers.DisbursementResult{ID: fmt.Sprintf("disb_%d", len(f.grants)), Status: "pending"}, nil
}

type fakeCollectionClient struct {
	calls int
}

func (f *fakeCollectionClient) InitiateCollection(_ context.Context, _ providers.CollectionRequest) (*providers.CollectionResult, error) {
	f.calls++
	return &providers.CollectionResult{ID: fmt.Sprintf("pi_%d", f.calls), Status: "processing"}, nil
}

func newTestGateway(t *testing.T, db *gorm.DB, disb providers.DisbursementClient) *Gateway {
	t.Helper()

	matcher := matching.NewMatcher(cache.NewTTLMappingCache(repository.NewMappingRepository(db), time.Minute))
	settle := settlement.NewService(db, matcher, &fakeCollectionClient{}, disb, notify.NopNotifier{}, decimal.Zero)

	return NewGateway(
		repository.NewWebhookEventRepository(db),
		repository.NewDonationRepository(db),
		settle,
		map[string]Verifier{
			ProviderPayments:  NewHMACVerifier("whsec_pay"),
			ProviderGrants:    NewHMACVerifier("whsec_grants"),
			ProviderDonations: NewHMACVerifier("whsec_don"),
		},
		"test",
	)
}

// seedProcessingBatch creates a user, a PROCESSING batch with one PENDING
// member donation, all wired to the given collection id.
func seedProcessingBatch(t *testing.T, db *gorm.DB, collectionID string) (models.User, models.DonationBatch, models.Donation) {
	t.Helper()

	user := models.User{
		ID:                 uuid.New(),
		Email:              uuid.NewString() + "@example.com",
		DonationMultiplier: decimal.NewFromInt(1),
		AutoDonateEnabled:  true,
		PaymentMethodID:    "pm_1",
	}
	require.NoError(t, db.Create(&user).Error)

	batch := models.DonationBatch{
		ID:           uuid.New(),
		UserID:       user.ID,
		WeekOf:       settlement.WeekStart(time.Now().UTC()),
		TotalAmount:  decimal.RequireFromString("2.50"),
		Status:       models.BatchProcessing,
		CollectionID: collectionID,
	}
	require.NoError(t, db.Create(&batch).Error)

	txID := uuid.New()
	tx := models.Transaction{
		ID:                    txID,
		UserID:                user.ID,
		ProviderTransactionID: uuid.NewString(),
		MerchantName:          "Chick-Fil-A",
		Amount:                decimal.RequireFromString("12.50"),
		Date:                  time.Now().UTC(),
		Status:                models.TransactionBatched,
	}
	require.NoError(t, db.Create(&tx).Error)

	donation := models.Donation{
		ID:            uuid.New(),
		UserID:        user.ID,
		TransactionID: &txID,
		BatchID:       &batch.ID,
		CharitySlug:   "feeding-america",
		CharityName:   "Feeding America",
		Amount:        decimal.RequireFromString("2.50"),
		Status:        models.DonationPending,
	}
	require.NoError(t, db.Create(&donation).Error)

	return user, batch, donation
}

func paymentsBody(eventID, eventType, intentID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{"id": intentID},
		},
	})
	return body
}

func TestGateway_CollectionSucceededCreatesGrants(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{}
	gateway := newTestGateway(t, db, disb)
	_, _, donation := seedProcessingBatch(t, db, "pi_123")

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, hmacSign("whsec_pay", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	require.Len(t, disb.grants, 1)
	assert.Equal(t, "feeding-america", disb.grants[0].NonprofitID)
	assert.Equal(t, int64(250), disb.grants[0].AmountCents)
	assert.Equal(t, donation.ID.String(), disb.grants[0].Metadata["donation_ids"])

	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationProcessing, got.Status)
	assert.Equal(t, "disb_1", got.DisbursementID)

	var event models.WebhookEvent
	require.NoError(t, db.First(&event, "source = ? AND event_id = ?", ProviderPayments, "evt_1").Error)
	assert.Equal(t, models.WebhookCompleted, event.Status)
}

func TestGateway_DuplicateDeliveryIsNoOp(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{}
	gateway := newTestGateway(t, db, disb)
	seedProcessingBatch(t, db, "pi_123")

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	sig := hmacSign("whsec_pay", body)

	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, outcome)

	outcome, err = gateway.Ingest(context.Background(), ProviderPayments, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// The redelivery ran no handler: still exactly one grant.
	assert.Len(t, disb.grants, 1)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGateway_RejectsBadSignature(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, "sha256=deadbeef")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)

	// Rejected deliveries leave no record.
	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestGateway_RejectsUnknownProvider(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})

	outcome, err := gateway.Ingest(context.Background(), "carrier-pigeon", []byte(`{}`), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestGateway_NoSecretRejectedInProduction(t *testing.T) {
	db := openTestDB(t)
	gateway := NewGateway(
		repository.NewWebhookEventRepository(db),
		repository.NewDonationRepository(db),
		nil,
		map[string]Verifier{ProviderPayments: NewHMACVerifier("")},
		"production",
	)

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
}

func TestGateway_CorrelationMissIsDiscarded(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})

	// No batch carries this collection id.
	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_unknown")
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, hmacSign("whsec_pay", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	// Recorded and closed out; a provider retry would be a duplicate.
	var event models.WebhookEvent
	require.NoError(t, db.First(&event, "source = ? AND event_id = ?", ProviderPayments, "evt_1").Error)
	assert.Equal(t, models.WebhookCompleted, event.Status)
}

func TestGateway_HandlerFailureRecordedAndRetried(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{err: errors.New("provider is down")}
	gateway := newTestGateway(t, db, disb)
	_, _, donation := seedProcessingBatch(t, db, "pi_123")

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, hmacSign("whsec_pay", body))
	require.Error(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	var event models.WebhookEvent
	require.NoError(t, db.First(&event, "source = ? AND event_id = ?", ProviderPayments, "evt_1").Error)
	assert.Equal(t, models.WebhookFailed, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	assert.Contains(t, event.Error, "provider is down")

	// Provider recovers; the retry job re-drives the stored payload.
	disb.err = nil
	summary, err := gateway.RetryFailedWebhooks(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, 1, summary.Succeeded)

	require.NoError(t, db.First(&event, "id = ?", event.ID).Error)
	assert.Equal(t, models.WebhookCompleted, event.Status)

	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationProcessing, got.Status)
}

func TestGateway_RetryStopsAtCeiling(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{err: errors.New("still down")}
	gateway := newTestGateway(t, db, disb)
	seedProcessingBatch(t, db, "pi_123")

	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	_, err := gateway.Ingest(context.Background(), ProviderPayments, body, hmacSign("whsec_pay", body))
	require.Error(t, err)

	for i := 0; i < 3; i++ {
		_, err := gateway.RetryFailedWebhooks(context.Background(), 3)
		require.NoError(t, err)
	}

	// retry_count reached the ceiling; further runs pick up nothing.
	summary, err := gateway.RetryFailedWebhooks(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Retried)
}

func TestGateway_StalledEventIsRedriven(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{}
	gateway := newTestGateway(t, db, disb)
	_, _, donation := seedProcessingBatch(t, db, "pi_123")

	// A crash after recording the event leaves it PENDING with no handler
	// run. The row is old enough that a restart clearly isn't about to
	// finish it.
	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	stranded := models.WebhookEvent{
		ID:        uuid.New(),
		Source:    ProviderPayments,
		EventType: "payment_intent.succeeded",
		EventID:   "evt_1",
		Payload:   datatypes.JSON(body),
		Status:    models.WebhookPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&stranded).Error)

	// The provider's redelivery is deduped away, so it cannot recover the
	// event on its own.
	outcome, err := gateway.Ingest(context.Background(), ProviderPayments, body, hmacSign("whsec_pay", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Empty(t, disb.grants)

	summary, err := gateway.RetryFailedWebhooks(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, 1, summary.Succeeded)

	var event models.WebhookEvent
	require.NoError(t, db.First(&event, "id = ?", stranded.ID).Error)
	assert.Equal(t, models.WebhookCompleted, event.Status)

	require.Len(t, disb.grants, 1)
	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationProcessing, got.Status)
	assert.Equal(t, "disb_1", got.DisbursementID)
}

func TestGateway_FreshPendingEventIsLeftAlone(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})
	seedProcessingBatch(t, db, "pi_123")

	// An event recorded moments ago may still be mid-dispatch on another
	// request; the retry job must not race it.
	body := paymentsBody("evt_1", "payment_intent.succeeded", "pi_123")
	fresh := models.WebhookEvent{
		ID:        uuid.New(),
		Source:    ProviderPayments,
		EventType: "payment_intent.succeeded",
		EventID:   "evt_1",
		Payload:   datatypes.JSON(body),
		Status:    models.WebhookProcessing,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&fresh).Error)

	summary, err := gateway.RetryFailedWebhooks(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Retried)

	var event models.WebhookEvent
	require.NoError(t, db.First(&event, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.WebhookProcessing, event.Status)
}

func TestGateway_DisbursementCompletedSettlesDonations(t *testing.T) {
	db := openTestDB(t)
	disb := &fakeDisbursementClient{}
	gateway := newTestGateway(t, db, disb)
	_, batch, donation := seedProcessingBatch(t, db, "pi_123")

	// Move the donation to PROCESSING with a known disbursement id first.
	require.NoError(t, db.Model(&models.Donation{}).Where("id = ?", donation.ID).
		Updates(map[string]interface{}{"status": models.DonationProcessing, "disbursement_id": "disb_9"}).Error)

	body, _ := json.Marshal(map[string]interface{}{
		"event_id":   "ge_1",
		"event_type": "disbursement.completed",
		"data": map[string]interface{}{
			"disbursement_id": "disb_9",
			"receipt_url":     "https://grants.example/receipts/disb_9",
			"metadata":        map[string]string{"donation_ids": donation.ID.String()},
		},
	})
	outcome, err := gateway.Ingest(context.Background(), ProviderGrants, body, hmacSign("whsec_grants", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationCompleted, got.Status)
	assert.Equal(t, "https://grants.example/receipts/disb_9", got.ReceiptURL)
	require.NotNil(t, got.CompletedAt)

	var gotTx models.Transaction
	require.NoError(t, db.First(&gotTx, "id = ?", donation.TransactionID).Error)
	assert.Equal(t, models.TransactionDonated, gotTx.Status)

	// Last open member settled: the batch rolls up to COMPLETED.
	var gotBatch models.DonationBatch
	require.NoError(t, db.First(&gotBatch, "id = ?", batch.ID).Error)
	assert.Equal(t, models.BatchCompleted, gotBatch.Status)
}

func TestGateway_DonationConfirmedFallbackCorrelation(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})
	user, _, donation := seedProcessingBatch(t, db, "pi_123")

	// No metadata donation_id and no stored provider id: the handler falls
	// back to the open (user, charity, amount) match.
	body, _ := json.Marshal(map[string]interface{}{
		"event_id":   "de_1",
		"event_type": "donation.completed",
		"donation": map[string]interface{}{
			"id":             "pd_77",
			"user_id":        user.ID.String(),
			"nonprofit_slug": "feeding-america",
			"amount":         "2.50",
			"receipt_url":    "https://donations.example/pd_77",
		},
	})
	outcome, err := gateway.Ingest(context.Background(), ProviderDonations, body, hmacSign("whsec_don", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationCompleted, got.Status)
	assert.Equal(t, "pd_77", got.DisbursementID)
}

func TestGateway_CompletedDonationIsSticky(t *testing.T) {
	db := openTestDB(t)
	gateway := newTestGateway(t, db, &fakeDisbursementClient{})
	_, _, donation := seedProcessingBatch(t, db, "pi_123")

	require.NoError(t, db.Model(&models.Donation{}).Where("id = ?", donation.ID).
		Updates(map[string]interface{}{"status": models.DonationCompleted, "disbursement_id": "disb_9"}).Error)

	// A late failure webhook for the same disbursement must not move it.
	body, _ := json.Marshal(map[string]interface{}{
		"event_id":   "ge_2",
		"event_type": "disbursement.failed",
		"data": map[string]interface{}{
			"disbursement_id": "disb_9",
			"failure_reason":  "charity account closed",
			"metadata":        map[string]string{"donation_ids": donation.ID.String()},
		},
	})
	outcome, err := gateway.Ingest(context.Background(), ProviderGrants, body, hmacSign("whsec_grants", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	var got models.Donation
	require.NoError(t, db.First(&got, "id = ?", donation.ID).Error)
	assert.Equal(t, models.DonationCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}
