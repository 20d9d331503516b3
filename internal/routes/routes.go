package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"donation-settlement-backend/internal/cache"
	"donation-settlement-backend/internal/config"
	handler "donation-settlement-backend/internal/handlers"
	"donation-settlement-backend/internal/notify"
	"donation-settlement-backend/internal/providers"
	"donation-settlement-backend/internal/repository"
	"donation-settlement-backend/internal/services/matching"
	"donation-settlement-backend/internal/services/settlement"
	"donation-settlement-backend/internal/services/webhooks"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB) {
	cfg := config.Global

	mappingRepo := repository.NewMappingRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	donationRepo := repository.NewDonationRepository(db)

	ttl := time.Duration(cfg.Donations.MappingCacheTTLSeconds) * time.Second
	var mappingCache cache.MappingCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mappingCache = cache.NewRedisMappingCache(mappingRepo, client, ttl)
	} else {
		mappingCache = cache.NewTTLMappingCache(mappingRepo, ttl)
	}

	collectionClient := providers.NewHTTPCollectionClient(
		cfg.Providers.Collection.BaseURL,
		cfg.Providers.Collection.APIKey,
	)
	disbursementClient := providers.NewHTTPDisbursementClient(
		cfg.Providers.Disbursement.BaseURL,
		cfg.Providers.Disbursement.PartnerID,
		cfg.Providers.Disbursement.PartnerSecret,
		cfg.App.BaseURL+"/webhooks/grants",
	)

	minBatchTotal, err := decimal.NewFromString(cfg.Donations.MinBatchTotal)
	if err != nil {
		minBatchTotal = decimal.NewFromInt(1)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify.Endpoint, cfg.Notify.Token)
	}

	settleService := settlement.NewService(
		db,
		matching.NewMatcher(mappingCache),
		collectionClient,
		disbursementClient,
		notifier,
		minBatchTotal,
	)

	gateway := webhooks.NewGateway(
		eventRepo,
		donationRepo,
		settleService,
		map[string]webhooks.Verifier{
			webhooks.ProviderBanking:   webhooks.NewJWTVerifier(cfg.Providers.Banking.VerificationKey),
			webhooks.ProviderPayments:  webhooks.NewHMACVerifier(cfg.Providers.Collection.WebhookSecret),
			webhooks.ProviderGrants:    webhooks.NewHMACVerifier(cfg.Providers.Disbursement.WebhookSecret),
			webhooks.ProviderDonations: webhooks.NewHMACVerifier(cfg.Providers.Disbursement.WebhookSecret),
		},
		cfg.App.Env,
	)

	webhookHandler := handler.NewWebhookHandler(gateway)
	syncHandler := handler.NewSyncHandler(settleService)
	jobsHandler := handler.NewJobsHandler(
		settleService,
		gateway,
		mappingCache,
		cfg.App.InternalToken,
		cfg.Donations.MaxWebhookRetries,
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Inbound provider webhooks; signature verification over the raw body
	// happens in the gateway.
	r.POST("/webhooks/:provider", webhookHandler.Receive)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api.POST("/transactions/sync", syncHandler.IngestTransactions)

	// Internal job triggers and monitoring
	internal := api.Group("/internal", jobsHandler.Authorize)
	{
		internal.POST("/jobs/weekly-batches", jobsHandler.RunWeeklyBatches)
		internal.POST("/jobs/collect-batches", jobsHandler.RunBatchCollection)
		internal.POST("/jobs/retry-webhooks", jobsHandler.RetryWebhooks)
		internal.POST("/jobs/reprocess-transactions", jobsHandler.ReprocessPendingTransactions)
		internal.POST("/jobs/reset-monthly-totals", jobsHandler.ResetMonthlyTotals)
		internal.GET("/webhook-events", jobsHandler.ListWebhookEvents)
		internal.POST("/mappings/invalidate", jobsHandler.InvalidateMappings)
	}
}
