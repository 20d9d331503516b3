package handler

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"donation-settlement-backend/internal/cache"
	"donation-settlement-backend/internal/services/settlement"
	"donation-settlement-backend/internal/services/webhooks"
)

// JobsHandler exposes the internally triggered maintenance jobs. Scheduling
// lives outside the service (cron, or the jobctl CLI); every endpoint is
// guarded by the internal token.
type JobsHandler struct {
	settle            *settlement.Service
	gateway           *webhooks.Gateway
	mappings          cache.MappingCache
	token             string
	maxWebhookRetries int
}

func NewJobsHandler(
	settle *settlement.Service,
	gateway *webhooks.Gateway,
	mappings cache.MappingCache,
	token string,
	maxWebhookRetries int,
) *JobsHandler {
	return &JobsHandler{
		settle:            settle,
		gateway:           gateway,
		mappings:          mappings,
		token:             token,
		maxWebhookRetries: maxWebhookRetries,
	}
}

// Authorize is the middleware guarding the internal route group.
func (h *JobsHandler) Authorize(c *gin.Context) {
	got := c.GetHeader("X-Internal-Token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *JobsHandler) RunWeeklyBatches(c *gin.Context) {
	summary, err := h.settle.CreateWeeklyBatches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "weekly batches created", "summary": summary})
}

func (h *JobsHandler) RunBatchCollection(c *gin.Context) {
	summary, err := h.settle.CollectReadyBatches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch collection swept", "summary": summary})
}

func (h *JobsHandler) RetryWebhooks(c *gin.Context) {
	summary, err := h.gateway.RetryFailedWebhooks(c.Request.Context(), h.maxWebhookRetries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "webhook retry finished", "summary": summary})
}

func (h *JobsHandler) ReprocessPendingTransactions(c *gin.Context) {
	n, err := h.settle.ReprocessPendingTransactions(c.Request.Context(), 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pending transactions reprocessed", "processed": n})
}

func (h *JobsHandler) ResetMonthlyTotals(c *gin.Context) {
	n, err := h.settle.ResetStaleMonthlyCounters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "monthly totals reset", "users_reset": n})
}

func (h *JobsHandler) ListWebhookEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := h.gateway.ListRecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// InvalidateMappings flushes the mapping cache after an out-of-band admin
// update that can't wait out the TTL.
func (h *JobsHandler) InvalidateMappings(c *gin.Context) {
	if err := h.mappings.Invalidate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mapping cache invalidated"})
}
