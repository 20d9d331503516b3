package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"donation-settlement-backend/internal/services/webhooks"
)

type WebhookHandler struct {
	gateway *webhooks.Gateway
}

func NewWebhookHandler(g *webhooks.Gateway) *WebhookHandler {
	return &WebhookHandler{gateway: g}
}

// Receive is the single inbound endpoint for all provider webhooks. The
// response contract matters: 401 means don't retry, 200 means delivered
// (including duplicates), 5xx asks the provider to redeliver.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	outcome, err := h.gateway.Ingest(c.Request.Context(), provider, body, signatureHeader(c, provider))
	switch outcome {
	case webhooks.OutcomeRejected:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
	case webhooks.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
	default:
		if err != nil {
			// Recorded but not applied; the provider should redeliver.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// signatureHeader picks the provider's signature transport: the banking
// provider sends a verification JWT, everyone else an HMAC digest.
func signatureHeader(c *gin.Context, provider string) string {
	if provider == webhooks.ProviderBanking {
		return c.GetHeader("X-Webhook-Verification")
	}
	return c.GetHeader("X-Webhook-Signature")
}
