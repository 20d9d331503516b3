package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"donation-settlement-backend/internal/logger"
	"donation-settlement-backend/internal/services/settlement"
)

type SyncHandler struct {
	settle *settlement.Service
}

func NewSyncHandler(s *settlement.Service) *SyncHandler {
	return &SyncHandler{settle: s}
}

// IngestTransactions is the callback target for the banking collaborator's
// sync worker. Rows are keyed on the provider transaction id, so a replayed
// page counts as duplicates instead of double-processing.
func (h *SyncHandler) IngestTransactions(c *gin.Context) {
	var payload struct {
		UserID       string `json:"user_id"`
		Transactions []struct {
			ID           string   `json:"id"`
			MerchantName string   `json:"merchant_name"`
			Amount       string   `json:"amount"`
			Date         string   `json:"date"` // "yyyy-mm-dd"
			Category     []string `json:"category"`
		} `json:"transactions"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	ingested := 0
	duplicates := 0
	skipped := 0

	for _, row := range payload.Transactions {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil || row.ID == "" {
			skipped++
			continue
		}

		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			skipped++
			continue
		}

		_, inserted, err := h.settle.IngestTransaction(c.Request.Context(), settlement.IngestInput{
			UserID:                userID,
			ProviderTransactionID: row.ID,
			MerchantName:          row.MerchantName,
			Amount:                amount,
			Date:                  date,
			Category:              row.Category,
		})
		if err != nil {
			// The row is stored; matching can be re-driven later.
			logger.Error("transaction ingested but processing failed",
				zap.String("provider_transaction_id", row.ID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction processing failed"})
			return
		}
		if inserted {
			ingested++
		} else {
			duplicates++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"ingested":   ingested,
		"duplicates": duplicates,
		"skipped":    skipped,
	})
}
