package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"donation-settlement-backend/internal/logger"
)

// Grant is one per-charity disbursement request. Metadata carries the
// donation ids so the provider's confirmation webhook can be correlated back.
type Grant struct {
	NonprofitID string            `json:"nonprofit_id"`
	AmountCents int64             `json:"amount"`
	Memo        string            `json:"memo,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type DisbursementResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DisbursementClient is the outbound interface to the donation-disbursement
// provider. Each grant's correlation id is stored on its donations and
// confirmed via webhook.
type DisbursementClient interface {
	CreateDisbursement(ctx context.Context, grant Grant) (*DisbursementResult, error)
}

// HTTPDisbursementClient talks to the disbursement partner API.
type HTTPDisbursementClient struct {
	baseURL       string
	partnerID     string
	partnerSecret string
	webhookURL    string
	client        *http.Client
}

func NewHTTPDisbursementClient(baseURL, partnerID, partnerSecret, webhookURL string) *HTTPDisbursementClient {
	return &HTTPDisbursementClient{
		baseURL:       baseURL,
		partnerID:     partnerID,
		partnerSecret: partnerSecret,
		webhookURL:    webhookURL,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPDisbursementClient) Configured() bool {
	return c.partnerID != "" && c.partnerSecret != ""
}

func (c *HTTPDisbursementClient) CreateDisbursement(ctx context.Context, grant Grant) (*DisbursementResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("disbursement partner API is not configured")
	}

	body := map[string]interface{}{
		"partner_id":    c.partnerID,
		"disbursements": []Grant{grant},
		"webhook_url":   c.webhookURL,
	}

	var result DisbursementResult
	err := withRetry(ctx, "create_disbursement", func() error {
		return c.post(ctx, "/disbursements", body, &result)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("disbursement created",
		zap.String("disbursement_id", result.ID),
		zap.String("nonprofit_id", grant.NonprofitID),
		zap.Int64("amount_cents", grant.AmountCents))

	return &result, nil
}

func (c *HTTPDisbursementClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.partnerSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return json.Unmarshal(respBody, out)
}
