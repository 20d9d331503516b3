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

// CollectionRequest initiates one ACH-style payment pulling a batch total
// from the user's linked bank account. Amounts are in cents on the wire.
type CollectionRequest struct {
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	AmountCents     int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type CollectionResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CollectionClient is the outbound interface to the payment-collection
// provider. The returned correlation id is stored on the batch and confirmed
// or denied later via webhook.
type CollectionClient interface {
	InitiateCollection(ctx context.Context, req CollectionRequest) (*CollectionResult, error)
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: %d - %s", e.StatusCode, e.Body)
}

// HTTPCollectionClient talks to the collection provider's REST API.
type HTTPCollectionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPCollectionClient(baseURL, apiKey string) *HTTPCollectionClient {
	return &HTTPCollectionClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPCollectionClient) InitiateCollection(ctx context.Context, req CollectionRequest) (*CollectionResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("collection provider API key is not configured")
	}

	var result CollectionResult
	err := withRetry(ctx, "initiate_collection", func() error {
		return c.post(ctx, "/payment_intents", req, &result)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("collection initiated",
		zap.String("collection_id", result.ID),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("status", result.Status))

	return &result, nil
}

func (c *HTTPCollectionClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
