package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"donation-settlement-backend/internal/logger"
)

// Notifier surfaces user-facing failure signals. The settlement core only
// knows the user and a reason; rendering and delivery live elsewhere.
type Notifier interface {
	NotifyDonationFailure(ctx context.Context, userID uuid.UUID, reason string) error
}

// NopNotifier is used when no notification service is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyDonationFailure(ctx context.Context, userID uuid.UUID, reason string) error {
	logger.Warn("donation failure not notified, notifier unconfigured",
		zap.String("user_id", userID.String()),
		zap.String("reason", reason))
	return nil
}

// HTTPNotifier posts failure notifications to the email collaborator.
type HTTPNotifier struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPNotifier(endpoint, token string) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HTTPNotifier) NotifyDonationFailure(ctx context.Context, userID uuid.UUID, reason string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id": userID.String(),
		"type":    "donation_failure",
		"reason":  reason,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
