package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider identifiers. Each has its own signature scheme and event schema
// but shares the one ingestion contract.
const (
	ProviderBanking   = "banking"
	ProviderPayments  = "payments"  // payment-collection processor
	ProviderGrants    = "grants"    // disbursement provider A (partner grant API)
	ProviderDonations = "donations" // disbursement provider B (direct donations)
)

// Event is the tagged union of everything the gateway can dispatch. Handlers
// switch exhaustively over the concrete types; a new event type is a visible
// gap in the switch, not a silently ignored default.
type Event interface {
	isEvent()
}

// CollectionSucceeded confirms the batch payment was collected.
type CollectionSucceeded struct {
	CollectionID string
}

// CollectionFailed reports the batch payment could not be collected.
type CollectionFailed struct {
	CollectionID string
	Reason       string
}

// DisbursementCompleted confirms one grant from provider A reached its
// charity. DonationIDs carries back the metadata sent when the grant was
// created.
type DisbursementCompleted struct {
	DisbursementID string
	DonationIDs    []string
	ReceiptURL     string
}

// DisbursementFailed reports one grant from provider A failed.
type DisbursementFailed struct {
	DisbursementID string
	DonationIDs    []string
	Reason         string
}

// DonationConfirmed is provider B's per-donation completion. Correlation may
// come via metadata, a (user, charity, amount) match, or a stored provider id.
type DonationConfirmed struct {
	ProviderDonationID string
	DonationID         string // explicit id from partner metadata, may be empty
	UserID             string
	NonprofitSlug      string
	Amount             string // decimal string
	ReceiptURL         string
}

// DonationRejected is provider B's per-donation failure.
type DonationRejected struct {
	ProviderDonationID string
	DonationID         string
	Reason             string
}

// BankSyncAvailable is the banking provider announcing new transactions. The
// sync itself is driven by the banking collaborator; the settlement core only
// records and acknowledges.
type BankSyncAvailable struct {
	ItemID          string
	NewTransactions int
}

// UnknownEvent is any event type the gateway recognizes as well-formed but
// has no handler for. Recorded and acknowledged so provider retries stop.
type UnknownEvent struct {
	Type string
}

func (CollectionSucceeded) isEvent()   {}
func (CollectionFailed) isEvent()      {}
func (DisbursementCompleted) isEvent() {}
func (DisbursementFailed) isEvent()    {}
func (DonationConfirmed) isEvent()     {}
func (DonationRejected) isEvent()      {}
func (BankSyncAvailable) isEvent()     {}
func (UnknownEvent) isEvent()          {}

// fallbackEventID derives a deterministic dedup key when a provider omits an
// event id, so redeliveries of the same body still collapse.
func fallbackEventID(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return "body-" + hex.EncodeToString(sum[:])
}

// paymentsEnvelope is the collection processor's wire shape.
type paymentsEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Metadata         map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

func parsePaymentsEvent(rawBody []byte) (eventID, eventType string, event Event, err error) {
	var env paymentsEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", nil, fmt.Errorf("malformed payments payload: %w", err)
	}

	eventID = env.ID
	if eventID == "" {
		eventID = fallbackEventID(rawBody)
	}

	switch env.Type {
	case "payment_intent.succeeded":
		return eventID, env.Type, CollectionSucceeded{CollectionID: env.Data.Object.ID}, nil
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if env.Data.Object.LastPaymentError != nil && env.Data.Object.LastPaymentError.Message != "" {
			reason = env.Data.Object.LastPaymentError.Message
		}
		return eventID, env.Type, CollectionFailed{CollectionID: env.Data.Object.ID, Reason: reason}, nil
	default:
		return eventID, env.Type, UnknownEvent{Type: env.Type}, nil
	}
}

// grantsEnvelope is disbursement provider A's wire shape.
type grantsEnvelope struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		DisbursementID string            `json:"disbursement_id"`
		ReceiptURL     string            `json:"receipt_url"`
		FailureReason  string            `json:"failure_reason"`
		Metadata       map[string]string `json:"metadata"`
	} `json:"data"`
}

func parseGrantsEvent(rawBody []byte) (eventID, eventType string, event Event, err error) {
	var env grantsEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", nil, fmt.Errorf("malformed grants payload: %w", err)
	}

	eventID = env.EventID
	if eventID == "" {
		eventID = fallbackEventID(rawBody)
	}

	var donationIDs []string
	if raw := env.Data.Metadata["donation_ids"]; raw != "" {
		donationIDs = strings.Split(raw, ",")
	}

	switch env.EventType {
	case "disbursement.completed":
		return eventID, env.EventType, DisbursementCompleted{
			DisbursementID: env.Data.DisbursementID,
			DonationIDs:    donationIDs,
			ReceiptURL:     env.Data.ReceiptURL,
		}, nil
	case "disbursement.failed":
		reason := env.Data.FailureReason
		if reason == "" {
			reason = "disbursement failed"
		}
		return eventID, env.EventType, DisbursementFailed{
			DisbursementID: env.Data.DisbursementID,
			DonationIDs:    donationIDs,
			Reason:         reason,
		}, nil
	default:
		return eventID, env.EventType, UnknownEvent{Type: env.EventType}, nil
	}
}

// donationsEnvelope is disbursement provider B's wire shape.
type donationsEnvelope struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Donation  struct {
		ID            string            `json:"id"`
		UserID        string            `json:"user_id"`
		NonprofitSlug string            `json:"nonprofit_slug"`
		Amount        string            `json:"amount"`
		ReceiptURL    string            `json:"receipt_url"`
		FailureReason string            `json:"failure_reason"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"donation"`
}

func parseDonationsEvent(rawBody []byte) (eventID, eventType string, event Event, err error) {
	var env donationsEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", nil, fmt.Errorf("malformed donations payload: %w", err)
	}

	eventID = env.EventID
	if eventID == "" {
		eventID = fallbackEventID(rawBody)
	}

	switch env.EventType {
	case "donation.completed":
		return eventID, env.EventType, DonationConfirmed{
			ProviderDonationID: env.Donation.ID,
			DonationID:         env.Donation.Metadata["donation_id"],
			UserID:             env.Donation.UserID,
			NonprofitSlug:      env.Donation.NonprofitSlug,
			Amount:             env.Donation.Amount,
			ReceiptURL:         env.Donation.ReceiptURL,
		}, nil
	case "donation.failed":
		reason := env.Donation.FailureReason
		if reason == "" {
			reason = "donation failed"
		}
		return eventID, env.EventType, DonationRejected{
			ProviderDonationID: env.Donation.ID,
			DonationID:         env.Donation.Metadata["donation_id"],
			Reason:             reason,
		}, nil
	default:
		return eventID, env.EventType, UnknownEvent{Type: env.EventType}, nil
	}
}

// bankingEnvelope is the banking provider's wire shape.
type bankingEnvelope struct {
	WebhookType     string `json:"webhook_type"`
	WebhookCode     string `json:"webhook_code"`
	ItemID          string `json:"item_id"`
	NewTransactions int    `json:"new_transactions"`
}

func parseBankingEvent(rawBody []byte) (eventID, eventType string, event Event, err error) {
	var env bankingEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", nil, fmt.Errorf("malformed banking payload: %w", err)
	}

	// The banking provider has no event id; the body hash is the dedup key.
	eventID = fallbackEventID(rawBody)
	eventType = env.WebhookType + "." + env.WebhookCode

	if env.WebhookType == "TRANSACTIONS" {
		return eventID, eventType, BankSyncAvailable{
			ItemID:          env.ItemID,
			NewTransactions: env.NewTransactions,
		}, nil
	}
	return eventID, eventType, UnknownEvent{Type: eventType}, nil
}
