package checkout

import (
	"encoding/json"
	"fmt"
)

// Webhook event types the reconciler handles. Delivery is at-least-once and
// unordered across retries.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// Payment status values on a session.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Session is a checkout session as the payment provider reports it.
type Session struct {
	ID                string            `json:"id"`
	URL               string            `json:"url,omitempty"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

// Event is a webhook event envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object Session `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("invalid event payload: missing type")
	}
	return &ev, nil
}
