package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Provider webhook event types
const (
	ProviderEventPaymentConfirmed = "PAYMENT_CONFIRMED"
	ProviderEventPaymentReceived  = "PAYMENT_RECEIVED"
	ProviderEventPaymentOverdue   = "PAYMENT_OVERDUE"
	ProviderEventPaymentRefunded  = "PAYMENT_REFUNDED"
	ProviderEventPaymentCancelled = "PAYMENT_CANCELLED"
)

// Internal event types published to Kafka
const (
	EventTypeEventReceived  = "EVENT_RECEIVED"
	EventTypeCommissionPaid = "COMMISSION_PAID"
	EventTypeSplitFailed    = "SPLIT_FAILED"
)

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventReceivedEvent is the persisted-work-item pointer published when a
// webhook event is accepted; the worker loads the row by external id.
type EventReceivedEvent struct {
	BaseEvent
	ExternalEventID string `json:"external_event_id"`
}

// CommissionPaidEvent notifies an affiliate that a commission was credited.
// Consumed by the notification service.
type CommissionPaidEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	AffiliateID int64  `json:"affiliate_id"`
	Level       int    `json:"level"`
	AmountCents int64  `json:"amount_cents"`
	WalletID    string `json:"wallet_id"`
}

// SplitFailedEvent surfaces an exhausted split to the operator queue.
type SplitFailedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	TotalCents int64  `json:"total_cents"`
	Reason     string `json:"reason"`
}

// PaymentNotification is the strict form of a provider webhook payload.
// Unknown event types are preserved so the processor can route them to the
// explicit no-op branch instead of dropping them silently.
type PaymentNotification struct {
	ExternalEventID string
	EventType       string
	PaymentID       string
	PaymentStatus   string
	ValueCents      int64
	OrderID         int64
	CustomerID      string
}

// KnownEventType reports whether the notification carries one of the payment
// event types this service settles on.
func (n *PaymentNotification) KnownEventType() bool {
	switch n.EventType {
	case ProviderEventPaymentConfirmed,
		ProviderEventPaymentReceived,
		ProviderEventPaymentOverdue,
		ProviderEventPaymentRefunded,
		ProviderEventPaymentCancelled:
		return true
	}
	return false
}

// webhookEnvelope mirrors the provider's wire shape
// { id, event, payment: { id, status, value, externalReference, customer } }.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		Value             int64  `json:"value"`
		ExternalReference string `json:"externalReference"`
		Customer          string `json:"customer"`
	} `json:"payment"`
}

// ParseNotification decodes a raw webhook payload into a PaymentNotification.
// It validates the fields the settlement pipeline depends on; event-type
// validity is left to the caller so unknown types can be acknowledged as
// no-ops rather than failed.
func ParseNotification(raw []byte) (*PaymentNotification, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	if env.ID == "" {
		return nil, fmt.Errorf("webhook payload missing event id")
	}
	if env.Event == "" {
		return nil, fmt.Errorf("webhook payload missing event type")
	}
	if env.Payment.ID == "" {
		return nil, fmt.Errorf("webhook payload missing payment id")
	}

	orderID, err := strconv.ParseInt(env.Payment.ExternalReference, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid externalReference %q: %w", env.Payment.ExternalReference, err)
	}
	if env.Payment.Value < 0 {
		return nil, fmt.Errorf("negative payment value %d", env.Payment.Value)
	}

	return &PaymentNotification{
		ExternalEventID: env.ID,
		EventType:       env.Event,
		PaymentID:       env.Payment.ID,
		PaymentStatus:   env.Payment.Status,
		ValueCents:      env.Payment.Value,
		OrderID:         orderID,
		CustomerID:      env.Payment.Customer,
	}, nil
}

// PeekEventID extracts only the external event id and type from a raw
// payload, for persisting the event before full validation.
func PeekEventID(raw []byte) (id, eventType string, err error) {
	var env struct {
		ID    string `json:"id"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "", fmt.Errorf("malformed webhook payload: %w", err)
	}
	if env.ID == "" {
		return "", "", fmt.Errorf("webhook payload missing event id")
	}
	return env.ID, env.Event, nil
}
