package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionPayment(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"pending to confirmed", PaymentStatusPending, PaymentStatusConfirmed, true},
		{"pending to overdue", PaymentStatusPending, PaymentStatusOverdue, true},
		{"overdue to confirmed", PaymentStatusOverdue, PaymentStatusConfirmed, true},
		{"confirmed to received", PaymentStatusConfirmed, PaymentStatusReceived, true},
		{"received to refunded", PaymentStatusReceived, PaymentStatusRefunded, true},
		{"confirmed to cancelled", PaymentStatusConfirmed, PaymentStatusCancelled, true},
		{"received to overdue regression", PaymentStatusReceived, PaymentStatusOverdue, false},
		{"confirmed to pending regression", PaymentStatusConfirmed, PaymentStatusPending, false},
		{"received to confirmed regression", PaymentStatusReceived, PaymentStatusConfirmed, false},
		{"same status", PaymentStatusConfirmed, PaymentStatusConfirmed, false},
		{"refunded to cancelled same rank", PaymentStatusRefunded, PaymentStatusCancelled, false},
		{"unknown from ranks below everything", "BOGUS", PaymentStatusConfirmed, true},
		{"unknown to", PaymentStatusPending, "BOGUS", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionPayment(tt.from, tt.to))
		})
	}
}

func TestAffiliateChainSkipsUnsetTiers(t *testing.T) {
	order := &Order{}
	order.AffiliateN1 = sql.NullInt64{Int64: 7, Valid: true}
	order.AffiliateN3 = sql.NullInt64{Int64: 9, Valid: true}

	chain := order.AffiliateChain()
	assert.Equal(t, map[int]int64{1: 7, 3: 9}, chain)
}

func TestParseNotification(t *testing.T) {
	raw := []byte(`{
		"id": "evt_123",
		"event": "PAYMENT_CONFIRMED",
		"payment": {
			"id": "pay_456",
			"status": "CONFIRMED",
			"value": 400000,
			"externalReference": "100",
			"customer": "cus_789"
		}
	}`)

	n, err := ParseNotification(raw)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", n.ExternalEventID)
	assert.Equal(t, ProviderEventPaymentConfirmed, n.EventType)
	assert.Equal(t, "pay_456", n.PaymentID)
	assert.Equal(t, int64(400000), n.ValueCents)
	assert.Equal(t, int64(100), n.OrderID)
	assert.Equal(t, "cus_789", n.CustomerID)
	assert.True(t, n.KnownEventType())
}

func TestParseNotificationRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"id": "evt_1"`},
		{"missing event id", `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","externalReference":"100"}}`},
		{"missing event type", `{"id":"evt_1","payment":{"id":"pay_1","externalReference":"100"}}`},
		{"missing payment id", `{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"externalReference":"100"}}`},
		{"non-numeric reference", `{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","externalReference":"order-abc"}}`},
		{"negative value", `{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","value":-100,"externalReference":"100"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNotification([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseNotificationKeepsUnknownEventType(t *testing.T) {
	raw := []byte(`{"id":"evt_1","event":"SUBSCRIPTION_RENEWED","payment":{"id":"pay_1","value":100,"externalReference":"100"}}`)

	n, err := ParseNotification(raw)
	require.NoError(t, err)
	assert.False(t, n.KnownEventType())
	assert.Equal(t, "SUBSCRIPTION_RENEWED", n.EventType)
}

func TestPeekEventID(t *testing.T) {
	id, eventType, err := PeekEventID([]byte(`{"id":"evt_1","event":"PAYMENT_RECEIVED","payment":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", id)
	assert.Equal(t, ProviderEventPaymentReceived, eventType)

	_, _, err = PeekEventID([]byte(`{"event":"PAYMENT_RECEIVED"}`))
	assert.Error(t, err)

	_, _, err = PeekEventID([]byte(`not-json`))
	assert.Error(t, err)
}
