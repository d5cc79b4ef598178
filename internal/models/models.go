package models

import (
	"database/sql"
	"time"
)

// InboundEvent is one provider webhook notification, persisted before any
// processing. The unique constraint on external_event_id is what turns the
// provider's at-least-once delivery into at-most-once processing.
type InboundEvent struct {
	ID              int64          `db:"id" json:"id"`
	ExternalEventID string         `db:"external_event_id" json:"external_event_id"`
	EventType       string         `db:"event_type" json:"event_type"`
	RawPayload      []byte         `db:"raw_payload" json:"-"`
	Processed       bool           `db:"processed" json:"processed"`
	Attempts        int            `db:"attempts" json:"attempts"`
	ProcessingError sql.NullString `db:"processing_error" json:"processing_error,omitempty"`
	ReceivedAt      time.Time      `db:"received_at" json:"received_at"`
	ProcessedAt     sql.NullTime   `db:"processed_at" json:"processed_at,omitempty"`
}

// Affiliate is a member of the referral program. WalletID is the
// provider-side wallet that receives split payouts.
type Affiliate struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	WalletID     string    `db:"wallet_id" json:"wallet_id"`
	ReferralCode string    `db:"referral_code" json:"referral_code"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Order is owned by the sales subsystem; this service reads the affiliate
// chain and writes status on payment confirmation.
type Order struct {
	ID           int64         `db:"id" json:"id"`
	TotalCents   int64         `db:"total_cents" json:"total_cents"`
	Status       string        `db:"status" json:"status"`
	ReferralCode string        `db:"referral_code" json:"referral_code,omitempty"`
	AffiliateN1  sql.NullInt64 `db:"affiliate_n1" json:"affiliate_n1,omitempty"`
	AffiliateN2  sql.NullInt64 `db:"affiliate_n2" json:"affiliate_n2,omitempty"`
	AffiliateN3  sql.NullInt64 `db:"affiliate_n3" json:"affiliate_n3,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// AffiliateChain returns the referral lineage as (level, affiliateID) in
// level order, skipping unset tiers.
func (o *Order) AffiliateChain() map[int]int64 {
	chain := make(map[int]int64, 3)
	for level, col := range map[int]sql.NullInt64{1: o.AffiliateN1, 2: o.AffiliateN2, 3: o.AffiliateN3} {
		if col.Valid {
			chain[level] = col.Int64
		}
	}
	return chain
}

// Payment is one external payment attempt tied to an order.
type Payment struct {
	ID                int64        `db:"id" json:"id"`
	ProviderPaymentID string       `db:"provider_payment_id" json:"provider_payment_id"`
	OrderID           int64        `db:"order_id" json:"order_id"`
	Status            string       `db:"status" json:"status"`
	ValueCents        int64        `db:"value_cents" json:"value_cents"`
	ConfirmedAt       sql.NullTime `db:"confirmed_at" json:"confirmed_at,omitempty"`
	PaidAt            sql.NullTime `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// Commission is one per-affiliate, per-level credit for an order. At most one
// row exists per (order_id, level), enforced by a unique constraint.
type Commission struct {
	ID          int64          `db:"id" json:"id"`
	OrderID     int64          `db:"order_id" json:"order_id"`
	AffiliateID int64          `db:"affiliate_id" json:"affiliate_id"`
	Level       int            `db:"level" json:"level"`
	PercentBP   int64          `db:"percent_bp" json:"percent_bp"`
	AmountCents int64          `db:"amount_cents" json:"amount_cents"`
	Status      string         `db:"status" json:"status"`
	Reason      sql.NullString `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// CommissionSplit is the money-movement instruction sent to the provider for
// one order's aggregate commission.
type CommissionSplit struct {
	ID               int64          `db:"id" json:"id"`
	OrderID          int64          `db:"order_id" json:"order_id"`
	TotalCents       int64          `db:"total_cents" json:"total_cents"`
	Status           string         `db:"status" json:"status"`
	ProviderSplitID  sql.NullString `db:"provider_split_id" json:"provider_split_id,omitempty"`
	ProviderResponse sql.NullString `db:"provider_response" json:"provider_response,omitempty"`
	RetryCount       int            `db:"retry_count" json:"retry_count"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusPaid       = "PAID"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusOverdue   = "OVERDUE"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusReceived  = "RECEIVED"
	PaymentStatusRefunded  = "REFUNDED"
	PaymentStatusCancelled = "CANCELLED"
)

// Affiliate statuses
const (
	AffiliateStatusActive   = "ACTIVE"
	AffiliateStatusInactive = "INACTIVE"
)

// Commission statuses
const (
	CommissionStatusPending  = "PENDING"
	CommissionStatusPaid     = "PAID"
	CommissionStatusRejected = "REJECTED"
)

// Split statuses
const (
	SplitStatusPending  = "PENDING"
	SplitStatusExecuted = "EXECUTED"
	SplitStatusFailed   = "FAILED"
)

// paymentStatusRank defines the monotonic lattice for payment status
// transitions. A status only applies when its rank is strictly greater than
// the current one, so replayed or out-of-order events never regress state.
var paymentStatusRank = map[string]int{
	PaymentStatusPending:   0,
	PaymentStatusOverdue:   1,
	PaymentStatusConfirmed: 2,
	PaymentStatusReceived:  3,
	PaymentStatusRefunded:  4,
	PaymentStatusCancelled: 4,
}

// PaymentStatusRank returns the lattice rank of a payment status, or -1 for
// an unknown status.
func PaymentStatusRank(status string) int {
	if rank, ok := paymentStatusRank[status]; ok {
		return rank
	}
	return -1
}

// CanTransitionPayment reports whether a payment may move from one status to
// another. Unknown target statuses are never applied.
func CanTransitionPayment(from, to string) bool {
	toRank := PaymentStatusRank(to)
	if toRank < 0 {
		return false
	}
	return toRank > PaymentStatusRank(from)
}
