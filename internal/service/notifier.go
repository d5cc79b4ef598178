package service

import (
	"context"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationPublisher delivers affiliate notifications to the broker.
// Implemented by *broker.EventPublisher.
type NotificationPublisher interface {
	PublishCommissionPaid(ctx context.Context, event *models.CommissionPaidEvent) error
}

// Notifier informs affiliates of credited commissions. Strictly best-effort:
// a delivery failure is logged and never rolls back or blocks settlement.
// Callers guarantee exactly-once intent by only notifying commissions they
// themselves transitioned to paid.
type Notifier struct {
	publisher NotificationPublisher
	logger    *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(publisher NotificationPublisher) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CommissionPaid publishes one notification for a commission that just
// transitioned to paid.
func (n *Notifier) CommissionPaid(ctx context.Context, c *models.Commission, walletID string) {
	event := &models.CommissionPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCommissionPaid,
			Timestamp: time.Now(),
		},
		OrderID:     c.OrderID,
		AffiliateID: c.AffiliateID,
		Level:       c.Level,
		AmountCents: c.AmountCents,
		WalletID:    walletID,
	}

	if err := n.publisher.PublishCommissionPaid(ctx, event); err != nil {
		util.NotificationFailuresTotal.Inc()
		n.logger.Error("Failed to publish commission notification",
			zap.Int64("order_id", c.OrderID),
			zap.Int64("affiliate_id", c.AffiliateID),
			zap.Error(err))
		return
	}

	util.NotificationsPublishedTotal.Inc()
	n.logger.Info("Affiliate notified of credited commission",
		zap.Int64("order_id", c.OrderID),
		zap.Int64("affiliate_id", c.AffiliateID),
		zap.Int64("amount_cents", c.AmountCents))
}
