package service

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/commission"
	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"go.uber.org/zap"
)

// Ledger is the persisted-state surface the processor drives. Implemented
// by *store.Store.
type Ledger interface {
	GetEventByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error)
	MarkEventProcessed(ctx context.Context, eventID int64) error
	MarkEventFailed(ctx context.Context, eventID int64, processingError string) error

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error

	UpsertPayment(ctx context.Context, payment *models.Payment) error
	ApplyPaymentStatus(ctx context.Context, paymentID int64, from, to string) (bool, error)

	InsertCommission(ctx context.Context, c *models.Commission) (bool, error)
	GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]models.Commission, error)
	MarkCommissionPaid(ctx context.Context, commissionID int64) (bool, error)
	RejectPendingCommissions(ctx context.Context, orderID int64, reason string) (int64, error)
}

// EventProcessor runs the settlement pipeline for one inbound event: payment
// and order state, commission calculation, split dispatch, notification.
// Every step is safe to re-run, so a crash mid-pipeline is recovered by
// simply processing the event again.
type EventProcessor struct {
	store      Ledger
	resolver   *ReferralResolver
	calculator *commission.Calculator
	dispatcher *SplitDispatcher
	notifier   *Notifier
	logger     *zap.Logger
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(
	store Ledger,
	resolver *ReferralResolver,
	calculator *commission.Calculator,
	dispatcher *SplitDispatcher,
	notifier *Notifier,
) *EventProcessor {
	return &EventProcessor{
		store:      store,
		resolver:   resolver,
		calculator: calculator,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     util.GetLogger(),
	}
}

// Process loads an inbound event by its external id and settles it. An
// already-processed event is a no-op. Errors are recorded on the event row
// (attempts + processing_error) and returned; they never reach the webhook
// response, which was committed long before.
func (p *EventProcessor) Process(ctx context.Context, externalEventID string) error {
	ctx, span := util.StartSpan(ctx, "EventProcessor.Process")
	defer span.End()

	start := time.Now()
	defer func() {
		util.EventProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	event, err := p.store.GetEventByExternalID(ctx, externalEventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}
	if event.Processed {
		p.logger.Info("Event already processed",
			zap.String("external_event_id", externalEventID))
		return nil
	}

	if err := p.settle(ctx, event); err != nil {
		util.EventsFailedTotal.WithLabelValues(event.EventType).Inc()
		p.logger.Error("Event processing failed",
			zap.String("external_event_id", externalEventID),
			zap.Int("attempts", event.Attempts+1),
			zap.Error(err))
		if markErr := p.store.MarkEventFailed(ctx, event.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to record processing error", zap.Error(markErr))
		}
		return err
	}

	if err := p.store.MarkEventProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	util.EventsProcessedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

// settle runs the pipeline for one unprocessed event.
func (p *EventProcessor) settle(ctx context.Context, event *models.InboundEvent) error {
	n, err := models.ParseNotification(event.RawPayload)
	if err != nil {
		return err
	}

	if !n.KnownEventType() {
		// Explicit no-op: acknowledged and marked processed, never silently
		// dropped somewhere deeper in the pipeline.
		util.EventsIgnoredTotal.WithLabelValues(n.EventType).Inc()
		p.logger.Info("Unhandled provider event type acknowledged",
			zap.String("external_event_id", n.ExternalEventID),
			zap.String("event_type", n.EventType))
		return nil
	}

	order, err := p.store.GetOrderByID(ctx, n.OrderID)
	if err != nil {
		return fmt.Errorf("order %d not resolvable for payment %s: %w", n.OrderID, n.PaymentID, err)
	}

	payment := &models.Payment{
		ProviderPaymentID: n.PaymentID,
		OrderID:           order.ID,
		Status:            models.PaymentStatusPending,
		ValueCents:        n.ValueCents,
	}
	if err := p.store.UpsertPayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}

	target := paymentStatusFor(n.EventType)
	applied, err := p.store.ApplyPaymentStatus(ctx, payment.ID, payment.Status, target)
	if err != nil {
		return err
	}
	if !applied {
		// Stale or replayed event: the lattice refused the transition. The
		// settlement steps below are each idempotent, so keep going — this
		// is how a crash between "commissions created" and "split executed"
		// heals on reprocessing.
		p.logger.Info("Payment status transition skipped by lattice",
			zap.String("provider_payment_id", n.PaymentID),
			zap.String("from", payment.Status),
			zap.String("to", target))
	} else {
		payment.Status = target
	}

	switch n.EventType {
	case models.ProviderEventPaymentConfirmed:
		return p.settleConfirmed(ctx, order, payment)
	case models.ProviderEventPaymentReceived:
		return p.settleReceived(ctx, order, payment)
	case models.ProviderEventPaymentOverdue:
		return nil
	case models.ProviderEventPaymentRefunded, models.ProviderEventPaymentCancelled:
		return p.settleReversal(ctx, order, n.EventType)
	}
	return nil
}

// settleConfirmed marks the order paid, ensures commission rows exist, and
// drives the split.
func (p *EventProcessor) settleConfirmed(ctx context.Context, order *models.Order, payment *models.Payment) error {
	if err := p.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid); err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	commissions, tiers, err := p.ensureCommissions(ctx, order, payment)
	if err != nil {
		return err
	}
	if len(commissions) == 0 {
		p.logger.Info("No eligible affiliates, nothing to settle",
			zap.Int64("order_id", order.ID))
		return nil
	}

	_, err = p.dispatcher.Dispatch(ctx, payment.ProviderPaymentID, order, commissions, walletIndex(tiers))
	return err
}

// settleReceived finalizes settlement once funds are available: commissions
// and split are back-filled if the confirmation event never arrived, then
// every commission covered by an executed split is marked paid and its
// affiliate notified exactly once.
func (p *EventProcessor) settleReceived(ctx context.Context, order *models.Order, payment *models.Payment) error {
	if err := p.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid); err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	commissions, tiers, err := p.ensureCommissions(ctx, order, payment)
	if err != nil {
		return err
	}
	if len(commissions) == 0 {
		return nil
	}

	wallets := walletIndex(tiers)
	split, err := p.dispatcher.Dispatch(ctx, payment.ProviderPaymentID, order, commissions, wallets)
	if err != nil {
		return err
	}
	if split.Status != models.SplitStatusExecuted {
		return fmt.Errorf("split for order %d is %s, commissions stay pending", order.ID, split.Status)
	}

	for i := range commissions {
		c := &commissions[i]
		if c.Status != models.CommissionStatusPending {
			continue
		}
		transitioned, err := p.store.MarkCommissionPaid(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to mark commission %d paid: %w", c.ID, err)
		}
		if !transitioned {
			// Another run settled it; it was notified then.
			continue
		}
		c.Status = models.CommissionStatusPaid
		p.notifier.CommissionPaid(ctx, c, wallets[c.AffiliateID])
	}
	return nil
}

// settleReversal rejects whatever has not been paid out yet. Clawing back an
// already-executed split is operator territory; it is logged, never
// reversed automatically.
func (p *EventProcessor) settleReversal(ctx context.Context, order *models.Order, eventType string) error {
	if err := p.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	rejected, err := p.store.RejectPendingCommissions(ctx, order.ID, "payment "+eventType)
	if err != nil {
		return fmt.Errorf("failed to reject pending commissions: %w", err)
	}
	if rejected > 0 {
		p.logger.Info("Pending commissions rejected",
			zap.Int64("order_id", order.ID),
			zap.Int64("count", rejected),
			zap.String("event_type", eventType))
	}

	existing, err := p.store.GetCommissionsByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, c := range existing {
		if c.Status == models.CommissionStatusPaid {
			p.logger.Warn("Reversal on order with paid commission, operator review required",
				zap.Int64("order_id", order.ID),
				zap.Int64("commission_id", c.ID),
				zap.Int64("amount_cents", c.AmountCents))
		}
	}
	return nil
}

// ensureCommissions returns the order's commission rows, computing and
// inserting them first if none exist. The (order_id, level) uniqueness
// constraint makes concurrent or repeated computation collapse into one row
// set.
func (p *EventProcessor) ensureCommissions(ctx context.Context, order *models.Order, payment *models.Payment) ([]models.Commission, []ResolvedTier, error) {
	tiers, err := p.resolver.Resolve(ctx, order)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve referral chain: %w", err)
	}

	existing, err := p.store.GetCommissionsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return existing, tiers, nil
	}

	if len(tiers) == 0 {
		return nil, nil, nil
	}

	chain := make([]commission.Tier, 0, len(tiers))
	for _, t := range tiers {
		chain = append(chain, commission.Tier{AffiliateID: t.AffiliateID, Level: t.Level})
	}

	entries, err := p.calculator.Calculate(payment.ValueCents, chain)
	if err != nil {
		return nil, nil, fmt.Errorf("commission calculation failed: %w", err)
	}

	for _, e := range entries {
		row := &models.Commission{
			OrderID:     order.ID,
			AffiliateID: e.AffiliateID,
			Level:       e.Level,
			PercentBP:   e.PercentBP,
			AmountCents: e.AmountCents,
			Status:      models.CommissionStatusPending,
		}
		created, err := p.store.InsertCommission(ctx, row)
		if err != nil {
			return nil, nil, err
		}
		if created {
			util.CommissionsCreatedTotal.Inc()
			p.logger.Info("Commission recorded",
				zap.Int64("order_id", order.ID),
				zap.Int64("affiliate_id", e.AffiliateID),
				zap.Int("level", e.Level),
				zap.Int64("amount_cents", e.AmountCents))
		}
	}

	rows, err := p.store.GetCommissionsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return rows, tiers, nil
}

func paymentStatusFor(eventType string) string {
	switch eventType {
	case models.ProviderEventPaymentConfirmed:
		return models.PaymentStatusConfirmed
	case models.ProviderEventPaymentReceived:
		return models.PaymentStatusReceived
	case models.ProviderEventPaymentOverdue:
		return models.PaymentStatusOverdue
	case models.ProviderEventPaymentRefunded:
		return models.PaymentStatusRefunded
	case models.ProviderEventPaymentCancelled:
		return models.PaymentStatusCancelled
	}
	return ""
}

func walletIndex(tiers []ResolvedTier) map[int64]string {
	wallets := make(map[int64]string, len(tiers))
	for _, t := range tiers {
		wallets[t.AffiliateID] = t.WalletID
	}
	return wallets
}
