package worker

import (
	"context"
	"time"

	"settlement-service/internal/broker"
	"settlement-service/internal/models"
	"settlement-service/internal/service"
	"settlement-service/internal/util"

	"go.uber.org/zap"
)

// SettlementWorker consumes persisted-work-item pointers from the settlement
// topic and runs the event processor for each.
type SettlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(consumer *broker.Consumer, processor *service.EventProcessor) *SettlementWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnEventReceived(func(ctx context.Context, event *models.EventReceivedEvent) error {
		return processor.Process(ctx, event.ExternalEventID)
	})

	return &SettlementWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting settlement worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SettlementWorker) Stop() error {
	w.logger.Info("Stopping settlement worker")
	return w.consumer.Close()
}

// EventReclaimer is the processor surface the reclaim worker drives.
// Implemented by *service.EventProcessor.
type EventReclaimer interface {
	Process(ctx context.Context, externalEventID string) error
}

// StalledEventSource lists unprocessed events eligible for another attempt.
// Implemented by *store.Store.
type StalledEventSource interface {
	ListStalledEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.InboundEvent, error)
}

// ReclaimWorker re-scans events that were persisted but never finished,
// which recovers work lost to crashes mid-pipeline or to broker publish
// failures. The event row itself is the durable work item.
type ReclaimWorker struct {
	store       StalledEventSource
	processor   EventReclaimer
	interval    time.Duration
	grace       time.Duration
	maxAttempts int
	logger      *zap.Logger
	stop        chan struct{}
}

// NewReclaimWorker creates a new reclaim worker
func NewReclaimWorker(store StalledEventSource, processor EventReclaimer, interval, grace time.Duration, maxAttempts int) *ReclaimWorker {
	return &ReclaimWorker{
		store:       store,
		processor:   processor,
		interval:    interval,
		grace:       grace,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
		stop:        make(chan struct{}),
	}
}

// Start runs the reclaim loop until the context is cancelled or Stop is
// called.
func (w *ReclaimWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reclaim worker",
		zap.Duration("interval", w.interval),
		zap.Duration("grace", w.grace))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.reclaim(ctx)
		}
	}
}

// Stop stops the worker
func (w *ReclaimWorker) Stop() error {
	close(w.stop)
	return nil
}

func (w *ReclaimWorker) reclaim(ctx context.Context) {
	events, err := w.store.ListStalledEvents(ctx, time.Now().Add(-w.grace), w.maxAttempts, 50)
	if err != nil {
		w.logger.Error("Failed to scan for stalled events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	w.logger.Info("Reclaiming stalled events", zap.Int("count", len(events)))
	for _, event := range events {
		util.EventsReclaimedTotal.Inc()
		if err := w.processor.Process(ctx, event.ExternalEventID); err != nil {
			w.logger.Warn("Reclaimed event failed again",
				zap.String("external_event_id", event.ExternalEventID),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err))
		}
	}
}
