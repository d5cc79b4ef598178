package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventStore is the inbound-event ledger surface the ingestor needs.
// Implemented by *store.Store.
type EventStore interface {
	InsertEvent(ctx context.Context, externalEventID, eventType string, rawPayload []byte) (*models.InboundEvent, error)
}

// WorkPublisher schedules asynchronous processing of a persisted event.
// Implemented by *broker.EventPublisher.
type WorkPublisher interface {
	PublishEventReceived(ctx context.Context, event *models.EventReceivedEvent) error
}

// Ingestor accepts authenticated webhook payloads, persists them exactly
// once, and hands them to the asynchronous pipeline. It never does the heavy
// settlement work itself: the HTTP response must stay fast.
type Ingestor struct {
	store     EventStore
	publisher WorkPublisher
	logger    *zap.Logger
}

// NewIngestor creates a new webhook ingestor
func NewIngestor(store EventStore, publisher WorkPublisher) *Ingestor {
	return &Ingestor{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Ingest persists a raw webhook payload keyed by its external event id and
// publishes the work item. Returns duplicate=true when the event was already
// recorded; delivery retries by the provider are expected and harmless.
// Publish failure is logged only — the persisted row is the work item of
// record, and the reclaim worker picks up anything the broker missed.
func (in *Ingestor) Ingest(ctx context.Context, rawPayload []byte) (event *models.InboundEvent, duplicate bool, err error) {
	ctx, span := util.StartSpan(ctx, "Ingestor.Ingest")
	defer span.End()

	externalEventID, eventType, err := models.PeekEventID(rawPayload)
	if err != nil {
		return nil, false, fmt.Errorf("rejecting unparseable webhook: %w", err)
	}

	event, err = in.store.InsertEvent(ctx, externalEventID, eventType, rawPayload)
	if errors.Is(err, store.ErrDuplicateEvent) {
		util.EventsDuplicateTotal.Inc()
		in.logger.Info("Duplicate webhook delivery short-circuited",
			zap.String("external_event_id", externalEventID))
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	util.EventsReceivedTotal.WithLabelValues(eventType).Inc()
	in.logger.Info("Webhook event recorded",
		zap.String("external_event_id", externalEventID),
		zap.String("event_type", eventType))

	workItem := &models.EventReceivedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeEventReceived,
			Timestamp: time.Now(),
		},
		ExternalEventID: externalEventID,
	}

	if err := in.publisher.PublishEventReceived(ctx, workItem); err != nil {
		in.logger.Error("Failed to publish work item, reclaim worker will pick it up",
			zap.String("external_event_id", externalEventID),
			zap.Error(err))
	}

	return event, false, nil
}
