package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"settlement-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes domain events to their topics: work items to the
// settlement topic, affiliate notifications to the notifications topic.
type EventPublisher struct {
	settlement    *Producer
	notifications *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(settlement, notifications *Producer) *EventPublisher {
	return &EventPublisher{
		settlement:    settlement,
		notifications: notifications,
	}
}

// PublishEventReceived publishes the work item for a freshly persisted
// inbound event, keyed by the external id so redeliveries of the same event
// land on one partition.
func (ep *EventPublisher) PublishEventReceived(ctx context.Context, event *models.EventReceivedEvent) error {
	return ep.settlement.PublishEvent(ctx, event.ExternalEventID, event)
}

// PublishCommissionPaid publishes a notification for a credited commission
func (ep *EventPublisher) PublishCommissionPaid(ctx context.Context, event *models.CommissionPaidEvent) error {
	key := fmt.Sprintf("affiliate-%d", event.AffiliateID)
	return ep.notifications.PublishEvent(ctx, key, event)
}

// PublishSplitFailed publishes an exhausted split for the operator queue
func (ep *EventPublisher) PublishSplitFailed(ctx context.Context, event *models.SplitFailedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.notifications.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed messages by event type
type EventHandler struct {
	onEventReceived func(context.Context, *models.EventReceivedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnEventReceived registers a handler for EventReceived work items
func (eh *EventHandler) OnEventReceived(handler func(context.Context, *models.EventReceivedEvent) error) {
	eh.onEventReceived = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeEventReceived:
		if eh.onEventReceived != nil {
			var event models.EventReceivedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal EventReceived event: %w", err)
			}
			return eh.onEventReceived(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
