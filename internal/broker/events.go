package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace/internal/models"
	"marketplace/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event keyed by order
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReviewSubmitted publishes ReviewSubmitted event keyed by product, so a
// product's reviews are consumed in order.
func (ep *EventPublisher) PublishReviewSubmitted(ctx context.Context, event *models.ReviewSubmittedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReviewSubmitted func(context.Context, *models.ReviewSubmittedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReviewSubmitted registers a handler for ReviewSubmitted events
func (eh *EventHandler) OnReviewSubmitted(handler func(context.Context, *models.ReviewSubmittedEvent) error) {
	eh.onReviewSubmitted = handler
}

// HandleMessage routes messages to appropriate handlers. Unknown types are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReviewSubmitted:
		if eh.onReviewSubmitted != nil {
			var event models.ReviewSubmittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReviewSubmitted event: %w", err)
			}
			return eh.onReviewSubmitted(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
