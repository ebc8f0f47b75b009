package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"payment-gateway/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing payment domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentCaptured publishes PaymentCaptured event
func (ep *EventPublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentDeclined publishes PaymentDeclined event
func (ep *EventPublisher) PublishPaymentDeclined(ctx context.Context, event *models.PaymentDeclinedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentRefunded publishes PaymentRefunded event
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderPendingReview publishes OrderPendingReview event
func (ep *EventPublisher) PublishOrderPendingReview(ctx context.Context, event *models.OrderPendingReviewEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderReviewResolved publishes OrderReviewResolved event
func (ep *EventPublisher) PublishOrderReviewResolved(ctx context.Context, event *models.OrderReviewResolvedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishKlarnaPush publishes a received Klarna push webhook for async processing
func (ep *EventPublisher) PublishKlarnaPush(ctx context.Context, event *models.KlarnaPushEvent) error {
	key := "klarna-" + event.OrderID
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAnetWebhook publishes a verified Authorize.net webhook for async processing
func (ep *EventPublisher) PublishAnetWebhook(ctx context.Context, event *models.AnetWebhookEvent) error {
	key := "anet-" + event.NotificationID
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onKlarnaPush  func(context.Context, *models.KlarnaPushEvent) error
	onAnetWebhook func(context.Context, *models.AnetWebhookEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnKlarnaPush registers a handler for Klarna push events
func (eh *EventHandler) OnKlarnaPush(handler func(context.Context, *models.KlarnaPushEvent) error) {
	eh.onKlarnaPush = handler
}

// OnAnetWebhook registers a handler for Authorize.net webhook events
func (eh *EventHandler) OnAnetWebhook(handler func(context.Context, *models.AnetWebhookEvent) error) {
	eh.onAnetWebhook = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeKlarnaPushReceived:
		if eh.onKlarnaPush != nil {
			var event models.KlarnaPushEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal KlarnaPush event: %w", err)
			}
			return eh.onKlarnaPush(ctx, &event)
		}

	case models.EventTypeAnetWebhookReceived:
		if eh.onAnetWebhook != nil {
			var event models.AnetWebhookEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AnetWebhook event: %w", err)
			}
			return eh.onAnetWebhook(ctx, &event)
		}

	default:
		// Domain events published by this service are consumed elsewhere.
	}

	return nil
}
