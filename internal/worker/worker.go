package worker

import (
	"context"
	"log"

	"payment-gateway/internal/broker"
)

// WebhookWorker consumes provider webhook events from Kafka and hands them
// to the processor.
type WebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewWebhookWorker creates a new webhook worker
func NewWebhookWorker(consumer *broker.Consumer, processor *WebhookProcessor) *WebhookWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnKlarnaPush(processor.HandleKlarnaPush)
	eventHandler.OnAnetWebhook(processor.HandleAnetWebhook)

	return &WebhookWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	log.Println("Starting webhook worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	log.Println("Stopping webhook worker...")
	return w.consumer.Close()
}
