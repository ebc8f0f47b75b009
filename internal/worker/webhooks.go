package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Klarna push event types that resolve a fraud review.
const (
	klarnaPushFraudAccepted = "FRAUD_RISK_ACCEPTED"
	klarnaPushFraudRejected = "FRAUD_RISK_REJECTED"
	klarnaPushFraudStopped  = "FRAUD_RISK_STOPPED"
)

type webhookStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	GetPaymentByProviderTxID(ctx context.Context, providerTxID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status, providerTxID string) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	UpdateSubscriptionStatus(ctx context.Context, providerSubID, status string) error
}

type klarnaOrderManager interface {
	AcknowledgeOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
}

type reviewPublisher interface {
	PublishOrderReviewResolved(ctx context.Context, event *models.OrderReviewResolvedEvent) error
}

// WebhookProcessor resolves asynchronous provider notifications against
// persisted order state.
type WebhookProcessor struct {
	store     webhookStore
	klarna    klarnaOrderManager
	publisher reviewPublisher
	logger    *zap.Logger
}

// NewWebhookProcessor creates a webhook processor. klarna may be nil when
// the provider is disabled; its pushes are then acknowledged nowhere and the
// events fail loudly.
func NewWebhookProcessor(store webhookStore, klarna klarnaOrderManager, publisher reviewPublisher) *WebhookProcessor {
	return &WebhookProcessor{
		store:     store,
		klarna:    klarna,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// HandleKlarnaPush resolves a pending fraud review and acknowledges the
// order. The acknowledgement is mandatory; an error here makes the consumer
// redeliver so Klarna's retries eventually stop.
func (p *WebhookProcessor) HandleKlarnaPush(ctx context.Context, event *models.KlarnaPushEvent) error {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.HandleKlarnaPush")
	defer span.End()

	processed, err := p.store.IsEventProcessed(ctx, event.PushEventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		p.logger.Info("Klarna push already processed", zap.String("event_id", event.PushEventID))
		return nil
	}

	if p.klarna == nil {
		return fmt.Errorf("klarna push received but provider is disabled")
	}

	p.logger.Info("Handling Klarna push",
		zap.String("push_event_type", event.PushEventType),
		zap.String("klarna_order_id", event.OrderID))

	switch event.PushEventType {
	case klarnaPushFraudAccepted:
		if err := p.resolveReview(ctx, event.OrderID, true); err != nil {
			return err
		}
	case klarnaPushFraudRejected, klarnaPushFraudStopped:
		if err := p.klarna.CancelOrder(ctx, event.OrderID); err != nil {
			p.logger.Error("Failed to cancel rejected Klarna order", zap.Error(err))
		}
		if err := p.resolveReview(ctx, event.OrderID, false); err != nil {
			return err
		}
	default:
		// Status-only pushes still require acknowledgement.
		p.logger.Info("Unhandled Klarna push type", zap.String("type", event.PushEventType))
	}

	if err := p.klarna.AcknowledgeOrder(ctx, event.OrderID); err != nil {
		return fmt.Errorf("failed to acknowledge klarna order %s: %w", event.OrderID, err)
	}

	if err := p.store.MarkEventProcessed(ctx, event.PushEventID, event.PushEventType); err != nil {
		p.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func (p *WebhookProcessor) resolveReview(ctx context.Context, klarnaOrderID string, accepted bool) error {
	payment, err := p.store.GetPaymentByProviderTxID(ctx, klarnaOrderID)
	if err != nil {
		return fmt.Errorf("no payment for klarna order %s: %w", klarnaOrderID, err)
	}

	if accepted {
		if err := p.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusCaptured, payment.ProviderTxID); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := p.store.UpdateOrderStatus(ctx, payment.OrderID, models.OrderStatusPaid); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
	} else {
		if err := p.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusDeclined, payment.ProviderTxID); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := p.store.UpdateOrderStatus(ctx, payment.OrderID, models.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
	}

	event := &models.OrderReviewResolvedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderReviewResolved,
			Timestamp: time.Now(),
		},
		OrderID:         payment.OrderID,
		ProviderOrderID: klarnaOrderID,
		Accepted:        accepted,
	}
	if err := p.publisher.PublishOrderReviewResolved(ctx, event); err != nil {
		p.logger.Error("Failed to publish OrderReviewResolved event", zap.Error(err))
	}

	p.logger.Info("Fraud review resolved",
		zap.Int64("order_id", payment.OrderID),
		zap.Bool("accepted", accepted))
	return nil
}

// HandleAnetWebhook applies a verified Authorize.net notification to
// persisted payment or subscription state.
func (p *WebhookProcessor) HandleAnetWebhook(ctx context.Context, event *models.AnetWebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.HandleAnetWebhook")
	defer span.End()

	processed, err := p.store.IsEventProcessed(ctx, event.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		p.logger.Info("Authorize.net notification already processed",
			zap.String("notification_id", event.NotificationID))
		return nil
	}

	switch {
	case strings.HasSuffix(event.AnetEventType, ".refund.created"):
		if payment, err := p.store.GetPaymentByProviderTxID(ctx, event.TransactionID); err == nil {
			if err := p.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusRefunded, payment.ProviderTxID); err != nil {
				return fmt.Errorf("failed to update payment: %w", err)
			}
			if err := p.store.UpdateOrderStatus(ctx, payment.OrderID, models.OrderStatusRefunded); err != nil {
				return fmt.Errorf("failed to update order: %w", err)
			}
		}

	case strings.HasSuffix(event.AnetEventType, ".void.created"):
		if payment, err := p.store.GetPaymentByProviderTxID(ctx, event.TransactionID); err == nil {
			if err := p.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusVoided, payment.ProviderTxID); err != nil {
				return fmt.Errorf("failed to update payment: %w", err)
			}
			if err := p.store.UpdateOrderStatus(ctx, payment.OrderID, models.OrderStatusCancelled); err != nil {
				return fmt.Errorf("failed to update order: %w", err)
			}
		}

	case strings.Contains(event.AnetEventType, ".subscription."):
		status := subscriptionStatusFromEvent(event.AnetEventType)
		if status != "" && event.SubscriptionID != "" {
			if err := p.store.UpdateSubscriptionStatus(ctx, event.SubscriptionID, status); err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}
		}

	default:
		p.logger.Info("Unhandled Authorize.net event type",
			zap.String("type", event.AnetEventType))
	}

	if err := p.store.MarkEventProcessed(ctx, event.NotificationID, event.AnetEventType); err != nil {
		p.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func subscriptionStatusFromEvent(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, ".suspended"):
		return models.SubscriptionStatusSuspended
	case strings.HasSuffix(eventType, ".terminated"):
		return models.SubscriptionStatusTerminated
	case strings.HasSuffix(eventType, ".cancelled"):
		return models.SubscriptionStatusCanceled
	case strings.HasSuffix(eventType, ".expiring"), strings.HasSuffix(eventType, ".expired"):
		return models.SubscriptionStatusExpired
	default:
		return ""
	}
}
