package models

import "time"

// Event types
const (
	EventTypePaymentAuthorized   = "PAYMENT_AUTHORIZED"
	EventTypePaymentCaptured     = "PAYMENT_CAPTURED"
	EventTypePaymentDeclined     = "PAYMENT_DECLINED"
	EventTypePaymentRefunded     = "PAYMENT_REFUNDED"
	EventTypeOrderPendingReview  = "ORDER_PENDING_REVIEW"
	EventTypeOrderReviewResolved = "ORDER_REVIEW_RESOLVED"
	EventTypeKlarnaPushReceived  = "KLARNA_PUSH_RECEIVED"
	EventTypeAnetWebhookReceived = "AUTHORIZE_NET_WEBHOOK_RECEIVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCapturedEvent published when a provider confirms funds movement
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID      int64  `json:"order_id"`
	Provider     string `json:"provider"`
	ProviderTxID string `json:"provider_tx_id"`
	Amount       int64  `json:"amount"`
}

// PaymentDeclinedEvent published on a business-level decline
type PaymentDeclinedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// PaymentRefundedEvent published when a refund completes
type PaymentRefundedEvent struct {
	BaseEvent
	OrderID      int64  `json:"order_id"`
	Provider     string `json:"provider"`
	ProviderTxID string `json:"provider_tx_id"`
	Amount       int64  `json:"amount"`
}

// OrderPendingReviewEvent published when a Klarna order lands in fraud review
type OrderPendingReviewEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Amount          int64  `json:"amount"`
}

// OrderReviewResolvedEvent published when a pending review is resolved
type OrderReviewResolvedEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Accepted        bool   `json:"accepted"`
}

// KlarnaPushEvent mirrors Klarna's push webhook payload; it must be
// acknowledged or Klarna retries the delivery indefinitely.
type KlarnaPushEvent struct {
	BaseEvent
	PushEventID   string `json:"push_event_id"`
	PushEventType string `json:"push_event_type"`
	OrderID       string `json:"order_id"`
}

// AnetWebhookEvent wraps a verified Authorize.net webhook notification
type AnetWebhookEvent struct {
	BaseEvent
	NotificationID string `json:"notification_id"`
	AnetEventType  string `json:"anet_event_type"`
	TransactionID  string `json:"transaction_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}
