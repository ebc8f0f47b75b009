package models

import (
	"fmt"
	"time"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderKlarna       Provider = "klarna"
	ProviderAffirm       Provider = "affirm"
	ProviderAuthorizeNet Provider = "authorize_net"
	ProviderHealthie     Provider = "healthie"
)

// Checkout types
const (
	CheckoutTypeProduct      = "product"
	CheckoutTypeSubscription = "subscription"
)

// CheckoutItem is one cart line. Immutable once submitted to a provider.
// Carries only SKU, name, quantity and amounts in cents; cardholder data,
// bank data and PHI must never appear here or in any log statement.
type CheckoutItem struct {
	SKU            string `json:"sku" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	UnitPriceCents int64  `json:"unit_price_cents" binding:"min=0"`
}

// CheckoutRequest is the normalized cart submitted to the orchestrator.
type CheckoutRequest struct {
	Provider    Provider          `json:"provider" binding:"required"`
	Type        string            `json:"type" binding:"required,oneof=product subscription"`
	Items       []CheckoutItem    `json:"items,omitempty"`
	AmountCents int64             `json:"amount_cents" binding:"required,min=1"`
	Email       string            `json:"email,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ItemsTotal returns the item-derived total in cents.
func ItemsTotal(items []CheckoutItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

// Validate enforces the amount/items invariant at the boundary; the provider
// clients trust it.
func (r *CheckoutRequest) Validate() error {
	switch r.Provider {
	case ProviderStripe, ProviderKlarna, ProviderAffirm, ProviderAuthorizeNet, ProviderHealthie:
	default:
		return fmt.Errorf("unknown provider: %s", r.Provider)
	}
	if len(r.Items) > 0 {
		if total := ItemsTotal(r.Items); total != r.AmountCents {
			return fmt.Errorf("amount_cents %d does not match item total %d", r.AmountCents, total)
		}
		seen := make(map[string]bool, len(r.Items))
		for _, item := range r.Items {
			if seen[item.SKU] {
				return fmt.Errorf("duplicate sku in cart: %s", item.SKU)
			}
			seen[item.SKU] = true
		}
	}
	return nil
}

// Order represents a persisted checkout outcome.
type Order struct {
	ID             int64     `db:"id" json:"id"`
	Provider       string    `db:"provider" json:"provider"`
	Type           string    `db:"type" json:"type"`
	Email          string    `db:"email" json:"email,omitempty"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	Status         string    `db:"status" json:"status"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	SKU       string `db:"sku" json:"sku"`
	Name      string `db:"name" json:"name"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// Payment represents a payment transaction at a provider
type Payment struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Provider     string    `db:"provider" json:"provider"`
	Status       string    `db:"status" json:"status"`
	ProviderTxID string    `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Amount       int64     `db:"amount" json:"amount"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Subscription is an Authorize.net ARB schedule. Status transitions are
// driven entirely by the provider; this service only reads and cancels.
type Subscription struct {
	ID             int64     `db:"id" json:"id"`
	Provider       string    `db:"provider" json:"provider"`
	ProviderSubID  string    `db:"provider_sub_id" json:"provider_sub_id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email,omitempty"`
	Amount         int64     `db:"amount" json:"amount"`
	IntervalMonths int       `db:"interval_months" json:"interval_months"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending       = "PENDING"
	OrderStatusPaid          = "PAID"
	OrderStatusPendingReview = "PENDING_REVIEW"
	OrderStatusDeclined      = "DECLINED"
	OrderStatusCancelled     = "CANCELLED"
	OrderStatusRefunded      = "REFUNDED"
	OrderStatusFailed        = "FAILED"
)

// Payment statuses
const (
	PaymentStatusAuthorized = "AUTHORIZED"
	PaymentStatusCaptured   = "CAPTURED"
	PaymentStatusDeclined   = "DECLINED"
	PaymentStatusRefunded   = "REFUNDED"
	PaymentStatusVoided     = "VOIDED"
)

// Subscription statuses (Authorize.net ARB vocabulary)
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusExpired    = "expired"
	SubscriptionStatusSuspended  = "suspended"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusTerminated = "terminated"
)

// ProcessedEvent for webhook idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
