package payments

import (
	"context"
	"fmt"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

// Klarna fraud statuses. The caller must branch on them: ACCEPTED finalizes
// immediately, PENDING finalizes provisionally and awaits the push webhook,
// REJECTED fails the checkout.
const (
	KlarnaFraudAccepted = "ACCEPTED"
	KlarnaFraudPending  = "PENDING"
	KlarnaFraudRejected = "REJECTED"
)

// KlarnaClient wraps the Klarna Payments and Order Management APIs. The flow
// is two-phase: an ephemeral session rendered into the widget, then an order
// created from the widget's authorization token.
type KlarnaClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	country   string
	currency  string
	locale    string
	rest      *restClient
	logger    *zap.Logger
}

// NewKlarnaClient fails fast when the Basic auth credential pair is absent.
func NewKlarnaClient(baseURL, apiKey, apiSecret string, timeout time.Duration, maxRetries int) (*KlarnaClient, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, &ConfigError{Provider: "klarna", Missing: "API key/secret pair"}
	}
	return &KlarnaClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		country:   "US",
		currency:  "USD",
		locale:    "en-US",
		rest:      newRESTClient("klarna", timeout, maxRetries),
		logger:    util.GetLogger(),
	}, nil
}

func (c *KlarnaClient) Name() models.Provider { return models.ProviderKlarna }

func (c *KlarnaClient) auth() *basicAuth {
	return &basicAuth{user: c.apiKey, pass: c.apiSecret}
}

// KlarnaOrderLine is one line in a session or order, amounts in minor units.
type KlarnaOrderLine struct {
	Type        string `json:"type"`
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	TotalAmount int64  `json:"total_amount"`
}

// DigitalFallbackLine is the single order line used for subscriptions and
// cart-less checkouts. Taking the amount as a parameter keeps the line fully
// priced at construction; there is no placeholder for callers to patch.
func DigitalFallbackLine(amountCents int64) KlarnaOrderLine {
	return KlarnaOrderLine{
		Type:        "digital",
		Reference:   "membership",
		Name:        "Membership",
		Quantity:    1,
		UnitPrice:   amountCents,
		TotalAmount: amountCents,
	}
}

// BuildOrderLines maps cart items onto physical Klarna lines, falling back
// to a single digital line when the cart is empty.
func BuildOrderLines(amountCents int64, items []models.CheckoutItem) []KlarnaOrderLine {
	if len(items) == 0 {
		return []KlarnaOrderLine{DigitalFallbackLine(amountCents)}
	}
	lines := make([]KlarnaOrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, KlarnaOrderLine{
			Type:        "physical",
			Reference:   item.SKU,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPriceCents,
			TotalAmount: item.UnitPriceCents * int64(item.Quantity),
		})
	}
	return lines
}

type klarnaMerchantURLs struct {
	Confirmation string `json:"confirmation"`
	Push         string `json:"push"`
}

type klarnaSessionRequest struct {
	PurchaseCountry  string             `json:"purchase_country"`
	PurchaseCurrency string             `json:"purchase_currency"`
	Locale           string             `json:"locale"`
	OrderAmount      int64              `json:"order_amount"`
	OrderLines       []KlarnaOrderLine  `json:"order_lines"`
	MerchantURLs     klarnaMerchantURLs `json:"merchant_urls"`
}

// KlarnaSessionResponse is the ephemeral session handle for the widget.
type KlarnaSessionResponse struct {
	SessionID               string `json:"session_id"`
	ClientToken             string `json:"client_token"`
	PaymentMethodCategories []struct {
		Identifier string `json:"identifier"`
	} `json:"payment_method_categories"`
}

// CreateSession opens a payments session. merchant_urls.push is mandatory so
// Klarna can asynchronously notify order status.
func (c *KlarnaClient) CreateSession(ctx context.Context, amountCents int64, items []models.CheckoutItem, confirmationURL, pushURL string) (*KlarnaSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "KlarnaClient.CreateSession")
	defer span.End()

	req := klarnaSessionRequest{
		PurchaseCountry:  c.country,
		PurchaseCurrency: c.currency,
		Locale:           c.locale,
		OrderAmount:      amountCents,
		OrderLines:       BuildOrderLines(amountCents, items),
		MerchantURLs: klarnaMerchantURLs{
			Confirmation: confirmationURL,
			Push:         pushURL,
		},
	}

	var session KlarnaSessionResponse
	if err := c.rest.doJSON(ctx, "create_session", "POST", c.baseURL+"/payments/v1/sessions", c.auth(), req, &session); err != nil {
		return nil, err
	}

	c.logger.Info("Klarna session created",
		zap.String("session_id", session.SessionID),
		zap.Int64("amount", amountCents))
	return &session, nil
}

type klarnaOrderRequest struct {
	PurchaseCountry  string            `json:"purchase_country"`
	PurchaseCurrency string            `json:"purchase_currency"`
	Locale           string            `json:"locale"`
	OrderAmount      int64             `json:"order_amount"`
	OrderLines       []KlarnaOrderLine `json:"order_lines"`
}

// KlarnaOrderResponse carries the ternary fraud status the caller must
// branch on.
type KlarnaOrderResponse struct {
	OrderID     string `json:"order_id"`
	FraudStatus string `json:"fraud_status"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// CreateOrder exchanges the widget's authorization token for an order. The
// token is one-time; a second exchange is provider-rejected.
func (c *KlarnaClient) CreateOrder(ctx context.Context, authorizationToken string, amountCents int64, items []models.CheckoutItem) (*KlarnaOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "KlarnaClient.CreateOrder")
	defer span.End()

	req := klarnaOrderRequest{
		PurchaseCountry:  c.country,
		PurchaseCurrency: c.currency,
		Locale:           c.locale,
		OrderAmount:      amountCents,
		OrderLines:       BuildOrderLines(amountCents, items),
	}

	var order KlarnaOrderResponse
	endpoint := fmt.Sprintf("%s/payments/v1/authorizations/%s/order", c.baseURL, authorizationToken)
	if err := c.rest.doJSON(ctx, "create_order", "POST", endpoint, c.auth(), req, &order); err != nil {
		return nil, err
	}

	c.logger.Info("Klarna order created",
		zap.String("order_id", order.OrderID),
		zap.String("fraud_status", order.FraudStatus))
	return &order, nil
}

// AcknowledgeOrder is the mandatory response to the push webhook. Klarna
// retries the webhook until acknowledged.
func (c *KlarnaClient) AcknowledgeOrder(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "KlarnaClient.AcknowledgeOrder")
	defer span.End()

	endpoint := fmt.Sprintf("%s/ordermanagement/v1/orders/%s/acknowledge", c.baseURL, orderID)
	return c.rest.doJSON(ctx, "acknowledge", "POST", endpoint, c.auth(), nil, nil)
}

// CancelOrder releases an order that failed fraud review.
func (c *KlarnaClient) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "KlarnaClient.CancelOrder")
	defer span.End()

	endpoint := fmt.Sprintf("%s/ordermanagement/v1/orders/%s/cancel", c.baseURL, orderID)
	return c.rest.doJSON(ctx, "cancel", "POST", endpoint, c.auth(), nil, nil)
}

type klarnaRefundRequest struct {
	RefundedAmount int64 `json:"refunded_amount"`
}

// RefundOrder refunds a captured order via Order Management.
func (c *KlarnaClient) RefundOrder(ctx context.Context, orderID string, amountCents int64) error {
	ctx, span := util.StartSpan(ctx, "KlarnaClient.RefundOrder")
	defer span.End()

	endpoint := fmt.Sprintf("%s/ordermanagement/v1/orders/%s/refunds", c.baseURL, orderID)
	return c.rest.doJSON(ctx, "refund", "POST", endpoint, c.auth(), klarnaRefundRequest{RefundedAmount: amountCents}, nil)
}

// CreateIntent implements the common provider contract.
func (c *KlarnaClient) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	session, err := c.CreateSession(ctx, req.AmountCents, req.Items, req.ConfirmationURL, req.PushURL)
	if err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(session.PaymentMethodCategories))
	for _, cat := range session.PaymentMethodCategories {
		categories = append(categories, cat.Identifier)
	}
	return &IntentResponse{
		SessionID:         session.SessionID,
		ClientToken:       session.ClientToken,
		PaymentCategories: categories,
	}, nil
}

// Finalize exchanges the authorization token and maps the fraud status onto
// the common result taxonomy.
func (c *KlarnaClient) Finalize(ctx context.Context, req FinalizeRequest) (*Result, error) {
	order, err := c.CreateOrder(ctx, req.AuthorizationToken, req.AmountCents, req.Items)
	if err != nil {
		return nil, err
	}

	result := &Result{
		TransactionRef: order.OrderID,
		RedirectURL:    order.RedirectURL,
		AmountCents:    req.AmountCents,
	}
	switch order.FraudStatus {
	case KlarnaFraudAccepted:
		result.Status = StatusOk
	case KlarnaFraudPending:
		result.Status = StatusPending
		result.Reason = "fraud review pending"
	case KlarnaFraudRejected:
		result.Status = StatusDeclined
		result.Reason = "fraud review rejected"
	default:
		return nil, fmt.Errorf("klarna returned unknown fraud_status: %s", order.FraudStatus)
	}
	return result, nil
}

// Refund implements the common provider contract. Klarna requires an
// explicit amount; zero means the caller wants a full refund of the order
// total, which it must pass.
func (c *KlarnaClient) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("klarna refund requires an explicit amount")
	}
	if err := c.RefundOrder(ctx, req.TransactionRef, req.AmountCents); err != nil {
		return nil, err
	}
	return &Result{
		Status:         StatusOk,
		TransactionRef: req.TransactionRef,
		AmountCents:    req.AmountCents,
	}, nil
}
