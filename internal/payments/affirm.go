package payments

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

// AffirmClient wraps the Affirm charges REST API. The flow is
// checkout-token based: the browser widget yields a one-time checkout token
// which is exchanged server-side for a charge in state "authorized", then
// captured in a second call.
type AffirmClient struct {
	baseURL    string
	publicKey  string
	privateKey string
	siteURL    string
	rest       *restClient
	logger     *zap.Logger
}

// NewAffirmClient fails fast when either key of the Basic auth pair is
// absent; this is a startup-time condition, not a retryable one.
func NewAffirmClient(baseURL, publicKey, privateKey, siteURL string, timeout time.Duration, maxRetries int) (*AffirmClient, error) {
	if publicKey == "" || privateKey == "" {
		return nil, &ConfigError{Provider: "affirm", Missing: "public/private API key pair"}
	}
	return &AffirmClient{
		baseURL:    baseURL,
		publicKey:  publicKey,
		privateKey: privateKey,
		siteURL:    siteURL,
		rest:       newRESTClient("affirm", timeout, maxRetries),
		logger:     util.GetLogger(),
	}, nil
}

func (c *AffirmClient) Name() models.Provider { return models.ProviderAffirm }

func (c *AffirmClient) auth() *basicAuth {
	return &basicAuth{user: c.publicKey, pass: c.privateKey}
}

// AffirmItem is one line item in a checkout config.
type AffirmItem struct {
	DisplayName string `json:"display_name"`
	SKU         string `json:"sku"`
	UnitPrice   int64  `json:"unit_price"`
	Qty         int    `json:"qty"`
	ItemURL     string `json:"item_url"`
}

// AffirmMerchant carries the redirect URLs for one checkout attempt.
type AffirmMerchant struct {
	UserConfirmationURL       string `json:"user_confirmation_url"`
	UserCancelURL             string `json:"user_cancel_url"`
	UserConfirmationURLAction string `json:"user_confirmation_url_action"`
}

// AffirmCheckoutConfig is the ephemeral handle rendered into the Affirm
// widget. Owned by the browser; never persisted server-side.
type AffirmCheckoutConfig struct {
	Merchant       AffirmMerchant `json:"merchant"`
	Items          []AffirmItem   `json:"items"`
	OrderID        string         `json:"order_id"`
	ShippingAmount int64          `json:"shipping_amount"`
	TaxAmount      int64          `json:"tax_amount"`
	Total          int64          `json:"total"`
}

// BuildCheckoutConfig maps a normalized cart onto an Affirm checkout config.
// Pure and PHI-free. Each item gets a deep link back to its product page;
// when no items are given a single "membership" line covers the full amount.
func (c *AffirmClient) BuildCheckoutConfig(orderRef string, amountCents int64, items []models.CheckoutItem, confirmationURL, cancelURL string) AffirmCheckoutConfig {
	cfg := AffirmCheckoutConfig{
		Merchant: AffirmMerchant{
			UserConfirmationURL:       confirmationURL,
			UserCancelURL:             cancelURL,
			UserConfirmationURLAction: "POST",
		},
		OrderID: orderRef,
		Total:   amountCents,
	}

	if len(items) == 0 {
		cfg.Items = []AffirmItem{{
			DisplayName: "Membership",
			SKU:         "membership",
			UnitPrice:   amountCents,
			Qty:         1,
			ItemURL:     c.siteURL,
		}}
		return cfg
	}

	cfg.Items = make([]AffirmItem, 0, len(items))
	for _, item := range items {
		cfg.Items = append(cfg.Items, AffirmItem{
			DisplayName: item.Name,
			SKU:         item.SKU,
			UnitPrice:   item.UnitPriceCents,
			Qty:         item.Quantity,
			ItemURL:     fmt.Sprintf("%s/products/%s", c.siteURL, url.PathEscape(item.SKU)),
		})
	}
	return cfg
}

// ChargeResponse is Affirm's charge object, trimmed to the fields we read.
type ChargeResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	OrderID  string `json:"order_id"`
}

// RefundResponse is the result of a charge refund.
type RefundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// AuthorizeCharge exchanges a client-obtained checkout token for a charge in
// state "authorized".
func (c *AffirmClient) AuthorizeCharge(ctx context.Context, checkoutToken string) (*ChargeResponse, error) {
	ctx, span := util.StartSpan(ctx, "AffirmClient.AuthorizeCharge")
	defer span.End()

	var charge ChargeResponse
	body := map[string]string{"checkout_token": checkoutToken}
	if err := c.rest.doJSON(ctx, "authorize", "POST", c.baseURL+"/api/v2/charges", c.auth(), body, &charge); err != nil {
		return nil, err
	}

	c.logger.Info("Affirm charge authorized",
		zap.String("charge_id", charge.ID),
		zap.Int64("amount", charge.Amount))
	return &charge, nil
}

// CaptureCharge finalizes funds movement. Must only be called on a charge in
// authorized state; the external state machine is trusted, not re-checked.
func (c *AffirmClient) CaptureCharge(ctx context.Context, chargeID, orderRef string) (*ChargeResponse, error) {
	ctx, span := util.StartSpan(ctx, "AffirmClient.CaptureCharge")
	defer span.End()

	body := map[string]string{}
	if orderRef != "" {
		body["order_id"] = orderRef
	}

	var charge ChargeResponse
	endpoint := fmt.Sprintf("%s/api/v2/charges/%s/capture", c.baseURL, chargeID)
	if err := c.rest.doJSON(ctx, "capture", "POST", endpoint, c.auth(), body, &charge); err != nil {
		return nil, err
	}

	c.logger.Info("Affirm charge captured", zap.String("charge_id", chargeID))
	return &charge, nil
}

// VoidCharge cancels an uncaptured authorization. Behavior of repeated voids
// after success is provider-defined and not guarded here.
func (c *AffirmClient) VoidCharge(ctx context.Context, chargeID string) error {
	ctx, span := util.StartSpan(ctx, "AffirmClient.VoidCharge")
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/v2/charges/%s/void", c.baseURL, chargeID)
	return c.rest.doJSON(ctx, "void", "POST", endpoint, c.auth(), map[string]string{}, nil)
}

// RefundCharge refunds a captured charge, partially when amountCents > 0 and
// in full otherwise.
func (c *AffirmClient) RefundCharge(ctx context.Context, chargeID string, amountCents int64) (*RefundResponse, error) {
	ctx, span := util.StartSpan(ctx, "AffirmClient.RefundCharge")
	defer span.End()

	body := map[string]int64{}
	if amountCents > 0 {
		body["amount"] = amountCents
	}

	var refund RefundResponse
	endpoint := fmt.Sprintf("%s/api/v2/charges/%s/refund", c.baseURL, chargeID)
	if err := c.rest.doJSON(ctx, "refund", "POST", endpoint, c.auth(), body, &refund); err != nil {
		return nil, err
	}

	c.logger.Info("Affirm charge refunded",
		zap.String("charge_id", chargeID),
		zap.Int64("amount", refund.Amount))
	return &refund, nil
}

// CreateIntent builds the checkout config; Affirm needs no server round trip
// before its widget can render, the config itself is the handle.
func (c *AffirmClient) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	cfg := c.BuildCheckoutConfig(req.OrderRef, req.AmountCents, req.Items, req.ConfirmationURL, req.CancelURL)
	return &IntentResponse{CheckoutConfig: cfg}, nil
}

// Finalize exchanges the checkout token for an authorized charge and
// captures it immediately.
func (c *AffirmClient) Finalize(ctx context.Context, req FinalizeRequest) (*Result, error) {
	charge, err := c.AuthorizeCharge(ctx, req.CheckoutToken)
	if err != nil {
		return nil, err
	}
	if _, err := c.CaptureCharge(ctx, charge.ID, req.OrderRef); err != nil {
		return nil, err
	}
	return &Result{
		Status:         StatusOk,
		TransactionRef: charge.ID,
		AmountCents:    charge.Amount,
	}, nil
}

// Refund implements the common provider contract.
func (c *AffirmClient) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	refund, err := c.RefundCharge(ctx, req.TransactionRef, req.AmountCents)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:         StatusOk,
		TransactionRef: refund.ID,
		AmountCents:    refund.Amount,
	}, nil
}

// Void implements Voider.
func (c *AffirmClient) Void(ctx context.Context, transactionRef string) error {
	return c.VoidCharge(ctx, transactionRef)
}
