package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

// Authorize.net documented field maxima. Overlong input is truncated, not
// rejected.
const (
	anetMaxInvoiceLen     = 20
	anetMaxItemIDLen      = 31
	anetMaxItemNameLen    = 31
	anetMaxDescriptionLen = 255
	anetMaxNameLen        = 50
	anetMaxEmailLen       = 255
)

// ARB schedules are created indefinite; cancellation is an explicit call.
const anetTotalOccurrences = "9999"

// AuthorizeNetClient wraps Authorize.net's single-endpoint JSON API. Requests
// are discriminated by their top-level key; merchant auth is injected into
// every request body.
type AuthorizeNetClient struct {
	endpoint       string
	apiLoginID     string
	transactionKey string
	signingKey     string
	failOpen       bool
	rest           *restClient
	logger         *zap.Logger
}

// NewAuthorizeNetClient fails fast on a missing credential pair. failOpen
// permits webhook verification without a signing key and must only be set
// outside production.
func NewAuthorizeNetClient(endpoint, apiLoginID, transactionKey, signingKey string, failOpen bool, timeout time.Duration, maxRetries int) (*AuthorizeNetClient, error) {
	if apiLoginID == "" || transactionKey == "" {
		return nil, &ConfigError{Provider: "authorize_net", Missing: "API login ID/transaction key pair"}
	}
	return &AuthorizeNetClient{
		endpoint:       endpoint,
		apiLoginID:     apiLoginID,
		transactionKey: transactionKey,
		signingKey:     signingKey,
		failOpen:       failOpen,
		rest:           newRESTClient("authorize_net", timeout, maxRetries),
		logger:         util.GetLogger(),
	}, nil
}

func (c *AuthorizeNetClient) Name() models.Provider { return models.ProviderAuthorizeNet }

type anetMerchantAuth struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

func (c *AuthorizeNetClient) merchantAuth() anetMerchantAuth {
	return anetMerchantAuth{Name: c.apiLoginID, TransactionKey: c.transactionKey}
}

// AnetLineItem is one order line, field lengths pre-truncated.
type AnetLineItem struct {
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
}

// BillingAddress is the optional billTo block. Address fields only; raw card
// data never passes through this client.
type BillingAddress struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
}

type anetPayment struct {
	OpaqueData *OpaqueData     `json:"opaqueData,omitempty"`
	CreditCard *anetCreditCard `json:"creditCard,omitempty"`
}

// anetCreditCard is used for refunds only, which re-validate a payment
// instrument fragment (the last four digits) rather than referencing the
// charge alone.
type anetCreditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
}

type anetOrder struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type anetCustomer struct {
	Email string `json:"email,omitempty"`
}

type anetTransactionRequest struct {
	TransactionType string                `json:"transactionType"`
	Amount          string                `json:"amount"`
	Payment         *anetPayment          `json:"payment,omitempty"`
	RefTransID      string                `json:"refTransId,omitempty"`
	Order           *anetOrder            `json:"order,omitempty"`
	LineItems       *anetLineItemsWrapper `json:"lineItems,omitempty"`
	Customer        *anetCustomer         `json:"customer,omitempty"`
	BillTo          *BillingAddress       `json:"billTo,omitempty"`
}

type anetLineItemsWrapper struct {
	LineItem []AnetLineItem `json:"lineItem"`
}

type anetCreateTransactionBody struct {
	MerchantAuthentication anetMerchantAuth       `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     anetTransactionRequest `json:"transactionRequest"`
}

type anetCreateTransactionEnvelope struct {
	CreateTransactionRequest anetCreateTransactionBody `json:"createTransactionRequest"`
}

// AnetMessages is the API-level message envelope present on every response.
type AnetMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

// AnetTransactionResult is the transaction-level response block.
type AnetTransactionResult struct {
	ResponseCode string `json:"responseCode"`
	AuthCode     string `json:"authCode"`
	TransID      string `json:"transId"`
	Errors       []struct {
		ErrorCode string `json:"errorCode"`
		ErrorText string `json:"errorText"`
	} `json:"errors"`
}

// TransactionResponse is the normalized createTransaction result. A decline
// is a normal response for the caller to branch on, not an error.
type TransactionResponse struct {
	TransactionResponse *AnetTransactionResult `json:"transactionResponse"`
	RefID               string                 `json:"refId"`
	Messages            AnetMessages           `json:"messages"`
}

// IsTransactionSuccessful follows the response-code-1-means-approved
// convention: resultCode Ok AND responseCode "1".
func IsTransactionSuccessful(resp *TransactionResponse) bool {
	if resp == nil || resp.TransactionResponse == nil {
		return false
	}
	return resp.Messages.ResultCode == "Ok" && resp.TransactionResponse.ResponseCode == "1"
}

// TransactionError extracts an error message, falling back from the
// transaction-level errors array to the API-level message array.
func TransactionError(resp *TransactionResponse) string {
	if resp == nil {
		return "no response"
	}
	if resp.TransactionResponse != nil && len(resp.TransactionResponse.Errors) > 0 {
		return resp.TransactionResponse.Errors[0].ErrorText
	}
	if len(resp.Messages.Message) > 0 {
		return resp.Messages.Message[0].Text
	}
	return "unknown error"
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// formatAmount renders cents as the decimal dollar string the API expects.
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// BuildLineItems maps cart items onto Authorize.net lines, hard-truncating
// to the documented field maxima.
func BuildLineItems(items []models.CheckoutItem) []AnetLineItem {
	lines := make([]AnetLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, AnetLineItem{
			ItemID:      truncate(item.SKU, anetMaxItemIDLen),
			Name:        truncate(item.Name, anetMaxItemNameLen),
			Description: truncate(item.Name, anetMaxDescriptionLen),
			Quantity:    strconv.Itoa(item.Quantity),
			UnitPrice:   formatAmount(item.UnitPriceCents),
		})
	}
	return lines
}

// CreateTransaction runs an authCaptureTransaction: authorize and capture in
// one call, unlike Affirm's two-step flow.
func (c *AuthorizeNetClient) CreateTransaction(ctx context.Context, opaqueData OpaqueData, amountCents int64, orderRef, customerEmail string, items []models.CheckoutItem, billing *BillingAddress) (*TransactionResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.CreateTransaction")
	defer span.End()

	txReq := anetTransactionRequest{
		TransactionType: "authCaptureTransaction",
		Amount:          formatAmount(amountCents),
		Payment:         &anetPayment{OpaqueData: &opaqueData},
		Order: &anetOrder{
			InvoiceNumber: truncate(orderRef, anetMaxInvoiceLen),
			Description:   truncate("Order "+orderRef, anetMaxDescriptionLen),
		},
		BillTo: billing,
	}
	if customerEmail != "" {
		txReq.Customer = &anetCustomer{Email: truncate(customerEmail, anetMaxEmailLen)}
	}
	if len(items) > 0 {
		txReq.LineItems = &anetLineItemsWrapper{LineItem: BuildLineItems(items)}
	}

	envelope := anetCreateTransactionEnvelope{
		CreateTransactionRequest: anetCreateTransactionBody{
			MerchantAuthentication: c.merchantAuth(),
			RefID:                  truncate(orderRef, anetMaxInvoiceLen),
			TransactionRequest:     txReq,
		},
	}

	var resp TransactionResponse
	if err := c.rest.doJSON(ctx, "create_transaction", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("Authorize.net transaction processed",
		zap.String("order_ref", orderRef),
		zap.String("result_code", resp.Messages.ResultCode))
	return &resp, nil
}

type anetInterval struct {
	Length string `json:"length"`
	Unit   string `json:"unit"`
}

type anetPaymentSchedule struct {
	Interval         anetInterval `json:"interval"`
	StartDate        string       `json:"startDate"`
	TotalOccurrences string       `json:"totalOccurrences"`
}

type anetSubscription struct {
	Name            string              `json:"name"`
	PaymentSchedule anetPaymentSchedule `json:"paymentSchedule"`
	Amount          string              `json:"amount"`
	Payment         anetPayment         `json:"payment"`
	Customer        *anetCustomer       `json:"customer,omitempty"`
}

type anetARBCreateBody struct {
	MerchantAuthentication anetMerchantAuth `json:"merchantAuthentication"`
	Subscription           anetSubscription `json:"subscription"`
}

type anetARBCreateEnvelope struct {
	ARBCreateSubscriptionRequest anetARBCreateBody `json:"ARBCreateSubscriptionRequest"`
}

// SubscriptionResponse is the ARB create result.
type SubscriptionResponse struct {
	SubscriptionID string       `json:"subscriptionId"`
	Messages       AnetMessages `json:"messages"`
}

// buildSubscription assembles the ARB schedule. intervalMonths of zero
// defaults to monthly; a zero startDate starts today. Schedules are
// indefinite; there is no automatic expiry.
func (c *AuthorizeNetClient) buildSubscription(opaqueData OpaqueData, amountCents int64, name, customerEmail string, intervalMonths int, startDate time.Time) anetSubscription {
	if intervalMonths <= 0 {
		intervalMonths = 1
	}
	if startDate.IsZero() {
		startDate = time.Now()
	}
	sub := anetSubscription{
		Name: truncate(name, anetMaxNameLen),
		PaymentSchedule: anetPaymentSchedule{
			Interval: anetInterval{
				Length: strconv.Itoa(intervalMonths),
				Unit:   "months",
			},
			StartDate:        startDate.Format("2006-01-02"),
			TotalOccurrences: anetTotalOccurrences,
		},
		Amount:  formatAmount(amountCents),
		Payment: anetPayment{OpaqueData: &opaqueData},
	}
	if customerEmail != "" {
		sub.Customer = &anetCustomer{Email: truncate(customerEmail, anetMaxEmailLen)}
	}
	return sub
}

// CreateSubscription creates an indefinite recurring schedule.
func (c *AuthorizeNetClient) CreateSubscription(ctx context.Context, opaqueData OpaqueData, amountCents int64, name, customerEmail string, intervalMonths int, startDate time.Time) (*SubscriptionResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.CreateSubscription")
	defer span.End()

	envelope := anetARBCreateEnvelope{
		ARBCreateSubscriptionRequest: anetARBCreateBody{
			MerchantAuthentication: c.merchantAuth(),
			Subscription:           c.buildSubscription(opaqueData, amountCents, name, customerEmail, intervalMonths, startDate),
		},
	}

	var resp SubscriptionResponse
	if err := c.rest.doJSON(ctx, "create_subscription", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("Authorize.net subscription created",
		zap.String("subscription_id", resp.SubscriptionID))
	return &resp, nil
}

type anetSubRefBody struct {
	MerchantAuthentication anetMerchantAuth `json:"merchantAuthentication"`
	SubscriptionID         string           `json:"subscriptionId"`
}

type anetARBCancelEnvelope struct {
	ARBCancelSubscriptionRequest anetSubRefBody `json:"ARBCancelSubscriptionRequest"`
}

// CancelSubscription ends a recurring schedule.
func (c *AuthorizeNetClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.CancelSubscription")
	defer span.End()

	envelope := anetARBCancelEnvelope{
		ARBCancelSubscriptionRequest: anetSubRefBody{
			MerchantAuthentication: c.merchantAuth(),
			SubscriptionID:         subscriptionID,
		},
	}

	var resp struct {
		Messages AnetMessages `json:"messages"`
	}
	if err := c.rest.doJSON(ctx, "cancel_subscription", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return err
	}
	if resp.Messages.ResultCode != "Ok" {
		return &ProviderAPIError{
			Provider:   "authorize_net",
			Operation:  "cancel_subscription",
			StatusCode: 200,
			Body:       apiMessageText(resp.Messages),
		}
	}
	return nil
}

type anetARBStatusEnvelope struct {
	ARBGetSubscriptionStatusRequest anetSubRefBody `json:"ARBGetSubscriptionStatusRequest"`
}

// SubscriptionStatusResponse is the ARB status read.
type SubscriptionStatusResponse struct {
	Status   string       `json:"status"`
	Messages AnetMessages `json:"messages"`
}

// GetSubscriptionStatus is a read-only state query; the provider drives all
// status transitions.
func (c *AuthorizeNetClient) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatusResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.GetSubscriptionStatus")
	defer span.End()

	envelope := anetARBStatusEnvelope{
		ARBGetSubscriptionStatusRequest: anetSubRefBody{
			MerchantAuthentication: c.merchantAuth(),
			SubscriptionID:         subscriptionID,
		},
	}

	var resp SubscriptionStatusResponse
	if err := c.rest.doJSON(ctx, "get_subscription_status", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type anetTxDetailsBody struct {
	MerchantAuthentication anetMerchantAuth `json:"merchantAuthentication"`
	TransID                string           `json:"transId"`
}

type anetTxDetailsEnvelope struct {
	GetTransactionDetailsRequest anetTxDetailsBody `json:"getTransactionDetailsRequest"`
}

// TransactionDetails is the read model for a settled transaction.
type TransactionDetails struct {
	Transaction struct {
		TransID           string  `json:"transId"`
		TransactionStatus string  `json:"transactionStatus"`
		SettleAmount      float64 `json:"settleAmount"`
	} `json:"transaction"`
	Messages AnetMessages `json:"messages"`
}

// GetTransactionDetails reads a transaction's settled state.
func (c *AuthorizeNetClient) GetTransactionDetails(ctx context.Context, transactionID string) (*TransactionDetails, error) {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.GetTransactionDetails")
	defer span.End()

	envelope := anetTxDetailsEnvelope{
		GetTransactionDetailsRequest: anetTxDetailsBody{
			MerchantAuthentication: c.merchantAuth(),
			TransID:                transactionID,
		},
	}

	var resp TransactionDetails
	if err := c.rest.doJSON(ctx, "get_transaction_details", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefundTransactionInput carries the refund parameters. LastFour is required
// because the refund API re-validates a payment instrument fragment.
type RefundTransactionInput struct {
	TransactionID string
	AmountCents   int64
	LastFour      string
}

// RefundTransaction refunds a settled transaction. When AmountCents is zero
// the original settled amount is fetched first and refunded in full,
// verbatim.
func (c *AuthorizeNetClient) RefundTransaction(ctx context.Context, in RefundTransactionInput) (*TransactionResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthorizeNetClient.RefundTransaction")
	defer span.End()

	amount := formatAmount(in.AmountCents)
	if in.AmountCents <= 0 {
		details, err := c.GetTransactionDetails(ctx, in.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch original transaction for full refund: %w", err)
		}
		amount = strconv.FormatFloat(details.Transaction.SettleAmount, 'f', 2, 64)
	}

	envelope := anetCreateTransactionEnvelope{
		CreateTransactionRequest: anetCreateTransactionBody{
			MerchantAuthentication: c.merchantAuth(),
			TransactionRequest: anetTransactionRequest{
				TransactionType: "refundTransaction",
				Amount:          amount,
				RefTransID:      in.TransactionID,
				Payment: &anetPayment{
					CreditCard: &anetCreditCard{
						CardNumber:     in.LastFour,
						ExpirationDate: "XXXX",
					},
				},
			},
		},
	}

	var resp TransactionResponse
	if err := c.rest.doJSON(ctx, "refund_transaction", "POST", c.endpoint, nil, envelope, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("Authorize.net refund processed",
		zap.String("transaction_id", in.TransactionID),
		zap.String("amount", amount))
	return &resp, nil
}

// VerifySignatureSHA512 recomputes HMAC-SHA512 over the raw payload and
// compares uppercase hex digests. Deterministic; any single-byte mutation of
// payload or signature fails.
func VerifySignatureSHA512(payload []byte, signature, key string) bool {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	expected := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
	got := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(signature)), "SHA512=")
	return hmac.Equal([]byte(expected), []byte(got))
}

// VerifyWebhookSignature checks the X-ANET-Signature header value against
// the shared signing key. Without a key it passes only when the client was
// built fail-open, which startup validation restricts to non-production.
func (c *AuthorizeNetClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c.signingKey == "" {
		if c.failOpen {
			c.logger.Warn("Authorize.net webhook signature not verified: no signing key configured")
			return true
		}
		c.logger.Error("Authorize.net webhook rejected: no signing key configured")
		return false
	}
	return VerifySignatureSHA512(payload, signature, c.signingKey)
}

func apiMessageText(m AnetMessages) string {
	if len(m.Message) > 0 {
		return m.Message[0].Text
	}
	return "unknown error"
}

// CreateIntent implements the common provider contract. Authorize.net needs
// no pre-session: the card form renders immediately and Accept.js produces
// the opaque data client-side.
func (c *AuthorizeNetClient) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	return &IntentResponse{}, nil
}

// Finalize maps the createTransaction result onto the common taxonomy. A
// decline is a declined result; an API error envelope without a transaction
// block is treated like a transport failure.
func (c *AuthorizeNetClient) Finalize(ctx context.Context, req FinalizeRequest) (*Result, error) {
	if req.OpaqueData == nil {
		return nil, fmt.Errorf("authorize.net finalize requires opaque data")
	}

	resp, err := c.CreateTransaction(ctx, *req.OpaqueData, req.AmountCents, req.OrderRef, req.Email, req.Items, nil)
	if err != nil {
		return nil, err
	}

	if IsTransactionSuccessful(resp) {
		return &Result{
			Status:         StatusOk,
			TransactionRef: resp.TransactionResponse.TransID,
			AmountCents:    req.AmountCents,
		}, nil
	}

	if resp.TransactionResponse != nil && resp.TransactionResponse.TransID != "" {
		return &Result{
			Status:         StatusDeclined,
			TransactionRef: resp.TransactionResponse.TransID,
			Reason:         TransactionError(resp),
		}, nil
	}

	return nil, &ProviderAPIError{
		Provider:   "authorize_net",
		Operation:  "create_transaction",
		StatusCode: 200,
		Body:       TransactionError(resp),
	}
}

// Refund implements the common provider contract.
func (c *AuthorizeNetClient) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	resp, err := c.RefundTransaction(ctx, RefundTransactionInput{
		TransactionID: req.TransactionRef,
		AmountCents:   req.AmountCents,
		LastFour:      req.LastFour,
	})
	if err != nil {
		return nil, err
	}
	if !IsTransactionSuccessful(resp) {
		return &Result{
			Status: StatusDeclined,
			Reason: TransactionError(resp),
		}, nil
	}
	return &Result{
		Status:         StatusOk,
		TransactionRef: resp.TransactionResponse.TransID,
		AmountCents:    req.AmountCents,
	}, nil
}
