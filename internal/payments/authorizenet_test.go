package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnetClient(t *testing.T, endpoint, signingKey string, failOpen bool) *AuthorizeNetClient {
	t.Helper()
	client, err := NewAuthorizeNetClient(endpoint, "login-id", "tx-key", signingKey, failOpen, 2*time.Second, 1)
	require.NoError(t, err)
	client.rest.delay = time.Millisecond
	return client
}

func TestNewAuthorizeNetClientRequiresCredentialPair(t *testing.T) {
	_, err := NewAuthorizeNetClient("https://x", "", "key", "", false, time.Second, 1)
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "authorize_net", cfgErr.Provider)
}

func TestIsTransactionSuccessful(t *testing.T) {
	tests := []struct {
		name string
		resp *TransactionResponse
		want bool
	}{
		{"approved", &TransactionResponse{
			Messages:            AnetMessages{ResultCode: "Ok"},
			TransactionResponse: &AnetTransactionResult{ResponseCode: "1"},
		}, true},
		{"declined response code", &TransactionResponse{
			Messages:            AnetMessages{ResultCode: "Ok"},
			TransactionResponse: &AnetTransactionResult{ResponseCode: "2"},
		}, false},
		{"api error", &TransactionResponse{
			Messages:            AnetMessages{ResultCode: "Error"},
			TransactionResponse: &AnetTransactionResult{ResponseCode: "1"},
		}, false},
		{"missing transaction response", &TransactionResponse{
			Messages: AnetMessages{ResultCode: "Ok"},
		}, false},
		{"nil response", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransactionSuccessful(tt.resp))
		})
	}
}

func TestTransactionErrorFallsBackThroughMessageLevels(t *testing.T) {
	var apiLevel TransactionResponse
	require.NoError(t, json.Unmarshal([]byte(
		`{"transactionResponse":{},"messages":{"resultCode":"Error","message":[{"code":"E00027","text":"The transaction was unsuccessful."}]}}`,
	), &apiLevel))
	assert.Equal(t, "The transaction was unsuccessful.", TransactionError(&apiLevel))

	var txLevel TransactionResponse
	require.NoError(t, json.Unmarshal([]byte(
		`{"transactionResponse":{"errors":[{"errorCode":"2","errorText":"This transaction has been declined."}]},"messages":{"resultCode":"Error","message":[{"code":"E00027","text":"The transaction was unsuccessful."}]}}`,
	), &txLevel))
	assert.Equal(t, "This transaction has been declined.", TransactionError(&txLevel))

	assert.Equal(t, "no response", TransactionError(nil))
	assert.Equal(t, "unknown error", TransactionError(&TransactionResponse{}))
}

func TestBuildLineItemsTruncation(t *testing.T) {
	longName := strings.Repeat("n", 100)
	longSKU := strings.Repeat("s", 60)

	lines := BuildLineItems([]models.CheckoutItem{
		{SKU: longSKU, Name: longName, Quantity: 2, UnitPriceCents: 1999},
		{SKU: "ok", Name: "short", Quantity: 1, UnitPriceCents: 500},
	})

	require.Len(t, lines, 2)
	assert.Len(t, lines[0].ItemID, anetMaxItemIDLen)
	assert.Len(t, lines[0].Name, anetMaxItemNameLen)
	assert.LessOrEqual(t, len(lines[0].Description), anetMaxDescriptionLen)
	assert.Equal(t, "19.99", lines[0].UnitPrice)
	assert.Equal(t, "2", lines[0].Quantity)

	assert.Equal(t, "ok", lines[1].ItemID)
	assert.Equal(t, "short", lines[1].Name)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "19.99", formatAmount(1999))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "100.00", formatAmount(10000))
}

func TestBuildSubscriptionDefaults(t *testing.T) {
	client := newTestAnetClient(t, "unused", "", true)

	sub := client.buildSubscription(OpaqueData{DataDescriptor: "d", DataValue: "v"}, 4999, "Monthly Plan", "a@b.co", 0, time.Time{})

	assert.Equal(t, "1", sub.PaymentSchedule.Interval.Length)
	assert.Equal(t, "months", sub.PaymentSchedule.Interval.Unit)
	assert.Equal(t, "9999", sub.PaymentSchedule.TotalOccurrences)
	assert.Equal(t, "49.99", sub.Amount)

	quarterly := client.buildSubscription(OpaqueData{}, 100, "Q", "", 3, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "3", quarterly.PaymentSchedule.Interval.Length)
	assert.Equal(t, "2026-09-01", quarterly.PaymentSchedule.StartDate)
}

func TestCreateSubscriptionRequestShape(t *testing.T) {
	var captured map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"subscriptionId":"sub-1","messages":{"resultCode":"Ok"}}`))
	}))
	defer server.Close()

	client := newTestAnetClient(t, server.URL, "", true)

	resp, err := client.CreateSubscription(context.Background(), OpaqueData{DataDescriptor: "d", DataValue: "v"}, 1999, "Plan", "a@b.co", 0, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", resp.SubscriptionID)

	// Request must be discriminated by the ARB top-level key.
	_, ok := captured["ARBCreateSubscriptionRequest"]
	assert.True(t, ok)
}

func TestRefundTransactionFetchesSettledAmount(t *testing.T) {
	var requests []map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)

		if _, ok := body["getTransactionDetailsRequest"]; ok {
			w.Write([]byte(`{"transaction":{"transId":"tx-1","transactionStatus":"settledSuccessfully","settleAmount":49.99},"messages":{"resultCode":"Ok"}}`))
			return
		}
		w.Write([]byte(`{"transactionResponse":{"responseCode":"1","transId":"tx-refund"},"messages":{"resultCode":"Ok"}}`))
	}))
	defer server.Close()

	client := newTestAnetClient(t, server.URL, "", true)

	resp, err := client.RefundTransaction(context.Background(), RefundTransactionInput{
		TransactionID: "tx-1",
		LastFour:      "1111",
	})
	require.NoError(t, err)
	assert.True(t, IsTransactionSuccessful(resp))

	require.Len(t, requests, 2)
	var refundEnvelope anetCreateTransactionEnvelope
	require.NoError(t, json.Unmarshal(requests[1]["createTransactionRequest"], &refundEnvelope.CreateTransactionRequest))
	txReq := refundEnvelope.CreateTransactionRequest.TransactionRequest
	assert.Equal(t, "refundTransaction", txReq.TransactionType)
	assert.Equal(t, "49.99", txReq.Amount)
	assert.Equal(t, "tx-1", txReq.RefTransID)
	require.NotNil(t, txReq.Payment)
	require.NotNil(t, txReq.Payment.CreditCard)
	assert.Equal(t, "1111", txReq.Payment.CreditCard.CardNumber)
}

func TestRefundTransactionExplicitAmountSkipsFetch(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.Write([]byte(`{"transactionResponse":{"responseCode":"1","transId":"tx-refund"},"messages":{"resultCode":"Ok"}}`))
	}))
	defer server.Close()

	client := newTestAnetClient(t, server.URL, "", true)

	_, err := client.RefundTransaction(context.Background(), RefundTransactionInput{
		TransactionID: "tx-1",
		AmountCents:   500,
		LastFour:      "1111",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func signPayload(payload []byte, key string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(payload)
	return "sha512=" + strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignatureSHA512(t *testing.T) {
	payload := []byte(`{"notificationId":"n-1","eventType":"net.authorize.payment.refund.created"}`)
	key := "shared-signing-key"
	sig := signPayload(payload, key)

	assert.True(t, VerifySignatureSHA512(payload, sig, key))

	// Lowercase digest and missing prefix still verify.
	assert.True(t, VerifySignatureSHA512(payload, strings.ToLower(strings.TrimPrefix(sig, "sha512=")), key))

	// Any single-byte mutation of the payload fails.
	mutated := append([]byte(nil), payload...)
	mutated[0] ^= 0x01
	assert.False(t, VerifySignatureSHA512(mutated, sig, key))

	// Any single-byte mutation of the signature fails.
	badSig := []byte(sig)
	if badSig[len(badSig)-1] == 'A' {
		badSig[len(badSig)-1] = 'B'
	} else {
		badSig[len(badSig)-1] = 'A'
	}
	assert.False(t, VerifySignatureSHA512(payload, string(badSig), key))

	// Wrong key fails.
	assert.False(t, VerifySignatureSHA512(payload, sig, "other-key"))
}

func TestVerifyWebhookSignatureFailOpenPolicy(t *testing.T) {
	payload := []byte(`{"notificationId":"n-2"}`)

	// Development profile: no key, fail open.
	dev := newTestAnetClient(t, "unused", "", true)
	assert.True(t, dev.VerifyWebhookSignature(payload, "whatever"))

	// Production profile: no key, fail closed.
	prod := newTestAnetClient(t, "unused", "", false)
	assert.False(t, prod.VerifyWebhookSignature(payload, "whatever"))

	// Configured key always verifies regardless of the profile.
	keyed := newTestAnetClient(t, "unused", "k", false)
	assert.True(t, keyed.VerifyWebhookSignature(payload, signPayload(payload, "k")))
	assert.False(t, keyed.VerifyWebhookSignature(payload, signPayload(payload, "wrong")))
}

func TestFinalizeMapsDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transactionResponse":{"responseCode":"2","transId":"tx-2","errors":[{"errorCode":"2","errorText":"This transaction has been declined."}]},"messages":{"resultCode":"Ok"}}`))
	}))
	defer server.Close()

	client := newTestAnetClient(t, server.URL, "", true)

	result, err := client.Finalize(context.Background(), FinalizeRequest{
		OrderRef:    "42",
		AmountCents: 1000,
		OpaqueData:  &OpaqueData{DataDescriptor: "d", DataValue: "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, result.Status)
	assert.Equal(t, "This transaction has been declined.", result.Reason)
}

func TestFinalizeSuccess(t *testing.T) {
	var captured map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"transactionResponse":{"responseCode":"1","transId":"tx-3"},"messages":{"resultCode":"Ok"}}`))
	}))
	defer server.Close()

	client := newTestAnetClient(t, server.URL, "", true)

	result, err := client.Finalize(context.Background(), FinalizeRequest{
		OrderRef:    "this-order-ref-is-way-too-long-for-an-invoice",
		AmountCents: 1000,
		Email:       "a@b.co",
		Items: []models.CheckoutItem{
			{SKU: "A", Name: "Widget", Quantity: 1, UnitPriceCents: 1000},
		},
		OpaqueData: &OpaqueData{DataDescriptor: "d", DataValue: "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, result.Status)
	assert.Equal(t, "tx-3", result.TransactionRef)

	var envelope anetCreateTransactionBody
	require.NoError(t, json.Unmarshal(captured["createTransactionRequest"], &envelope))
	assert.Equal(t, "authCaptureTransaction", envelope.TransactionRequest.TransactionType)
	assert.Equal(t, "10.00", envelope.TransactionRequest.Amount)
	assert.LessOrEqual(t, len(envelope.TransactionRequest.Order.InvoiceNumber), anetMaxInvoiceLen)
	assert.Equal(t, "login-id", envelope.MerchantAuthentication.Name)
}

func TestFinalizeRequiresOpaqueData(t *testing.T) {
	client := newTestAnetClient(t, "unused", "", true)

	_, err := client.Finalize(context.Background(), FinalizeRequest{OrderRef: "1", AmountCents: 1})
	assert.Error(t, err)
}
