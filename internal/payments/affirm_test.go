package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAffirmClient(t *testing.T, baseURL string) *AffirmClient {
	t.Helper()
	client, err := NewAffirmClient(baseURL, "pub-key", "priv-key", "https://shop.example.com", 2*time.Second, 1)
	require.NoError(t, err)
	client.rest.delay = time.Millisecond
	return client
}

func TestNewAffirmClientRequiresKeyPair(t *testing.T) {
	_, err := NewAffirmClient("https://sandbox.affirm.com", "", "priv", "https://x", time.Second, 1)
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "affirm", cfgErr.Provider)

	_, err = NewAffirmClient("https://sandbox.affirm.com", "pub", "", "https://x", time.Second, 1)
	assert.Error(t, err)
}

func TestBuildCheckoutConfigItemTotals(t *testing.T) {
	client := newTestAffirmClient(t, "unused")

	items := []models.CheckoutItem{
		{SKU: "A", Name: "Widget", Quantity: 2, UnitPriceCents: 500},
		{SKU: "B", Name: "Gadget", Quantity: 3, UnitPriceCents: 1250},
	}

	cfg := client.BuildCheckoutConfig("order-1", 4750, items, "https://x/ok", "https://x/cancel")

	var sum int64
	for _, item := range cfg.Items {
		sum += item.UnitPrice * int64(item.Qty)
	}
	assert.Equal(t, cfg.Total, sum)
	assert.Equal(t, "https://x/ok", cfg.Merchant.UserConfirmationURL)
	assert.Equal(t, "https://x/cancel", cfg.Merchant.UserCancelURL)
	assert.Equal(t, "POST", cfg.Merchant.UserConfirmationURLAction)
}

func TestBuildCheckoutConfigScenario(t *testing.T) {
	client := newTestAffirmClient(t, "unused")

	items := []models.CheckoutItem{
		{SKU: "A", Name: "Widget", Quantity: 2, UnitPriceCents: 500},
	}

	cfg := client.BuildCheckoutConfig("order-7", 1000, items, "https://x/ok", "https://x/cancel")

	require.Len(t, cfg.Items, 1)
	assert.Equal(t, "Widget", cfg.Items[0].DisplayName)
	assert.Equal(t, "A", cfg.Items[0].SKU)
	assert.Equal(t, int64(500), cfg.Items[0].UnitPrice)
	assert.Equal(t, 2, cfg.Items[0].Qty)
	assert.Equal(t, "https://shop.example.com/products/A", cfg.Items[0].ItemURL)
	assert.Equal(t, int64(1000), cfg.Total)
}

func TestBuildCheckoutConfigMembershipFallback(t *testing.T) {
	client := newTestAffirmClient(t, "unused")

	for _, items := range [][]models.CheckoutItem{nil, {}} {
		cfg := client.BuildCheckoutConfig("order-2", 2999, items, "https://x/ok", "https://x/cancel")
		require.Len(t, cfg.Items, 1)
		assert.Equal(t, "membership", cfg.Items[0].SKU)
		assert.Equal(t, int64(2999), cfg.Items[0].UnitPrice)
		assert.Equal(t, 1, cfg.Items[0].Qty)
		assert.Equal(t, int64(2999), cfg.Total)
	}

	// A non-empty cart must not fall back.
	cfg := client.BuildCheckoutConfig("order-3", 100, []models.CheckoutItem{
		{SKU: "X", Name: "Thing", Quantity: 1, UnitPriceCents: 100},
	}, "https://x/ok", "https://x/cancel")
	assert.Equal(t, "X", cfg.Items[0].SKU)
}

func TestAuthorizeCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/charges", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "pub-key", user)
		assert.Equal(t, "priv-key", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chg-123","status":"authorized","amount":1000,"currency":"USD"}`))
	}))
	defer server.Close()

	client := newTestAffirmClient(t, server.URL)

	charge, err := client.AuthorizeCharge(context.Background(), "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "chg-123", charge.ID)
	assert.Equal(t, "authorized", charge.Status)
	assert.Equal(t, int64(1000), charge.Amount)
}

func TestAuthorizeChargeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid checkout token"}`))
	}))
	defer server.Close()

	client := newTestAffirmClient(t, server.URL)

	_, err := client.AuthorizeCharge(context.Background(), "bad-token")
	require.Error(t, err)

	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid checkout token")
	assert.False(t, apiErr.Retryable())
}

func TestFinalizeAuthorizesThenCaptures(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chg-9","status":"captured","amount":2500}`))
	}))
	defer server.Close()

	client := newTestAffirmClient(t, server.URL)

	result, err := client.Finalize(context.Background(), FinalizeRequest{
		OrderRef:      "42",
		AmountCents:   2500,
		CheckoutToken: "tok-xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, result.Status)
	assert.Equal(t, "chg-9", result.TransactionRef)
	require.Len(t, paths, 2)
	assert.Equal(t, "/api/v2/charges", paths[0])
	assert.Equal(t, "/api/v2/charges/chg-9/capture", paths[1])
}

func TestRefundCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/charges/chg-9/refund", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ref-1","amount":750}`))
	}))
	defer server.Close()

	client := newTestAffirmClient(t, server.URL)

	refund, err := client.RefundCharge(context.Background(), "chg-9", 750)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", refund.ID)
	assert.Equal(t, int64(750), refund.Amount)
}
