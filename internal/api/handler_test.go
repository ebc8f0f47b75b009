package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/payments"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	klarna []*models.KlarnaPushEvent
	anet   []*models.AnetWebhookEvent
}

func (c *capturingPublisher) PublishKlarnaPush(ctx context.Context, event *models.KlarnaPushEvent) error {
	c.klarna = append(c.klarna, event)
	return nil
}

func (c *capturingPublisher) PublishAnetWebhook(ctx context.Context, event *models.AnetWebhookEvent) error {
	c.anet = append(c.anet, event)
	return nil
}

func (c *capturingPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	return nil
}

func newWebhookRouter(t *testing.T, signingKey string, failOpen bool) (*gin.Engine, *capturingPublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	anet, err := payments.NewAuthorizeNetClient("https://unused", "login", "txkey", signingKey, failOpen, time.Second, 1)
	require.NoError(t, err)

	publisher := &capturingPublisher{}
	handler := NewHandler(nil, nil, nil, anet, publisher)

	router := gin.New()
	router.POST("/webhooks/klarna", handler.klarnaWebhook)
	router.POST("/webhooks/authorizenet", handler.authorizeNetWebhook)
	return router, publisher
}

func signBody(body []byte, key string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(body)
	return "sha512=" + strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func TestAuthorizeNetWebhookRejectsBadSignature(t *testing.T) {
	router, publisher := newWebhookRouter(t, "signing-key", false)

	body := []byte(`{"notificationId":"n-1","eventType":"net.authorize.payment.refund.created","payload":{"id":"tx-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))
	req.Header.Set("X-ANET-Signature", signBody(body, "wrong-key"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, publisher.anet)
}

func TestAuthorizeNetWebhookAcceptsValidSignature(t *testing.T) {
	router, publisher := newWebhookRouter(t, "signing-key", false)

	body := []byte(`{"notificationId":"n-2","eventType":"net.authorize.payment.refund.created","payload":{"id":"tx-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))
	req.Header.Set("X-ANET-Signature", signBody(body, "signing-key"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.anet, 1)
	assert.Equal(t, "n-2", publisher.anet[0].NotificationID)
	assert.Equal(t, "tx-1", publisher.anet[0].TransactionID)
	assert.Empty(t, publisher.anet[0].SubscriptionID)
}

func TestAuthorizeNetWebhookSubscriptionEventRoutesPayloadID(t *testing.T) {
	router, publisher := newWebhookRouter(t, "signing-key", false)

	body := []byte(`{"notificationId":"n-3","eventType":"net.authorize.customer.subscription.suspended","payload":{"id":"sub-9"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))
	req.Header.Set("X-ANET-Signature", signBody(body, "signing-key"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.anet, 1)
	assert.Equal(t, "sub-9", publisher.anet[0].SubscriptionID)
	assert.Empty(t, publisher.anet[0].TransactionID)
}

func TestAuthorizeNetWebhookFailClosedWithoutKey(t *testing.T) {
	router, publisher := newWebhookRouter(t, "", false)

	body := []byte(`{"notificationId":"n-4","eventType":"net.authorize.payment.refund.created","payload":{"id":"tx-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, publisher.anet)
}

func TestAuthorizeNetWebhookFailOpenInDevelopment(t *testing.T) {
	router, publisher := newWebhookRouter(t, "", true)

	body := []byte(`{"notificationId":"n-5","eventType":"net.authorize.payment.refund.created","payload":{"id":"tx-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/authorizenet", bytes.NewReader(body))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, publisher.anet, 1)
}

func TestKlarnaWebhookEnqueuesPush(t *testing.T) {
	router, publisher := newWebhookRouter(t, "signing-key", false)

	body := []byte(`{"event_id":"push-1","event_type":"FRAUD_RISK_ACCEPTED","order_id":"klarna-order-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/klarna", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.klarna, 1)
	assert.Equal(t, "push-1", publisher.klarna[0].PushEventID)
	assert.Equal(t, "klarna-order-1", publisher.klarna[0].OrderID)
}

func TestKlarnaWebhookRejectsMalformedPayload(t *testing.T) {
	router, publisher := newWebhookRouter(t, "signing-key", false)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/klarna", bytes.NewReader([]byte(`{"event_type":"x"}`)))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, publisher.klarna)
}
