package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payment-gateway/internal/checkout"
	"payment-gateway/internal/models"
	"payment-gateway/internal/payments"
	"payment-gateway/internal/store"
	"payment-gateway/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orchestrator *checkout.Orchestrator
	store        *store.Store
	registry     payments.Registry
	anet         *payments.AuthorizeNetClient
	publisher    webhookPublisher
	logger       *zap.Logger
}

type webhookPublisher interface {
	PublishKlarnaPush(ctx context.Context, event *models.KlarnaPushEvent) error
	PublishAnetWebhook(ctx context.Context, event *models.AnetWebhookEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
}

// NewHandler creates a new HTTP handler. anet may be nil when Authorize.net
// is disabled; subscription and webhook routes then answer 503.
func NewHandler(
	orchestrator *checkout.Orchestrator,
	st *store.Store,
	registry payments.Registry,
	anet *payments.AuthorizeNetClient,
	publisher webhookPublisher,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		store:        st,
		registry:     registry,
		anet:         anet,
		publisher:    publisher,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout/sessions", h.createCheckoutSession)
		v1.GET("/checkout/sessions/:id", h.getCheckoutSession)
		v1.PUT("/checkout/sessions/:id/provider", h.switchProvider)
		v1.POST("/checkout/finalize", h.finalizeCheckout)
		v1.POST("/refunds", h.refund)
		v1.POST("/subscriptions", h.createSubscription)
		v1.GET("/subscriptions/:id", h.getSubscription)
		v1.DELETE("/subscriptions/:id", h.cancelSubscription)
		v1.GET("/orders/:id", h.getOrder)
	}

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/klarna", h.klarnaWebhook)
		webhooks.POST("/authorizenet", h.authorizeNetWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCheckoutSession bootstraps a provider flow for a cart
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, err := h.orchestrator.StartSession(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to start checkout session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// getCheckoutSession returns the current session state
func (h *Handler) getCheckoutSession(c *gin.Context) {
	session, err := h.orchestrator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// switchProvider discards the in-flight flow and bootstraps another provider
func (h *Handler) switchProvider(c *gin.Context) {
	var req struct {
		Provider models.Provider `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.orchestrator.SwitchProvider(c.Request.Context(), c.Param("id"), req.Provider)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, checkout.ErrSessionNotFound) {
			status = http.StatusNotFound
		} else if errors.Is(err, checkout.ErrInvalidState) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": "Failed to switch provider"})
		return
	}
	c.JSON(http.StatusOK, session)
}

type finalizeRequest struct {
	SessionID          string               `json:"session_id" binding:"required"`
	CheckoutToken      string               `json:"checkout_token,omitempty"`
	AuthorizationToken string               `json:"authorization_token,omitempty"`
	OpaqueData         *payments.OpaqueData `json:"opaque_data,omitempty"`
}

// finalizeCheckout exchanges the provider authorization artifact for a
// captured payment. Requires an Idempotency-Key header.
func (h *Handler) finalizeCheckout(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
		return
	}

	session, err := h.orchestrator.Submit(c.Request.Context(), req.SessionID, checkout.SubmitRequest{
		IdempotencyKey:     idemKey,
		CheckoutToken:      req.CheckoutToken,
		AuthorizationToken: req.AuthorizationToken,
		OpaqueData:         req.OpaqueData,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, checkout.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "Session is not ready for submission"})
		case errors.Is(err, checkout.ErrDuplicateSubmit):
			c.JSON(http.StatusConflict, gin.H{"error": "A submission with this key is already in flight"})
		case errors.Is(err, checkout.ErrPaymentFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": checkout.ErrPaymentFailed.Error()})
		default:
			h.logger.Error("Finalize failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": checkout.ErrPaymentFailed.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

type refundRequest struct {
	Provider       models.Provider `json:"provider" binding:"required"`
	TransactionRef string          `json:"transaction_ref" binding:"required"`
	AmountCents    int64           `json:"amount_cents,omitempty"`
	LastFour       string          `json:"last_four,omitempty"`
}

// refund refunds a captured transaction through the matching provider
func (h *Handler) refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	provider := h.registry.Get(req.Provider)
	if provider == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provider does not support refunds here"})
		return
	}

	result, err := provider.Refund(c.Request.Context(), payments.RefundRequest{
		TransactionRef: req.TransactionRef,
		AmountCents:    req.AmountCents,
		LastFour:       req.LastFour,
	})
	if err != nil {
		util.RefundsTotal.WithLabelValues(string(req.Provider), "error").Inc()
		h.logger.Error("Refund failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Refund failed, please try again"})
		return
	}
	if result.Status != payments.StatusOk {
		util.RefundsTotal.WithLabelValues(string(req.Provider), "declined").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Refund was not accepted"})
		return
	}
	util.RefundsTotal.WithLabelValues(string(req.Provider), "ok").Inc()

	// Best effort bookkeeping; the provider is the source of truth.
	ctx := c.Request.Context()
	if payment, err := h.store.GetPaymentByProviderTxID(ctx, req.TransactionRef); err == nil {
		_ = h.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusRefunded, payment.ProviderTxID)
		_ = h.store.UpdateOrderStatus(ctx, payment.OrderID, models.OrderStatusRefunded)

		event := &models.PaymentRefundedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentRefunded,
				Timestamp: time.Now(),
			},
			OrderID:      payment.OrderID,
			Provider:     string(req.Provider),
			ProviderTxID: req.TransactionRef,
			Amount:       result.AmountCents,
		}
		if err := h.publisher.PublishPaymentRefunded(ctx, event); err != nil {
			h.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction_ref": result.TransactionRef,
		"amount_cents":    result.AmountCents,
	})
}

type createSubscriptionRequest struct {
	OpaqueData     payments.OpaqueData `json:"opaque_data" binding:"required"`
	AmountCents    int64               `json:"amount_cents" binding:"required,min=1"`
	Name           string              `json:"name" binding:"required"`
	Email          string              `json:"email,omitempty"`
	IntervalMonths int                 `json:"interval_months,omitempty"`
	StartDate      string              `json:"start_date,omitempty"`
}

// createSubscription creates an Authorize.net ARB schedule
func (h *Handler) createSubscription(c *gin.Context) {
	if h.anet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recurring billing is not enabled"})
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	var startDate time.Time
	if req.StartDate != "" {
		var err error
		startDate, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
	}

	ctx := c.Request.Context()
	resp, err := h.anet.CreateSubscription(ctx, req.OpaqueData, req.AmountCents, req.Name, req.Email, req.IntervalMonths, startDate)
	if err != nil {
		h.logger.Error("Subscription creation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Subscription could not be created"})
		return
	}
	if resp.Messages.ResultCode != "Ok" || resp.SubscriptionID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Subscription was not accepted"})
		return
	}

	util.SubscriptionsCreatedTotal.Inc()

	interval := req.IntervalMonths
	if interval <= 0 {
		interval = 1
	}
	if startDate.IsZero() {
		startDate = time.Now()
	}
	sub := &models.Subscription{
		Provider:       string(models.ProviderAuthorizeNet),
		ProviderSubID:  resp.SubscriptionID,
		Name:           req.Name,
		Email:          req.Email,
		Amount:         req.AmountCents,
		IntervalMonths: interval,
		StartDate:      startDate,
		Status:         models.SubscriptionStatusActive,
	}
	if err := h.store.CreateSubscription(ctx, sub); err != nil {
		h.logger.Error("Failed to persist subscription", zap.Error(err))
	}

	c.JSON(http.StatusCreated, sub)
}

// getSubscription reads the provider-driven subscription status
func (h *Handler) getSubscription(c *gin.Context) {
	if h.anet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recurring billing is not enabled"})
		return
	}

	subID := c.Param("id")
	ctx := c.Request.Context()

	status, err := h.anet.GetSubscriptionStatus(ctx, subID)
	if err != nil {
		h.logger.Error("Subscription status fetch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not fetch subscription status"})
		return
	}

	if err := h.store.UpdateSubscriptionStatus(ctx, subID, status.Status); err != nil {
		h.logger.Error("Failed to record subscription status", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_id": subID,
		"status":          status.Status,
	})
}

// cancelSubscription ends an ARB schedule; there is no automatic expiry
func (h *Handler) cancelSubscription(c *gin.Context) {
	if h.anet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recurring billing is not enabled"})
		return
	}

	subID := c.Param("id")
	ctx := c.Request.Context()

	if err := h.anet.CancelSubscription(ctx, subID); err != nil {
		h.logger.Error("Subscription cancellation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not cancel subscription"})
		return
	}

	util.SubscriptionsCancelledTotal.Inc()
	if err := h.store.UpdateSubscriptionStatus(ctx, subID, models.SubscriptionStatusCanceled); err != nil {
		h.logger.Error("Failed to record subscription cancellation", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"subscription_id": subID, "status": models.SubscriptionStatusCanceled})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	idStr := c.Param("id")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	ctx := c.Request.Context()
	order, err := h.store.GetOrderByID(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	items, err := h.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order items"})
		return
	}

	resp := gin.H{"order": order, "items": items}
	if payment, err := h.store.GetPaymentByOrderID(ctx, orderID); err == nil {
		resp["payment"] = payment
	}

	c.JSON(http.StatusOK, resp)
}

type klarnaPush struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id" binding:"required"`
}

// klarnaWebhook ingests Klarna's push notification. Processing (and the
// mandatory order acknowledgement) happens asynchronously in the worker; a
// non-2xx here makes Klarna retry the delivery.
func (h *Handler) klarnaWebhook(c *gin.Context) {
	var push klarnaPush
	if err := c.ShouldBindJSON(&push); err != nil {
		util.WebhookEventsTotal.WithLabelValues("klarna", "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid push payload"})
		return
	}
	if push.EventID == "" {
		push.EventID = uuid.New().String()
	}

	event := &models.KlarnaPushEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeKlarnaPushReceived,
			Timestamp: time.Now(),
		},
		PushEventID:   push.EventID,
		PushEventType: push.EventType,
		OrderID:       push.OrderID,
	}
	if err := h.publisher.PublishKlarnaPush(c.Request.Context(), event); err != nil {
		util.WebhookEventsTotal.WithLabelValues("klarna", "error").Inc()
		h.logger.Error("Failed to enqueue Klarna push", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept push"})
		return
	}

	util.WebhookEventsTotal.WithLabelValues("klarna", "accepted").Inc()
	c.Status(http.StatusOK)
}

type anetNotification struct {
	NotificationID string `json:"notificationId"`
	EventType      string `json:"eventType"`
	Payload        struct {
		ID string `json:"id"`
	} `json:"payload"`
}

// authorizeNetWebhook verifies the HMAC-SHA512 signature over the raw body
// before the payload is trusted.
func (h *Handler) authorizeNetWebhook(c *gin.Context) {
	if h.anet == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Provider not enabled"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("X-ANET-Signature")
	if !h.anet.VerifyWebhookSignature(body, signature) {
		util.WebhookSignatureFailures.WithLabelValues("authorize_net").Inc()
		util.WebhookEventsTotal.WithLabelValues("authorize_net", "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var notification anetNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		util.WebhookEventsTotal.WithLabelValues("authorize_net", "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification payload"})
		return
	}

	if notification.NotificationID == "" {
		notification.NotificationID = uuid.New().String()
	}

	event := &models.AnetWebhookEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAnetWebhookReceived,
			Timestamp: time.Now(),
		},
		NotificationID: notification.NotificationID,
		AnetEventType:  notification.EventType,
	}
	// For subscription events payload.id is the ARB subscription id.
	if strings.Contains(notification.EventType, ".subscription.") {
		event.SubscriptionID = notification.Payload.ID
	} else {
		event.TransactionID = notification.Payload.ID
	}
	if err := h.publisher.PublishAnetWebhook(c.Request.Context(), event); err != nil {
		util.WebhookEventsTotal.WithLabelValues("authorize_net", "error").Inc()
		h.logger.Error("Failed to enqueue Authorize.net webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept notification"})
		return
	}

	util.WebhookEventsTotal.WithLabelValues("authorize_net", "accepted").Inc()
	c.Status(http.StatusOK)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
