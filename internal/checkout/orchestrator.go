package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/payments"
	"payment-gateway/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session states. One provider flow is active at a time; switching providers
// mid-flow discards in-flight provider handles.
type State string

const (
	StateIdle             State = "idle"
	StateProviderSelected State = "provider_selected"
	StateProviderLoading  State = "provider_loading"
	StateWidgetReady      State = "widget_ready"
	StateSubmitting       State = "submitting"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found or expired")
	ErrInvalidState    = errors.New("checkout session is not in a submittable state")
	ErrDuplicateSubmit = errors.New("a submission with this idempotency key is already in flight")
	// ErrPaymentFailed is the generic user-facing failure; raw provider
	// errors are logged, never surfaced verbatim.
	ErrPaymentFailed = errors.New("payment failed, please try again")
)

// Session is one checkout attempt, held in Redis for the attempt TTL.
type Session struct {
	ID             string                `json:"id"`
	Provider       models.Provider       `json:"provider"`
	Type           string                `json:"type"`
	State          State                 `json:"state"`
	AmountCents    int64                 `json:"amount_cents"`
	Items          []models.CheckoutItem `json:"items,omitempty"`
	Email          string                `json:"email,omitempty"`
	ClientToken    string                `json:"client_token,omitempty"`
	ProviderRef    string                `json:"provider_ref,omitempty"`
	CheckoutConfig any                   `json:"checkout_config,omitempty"`
	FallbackFrom   string                `json:"fallback_from,omitempty"`
	Error          string                `json:"error,omitempty"`
	OrderID        int64                 `json:"order_id,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// SubmitRequest carries the provider authorization artifact for finalization.
type SubmitRequest struct {
	IdempotencyKey     string
	CheckoutToken      string
	AuthorizationToken string
	OpaqueData         *payments.OpaqueData
	LastFour           string
}

type sessionStore interface {
	SaveSession(ctx context.Context, sessionID string, session any, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string, out any) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

type orderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

type eventPublisher interface {
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentDeclined(ctx context.Context, event *models.PaymentDeclinedEvent) error
	PublishOrderPendingReview(ctx context.Context, event *models.OrderPendingReviewEvent) error
}

// Orchestrator drives the provider-specific multi-step checkout flow.
type Orchestrator struct {
	registry        payments.Registry
	sessions        sessionStore
	store           orderStore
	publisher       eventPublisher
	defaultProvider models.Provider
	siteURL         string
	pushURL         string
	sessionTTL      time.Duration
	logger          *zap.Logger
}

// NewOrchestrator creates a checkout orchestrator.
func NewOrchestrator(
	registry payments.Registry,
	sessions sessionStore,
	store orderStore,
	publisher eventPublisher,
	defaultProvider models.Provider,
	siteURL, pushURL string,
	sessionTTL time.Duration,
) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		sessions:        sessions,
		store:           store,
		publisher:       publisher,
		defaultProvider: defaultProvider,
		siteURL:         siteURL,
		pushURL:         pushURL,
		sessionTTL:      sessionTTL,
		logger:          util.GetLogger(),
	}
}

// needsBootstrap reports whether a provider requires an async session
// round trip before its widget can render. Stripe and Authorize.net render a
// card form immediately.
func needsBootstrap(p models.Provider) bool {
	return p == models.ProviderKlarna || p == models.ProviderAffirm
}

// StartSession selects a provider and bootstraps its flow. A bootstrap
// failure falls back to the default provider so the user is always left with
// a working payment path.
func (o *Orchestrator) StartSession(ctx context.Context, req *models.CheckoutRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.StartSession")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	session := &Session{
		ID:          uuid.New().String(),
		Provider:    req.Provider,
		Type:        req.Type,
		State:       StateProviderSelected,
		AmountCents: req.AmountCents,
		Items:       req.Items,
		Email:       req.Email,
		CreatedAt:   time.Now(),
	}

	o.bootstrap(ctx, session)

	if err := o.sessions.SaveSession(ctx, session.ID, session, o.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}

	util.CheckoutSessionsCreated.WithLabelValues(string(session.Provider)).Inc()
	o.logger.Info("Checkout session started",
		zap.String("session_id", session.ID),
		zap.String("provider", string(session.Provider)),
		zap.Int64("amount", session.AmountCents))
	return session, nil
}

// SwitchProvider discards in-flight provider handles and bootstraps the new
// provider. No cross-provider token reuse.
func (o *Orchestrator) SwitchProvider(ctx context.Context, sessionID string, provider models.Provider) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.SwitchProvider")
	defer span.End()

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == StateSubmitting || session.State == StateSucceeded {
		return nil, ErrInvalidState
	}

	session.Provider = provider
	session.State = StateProviderSelected
	session.ClientToken = ""
	session.ProviderRef = ""
	session.CheckoutConfig = nil
	session.FallbackFrom = ""
	session.Error = ""

	o.bootstrap(ctx, session)

	if err := o.sessions.SaveSession(ctx, session.ID, session, o.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}
	return session, nil
}

// bootstrap runs the provider-specific pre-session and settles the session
// in widget_ready, falling back to the default provider on failure.
func (o *Orchestrator) bootstrap(ctx context.Context, session *Session) {
	if !needsBootstrap(session.Provider) {
		session.State = StateWidgetReady
		return
	}

	session.State = StateProviderLoading
	provider := o.registry.Get(session.Provider)
	if provider == nil {
		o.fallback(ctx, session, fmt.Errorf("provider %s not configured", session.Provider))
		return
	}

	intent, err := provider.CreateIntent(ctx, payments.IntentRequest{
		OrderRef:        session.ID,
		AmountCents:     session.AmountCents,
		Items:           session.Items,
		ConfirmationURL: o.siteURL + "/checkout/confirmation",
		CancelURL:       o.siteURL + "/checkout/cancel",
		PushURL:         o.pushURL,
	})
	if err != nil {
		o.fallback(ctx, session, err)
		return
	}

	session.ClientToken = intent.ClientToken
	session.ProviderRef = intent.SessionID
	session.CheckoutConfig = intent.CheckoutConfig
	session.State = StateWidgetReady
}

func (o *Orchestrator) fallback(ctx context.Context, session *Session, cause error) {
	o.logger.Error("Provider bootstrap failed, falling back to default",
		zap.String("session_id", session.ID),
		zap.String("provider", string(session.Provider)),
		zap.Error(cause))
	util.CheckoutFallbacksTotal.WithLabelValues(string(session.Provider)).Inc()

	session.FallbackFrom = string(session.Provider)
	session.Provider = o.defaultProvider
	session.Error = "This payment option is unavailable right now. Please use another method."
	session.State = StateWidgetReady
}

// Submit finalizes the checkout with the provider authorization artifact.
// The idempotency key is required; a replayed key returns the original order
// instead of creating a duplicate charge.
func (o *Orchestrator) Submit(ctx context.Context, sessionID string, req SubmitRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.Submit")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	session, err := o.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A replayed key is answered from the stored order before any state
	// gating, so a client retry after a slow commit still gets its result.
	existing, err := o.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		util.IdempotentReplaysTotal.Inc()
		o.logger.Info("Duplicate finalize request answered from existing order",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		session.OrderID = existing.ID
		session.State = sessionStateForOrder(existing.Status)
		return session, nil
	}

	if session.State != StateWidgetReady {
		return nil, ErrInvalidState
	}

	claimed, err := o.sessions.ReserveIdempotencyKey(ctx, req.IdempotencyKey, o.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !claimed {
		return nil, ErrDuplicateSubmit
	}

	session.State = StateSubmitting
	if err := o.sessions.SaveSession(ctx, session.ID, session, o.sessionTTL); err != nil {
		o.logger.Error("Failed to persist submitting state", zap.Error(err))
	}

	provider := o.registry.Get(session.Provider)
	if provider == nil {
		_ = o.sessions.ReleaseIdempotencyKey(ctx, req.IdempotencyKey)
		return o.failSession(ctx, session, fmt.Errorf("provider %s cannot finalize orders", session.Provider))
	}

	order := &models.Order{
		Provider:       string(session.Provider),
		Type:           session.Type,
		Email:          session.Email,
		TotalAmount:    session.AmountCents,
		Status:         models.OrderStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		_ = o.sessions.ReleaseIdempotencyKey(ctx, req.IdempotencyKey)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	session.OrderID = order.ID

	for _, item := range session.Items {
		orderItem := &models.OrderItem{
			OrderID:   order.ID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceCents,
		}
		if err := o.store.CreateOrderItem(ctx, orderItem); err != nil {
			o.logger.Error("Failed to persist order item", zap.Error(err))
		}
	}

	result, err := provider.Finalize(ctx, payments.FinalizeRequest{
		OrderRef:           fmt.Sprintf("%d", order.ID),
		AmountCents:        session.AmountCents,
		Items:              session.Items,
		Email:              session.Email,
		CheckoutToken:      req.CheckoutToken,
		AuthorizationToken: req.AuthorizationToken,
		OpaqueData:         req.OpaqueData,
	})
	if err != nil {
		// Transport or API failure. The key stays reserved until the TTL
		// lapses; the order is marked failed.
		_ = o.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFailed)
		util.FinalizationsTotal.WithLabelValues(string(session.Provider), "error").Inc()
		if _, failErr := o.failSession(ctx, session, err); failErr != nil {
			return nil, failErr
		}
		return session, ErrPaymentFailed
	}

	return o.settle(ctx, session, order, result)
}

// settle maps the provider result onto order, payment and session state.
func (o *Orchestrator) settle(ctx context.Context, session *Session, order *models.Order, result *payments.Result) (*Session, error) {
	now := time.Now()

	switch result.Status {
	case payments.StatusOk:
		if err := o.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid); err != nil {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		payment := &models.Payment{
			OrderID:      order.ID,
			Provider:     string(session.Provider),
			Status:       models.PaymentStatusCaptured,
			ProviderTxID: result.TransactionRef,
			Amount:       session.AmountCents,
		}
		if err := o.store.CreatePayment(ctx, payment); err != nil {
			o.logger.Error("Failed to persist payment", zap.Error(err))
		}
		util.FinalizationsTotal.WithLabelValues(string(session.Provider), "captured").Inc()

		event := &models.PaymentCapturedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentCaptured,
				Timestamp: now,
			},
			OrderID:      order.ID,
			Provider:     string(session.Provider),
			ProviderTxID: result.TransactionRef,
			Amount:       session.AmountCents,
		}
		if err := o.publisher.PublishPaymentCaptured(ctx, event); err != nil {
			o.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
		}

		session.State = StateSucceeded
		session.ProviderRef = result.TransactionRef

	case payments.StatusPending:
		if err := o.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPendingReview); err != nil {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		payment := &models.Payment{
			OrderID:      order.ID,
			Provider:     string(session.Provider),
			Status:       models.PaymentStatusAuthorized,
			ProviderTxID: result.TransactionRef,
			Amount:       session.AmountCents,
		}
		if err := o.store.CreatePayment(ctx, payment); err != nil {
			o.logger.Error("Failed to persist payment", zap.Error(err))
		}
		util.FinalizationsTotal.WithLabelValues(string(session.Provider), "pending").Inc()

		event := &models.OrderPendingReviewEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderPendingReview,
				Timestamp: now,
			},
			OrderID:         order.ID,
			ProviderOrderID: result.TransactionRef,
			Amount:          session.AmountCents,
		}
		if err := o.publisher.PublishOrderPendingReview(ctx, event); err != nil {
			o.logger.Error("Failed to publish OrderPendingReview event", zap.Error(err))
		}

		// Finalized provisionally; the push webhook resolves the review.
		session.State = StateSucceeded
		session.ProviderRef = result.TransactionRef

	case payments.StatusDeclined:
		if err := o.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDeclined); err != nil {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		util.FinalizationsTotal.WithLabelValues(string(session.Provider), "declined").Inc()

		event := &models.PaymentDeclinedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentDeclined,
				Timestamp: now,
			},
			OrderID:  order.ID,
			Provider: string(session.Provider),
			Reason:   result.Reason,
		}
		if err := o.publisher.PublishPaymentDeclined(ctx, event); err != nil {
			o.logger.Error("Failed to publish PaymentDeclined event", zap.Error(err))
		}

		session.State = StateFailed
		session.Error = "Payment was declined. Please use another method."

	default:
		return nil, fmt.Errorf("unknown finalize result status: %s", result.Status)
	}

	if err := o.sessions.SaveSession(ctx, session.ID, session, o.sessionTTL); err != nil {
		o.logger.Error("Failed to persist session state", zap.Error(err))
	}
	return session, nil
}

func (o *Orchestrator) failSession(ctx context.Context, session *Session, cause error) (*Session, error) {
	o.logger.Error("Checkout submission failed",
		zap.String("session_id", session.ID),
		zap.String("provider", string(session.Provider)),
		zap.Error(cause))

	session.State = StateFailed
	session.Error = ErrPaymentFailed.Error()
	if err := o.sessions.SaveSession(ctx, session.ID, session, o.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to persist session state: %w", err)
	}
	return session, nil
}

// GetSession loads a checkout session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return o.loadSession(ctx, sessionID)
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	found, err := o.sessions.GetSession(ctx, sessionID, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func sessionStateForOrder(orderStatus string) State {
	switch orderStatus {
	case models.OrderStatusPaid, models.OrderStatusPendingReview:
		return StateSucceeded
	default:
		return StateFailed
	}
}
