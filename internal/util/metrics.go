package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions created",
	}, []string{"provider"})

	CheckoutFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_provider_fallbacks_total",
		Help: "Total number of falls back to the default provider after a bootstrap failure",
	}, []string{"from"})

	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_finalizations_total",
		Help: "Total number of checkout finalizations by outcome",
	}, []string{"provider", "outcome"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refunds by outcome",
	}, []string{"provider", "outcome"})

	SubscriptionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_created_total",
		Help: "Total number of recurring billing subscriptions created",
	})

	SubscriptionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_cancelled_total",
		Help: "Total number of recurring billing subscriptions cancelled",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook events received",
	}, []string{"provider", "result"})

	WebhookSignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Total number of webhook payloads rejected for a bad signature",
	}, []string{"provider"})

	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_latency_seconds",
		Help:    "Latency of outbound payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	ProviderCallRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_call_retries_total",
		Help: "Total number of retried outbound provider calls",
	}, []string{"provider"})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Total number of finalize requests answered from a prior order",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
