package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "Total number of webhook events accepted and persisted",
	}, []string{"event_type"})

	EventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_duplicate_total",
		Help: "Total number of duplicate webhook deliveries short-circuited",
	})

	WebhookAuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_auth_failures_total",
		Help: "Total number of webhook requests rejected for a bad token",
	})

	WebhookRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_rate_limited_total",
		Help: "Total number of webhook requests rejected by the rate limit",
	})

	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_processed_total",
		Help: "Total number of inbound events fully processed",
	}, []string{"event_type"})

	EventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_failed_total",
		Help: "Total number of event processing failures",
	}, []string{"event_type"})

	EventsIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_ignored_total",
		Help: "Total number of events acknowledged as no-ops",
	}, []string{"event_type"})

	EventsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_events_reclaimed_total",
		Help: "Total number of stalled events re-queued by the reclaim worker",
	})

	EventProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_event_processing_latency_seconds",
		Help:    "Latency of inbound event processing",
		Buckets: prometheus.DefBuckets,
	})

	CommissionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_created_total",
		Help: "Total number of commission rows created",
	})

	SplitAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "split_attempts_total",
		Help: "Total number of split requests sent to the provider",
	})

	SplitExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "split_executed_total",
		Help: "Total number of splits confirmed executed",
	})

	SplitFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "split_failed_total",
		Help: "Total number of splits terminally failed",
	})

	SplitRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "split_request_latency_seconds",
		Help:    "Latency of provider split requests",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_notifications_published_total",
		Help: "Total number of affiliate notifications published",
	})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_notification_failures_total",
		Help: "Total number of affiliate notification publish failures",
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
