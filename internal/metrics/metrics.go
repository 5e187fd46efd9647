// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

// Package metrics declares the Prometheus collectors for Killfeed. All
// collectors register on the default registry through promauto and are
// served by promhttp at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed connection metrics
	FeedConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killfeed_feed_connected",
			Help: "Whether the feed socket is connected and joined (1) or not (0)",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_feed_reconnects_total",
			Help: "Total number of feed reconnect attempts",
		},
	)

	FeedJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_feed_joins_total",
			Help: "Total number of topic join attempts by result",
		},
		[]string{"result"}, // "ok", "error", "timeout"
	)

	FeedMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_feed_messages_received_total",
			Help: "Total number of inbound feed messages by event",
		},
		[]string{"event"},
	)

	FeedPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_feed_pushes_total",
			Help: "Total number of outbound pushes by event and result",
		},
		[]string{"event", "result"}, // result: "ok", "error", "timeout", "not_connected"
	)

	FeedRejoinCallbackErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_feed_rejoin_callback_errors_total",
			Help: "Total number of failed subscription replays after a rejoin",
		},
	)

	// Ingestion metrics
	KillmailsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_killmails_received_total",
			Help: "Total number of killmail records received by delivery origin",
		},
		[]string{"origin"}, // "live", "preload"
	)

	KillmailsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_killmails_malformed_total",
			Help: "Total number of killmail records skipped because they could not be mapped",
		},
	)

	KillmailsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_killmails_filtered_total",
			Help: "Total number of killmail records dropped by the relevance filter",
		},
	)

	KillmailsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_killmails_ingested_total",
			Help: "Total number of killmail records persisted by delivery origin",
		},
		[]string{"origin"},
	)

	KillmailIngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_killmail_ingest_errors_total",
			Help: "Total number of killmail records that failed to persist",
		},
		[]string{"reason"}, // "storage", "circuit_open", "abandoned"
	)

	KillmailIngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "killfeed_killmail_ingest_duration_seconds",
			Help:    "Duration of a single killmail upsert",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killfeed_batch_queue_depth",
			Help: "Number of feed batches waiting for the ingest worker",
		},
	)

	BatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_batches_dropped_total",
			Help: "Total number of feed batches dropped because the service was stopping",
		},
	)

	// Subscription metrics
	SubscribedCharacters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killfeed_subscribed_characters",
			Help: "Number of character ids in the subscription set",
		},
	)

	SubscribedLocations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "killfeed_subscribed_locations",
			Help: "Number of location ids in the subscription set",
		},
	)

	SubscriptionReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killfeed_subscription_replays_total",
			Help: "Total number of full subscription replays sent to the feed",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killfeed_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "killfeed_api_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// origin maps the preload flag to a label value.
func origin(preload bool) string {
	if preload {
		return "preload"
	}
	return "live"
}

// SetFeedConnected updates the connection gauge.
func SetFeedConnected(connected bool) {
	if connected {
		FeedConnected.Set(1)
		return
	}
	FeedConnected.Set(0)
}

// RecordPush records the outcome of an outbound push.
func RecordPush(event, result string) {
	FeedPushes.WithLabelValues(event, result).Inc()
}

// RecordBatchReceived counts the records of one inbound batch.
func RecordBatchReceived(preload bool, records int) {
	KillmailsReceived.WithLabelValues(origin(preload)).Add(float64(records))
}

// RecordKillmailIngested records a successful upsert.
func RecordKillmailIngested(preload bool, duration time.Duration) {
	KillmailsIngested.WithLabelValues(origin(preload)).Inc()
	KillmailIngestDuration.Observe(duration.Seconds())
}

// RecordIngestError records a failed upsert.
func RecordIngestError(reason string) {
	KillmailIngestErrors.WithLabelValues(reason).Inc()
}

// RecordAbandoned records killmails left unprocessed by a shutdown.
func RecordAbandoned(n int) {
	KillmailIngestErrors.WithLabelValues("abandoned").Add(float64(n))
}

// SetSubscriptionCounts updates both subscription gauges.
func SetSubscriptionCounts(characters, locations int) {
	SubscribedCharacters.Set(float64(characters))
	SubscribedLocations.Set(float64(locations))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
