package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Pricing metrics
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_quotes_total",
			Help: "Total number of price quotes by outcome",
		},
		[]string{"outcome"},
	)

	QuoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricing_quote_duration_seconds",
			Help:    "Price quote duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SlotsPriced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_slots_priced_total",
			Help: "Hour slots priced, by the source of the price",
		},
		[]string{"source"},
	)

	ClampedPrices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricing_clamped_prices_total",
			Help: "Slot prices clamped to zero because they were negative or not finite",
		},
	)

	// Demand metrics
	DemandEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demand_booking_events_total",
			Help: "Booking lifecycle events processed by the demand aggregator",
		},
		[]string{"action", "outcome"},
	)

	ObservationsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demand_observations_emitted_total",
			Help: "Demand observations emitted",
		},
	)

	ObservationsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demand_observations_throttled_total",
			Help: "Demand observations suppressed by the throttle",
		},
	)

	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "demand_dispatcher_queue_depth",
			Help: "Booking events queued in the demand dispatcher",
		},
	)

	// Surge metrics
	SurgeMaterializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surge_materializations_total",
			Help: "Surge materialization attempts by outcome",
		},
		[]string{"mode", "outcome"},
	)

	SurgeFactor = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "surge_factor",
			Help:    "Distribution of applied surge factors",
			Buckets: []float64{0.5, 0.75, 0.9, 1.0, 1.1, 1.25, 1.5, 2.0, 3.0},
		},
	)

	// Approval metrics
	ApprovalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_transitions_total",
			Help: "Rule approval transitions",
		},
		[]string{"action", "outcome"},
	)

	// Kafka metrics
	KafkaMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_total",
			Help: "Kafka messages consumed or produced",
		},
		[]string{"topic", "direction", "status"},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	DatabaseConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Redis metrics
	RedisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Resilience metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	RateLimitedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_requests_total",
			Help: "Requests rejected by the API rate limiter",
		},
		[]string{"endpoint"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordQuote records a finished quote
func RecordQuote(outcome string, duration time.Duration) {
	QuotesTotal.WithLabelValues(outcome).Inc()
	QuoteDuration.Observe(duration.Seconds())
}

// RecordSlot records the price source of one slot
func RecordSlot(source string, clamped bool) {
	SlotsPriced.WithLabelValues(source).Inc()
	if clamped {
		ClampedPrices.Inc()
	}
}

// RecordDemandEvent records a processed booking event
func RecordDemandEvent(action, outcome string) {
	DemandEvents.WithLabelValues(action, outcome).Inc()
}

// RecordObservation records an emitted or throttled observation
func RecordObservation(emitted bool) {
	if emitted {
		ObservationsEmitted.Inc()
		return
	}
	ObservationsThrottled.Inc()
}

// RecordMaterialization records a surge materialization attempt
func RecordMaterialization(mode, outcome string, factor float64) {
	SurgeMaterializations.WithLabelValues(mode, outcome).Inc()
	if outcome == "success" {
		SurgeFactor.Observe(factor)
	}
}

// RecordApprovalTransition records an approval state change attempt
func RecordApprovalTransition(action, outcome string) {
	ApprovalTransitions.WithLabelValues(action, outcome).Inc()
}

// RecordKafkaMessage records a consumed or produced message
func RecordKafkaMessage(topic, direction, status string) {
	KafkaMessages.WithLabelValues(topic, direction, status).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation, status string, duration time.Duration) {
	RedisOperationsTotal.WithLabelValues(operation, status).Inc()
	RedisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordCircuitState records the current state of a circuit breaker
func RecordCircuitState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimited records a request rejected by the rate limiter
func RecordRateLimited(endpoint string) {
	RateLimitedRequests.WithLabelValues(endpoint).Inc()
}
