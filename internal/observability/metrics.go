package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatguard_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// Verdicts counts check results by verdict.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_verdicts_total",
		Help: "Total number of moderation verdicts by kind",
	}, []string{"verdict"})

	// Violations counts recorded violations by kind and detector.
	Violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_violations_total",
		Help: "Total number of recorded violations",
	}, []string{"kind", "detector"})

	// Actions counts applied enforcement actions by tag.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_actions_total",
		Help: "Total number of applied enforcement actions",
	}, []string{"action"})

	// EnforcedUsers is the number of users currently muted or banned.
	EnforcedUsers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatguard_enforced_users",
		Help: "Users currently under enforcement by state",
	}, []string{"state"})

	// DecisionLatency records end-to-end check latency.
	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatguard_decision_latency_seconds",
		Help:    "Moderation check latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DecisionFailures counts checks that returned decision-unavailable.
	DecisionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatguard_decision_failures_total",
		Help: "Total number of checks that could not be made durable",
	})

	// ClassifierLatency records external classifier call latency.
	ClassifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatguard_classifier_latency_seconds",
		Help:    "External classifier call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 1.5, 2.5, 5},
	})

	// ClassifierFallbacks counts classifier calls that fell back to local detectors.
	ClassifierFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_classifier_fallbacks_total",
		Help: "Classifier failures that fell back to local detectors",
	}, []string{"reason"})

	// FeedConnections is the number of open action-feed websockets.
	FeedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatguard_feed_connections",
		Help: "Open action feed websocket connections",
	})

	// FeedDrops counts action events not delivered to a feed client by reason.
	FeedDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatguard_feed_drops_total",
		Help: "Action feed events dropped due to backpressure",
	}, []string{"reason"})

	// ClassifierCacheHits counts classifier answers served from cache.
	ClassifierCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatguard_classifier_cache_hits_total",
		Help: "Classifier verdicts served from the local cache",
	})
)

// DatabaseMetrics records query latency for a named store.
type DatabaseMetrics struct{}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics() *DatabaseMetrics {
	return &DatabaseMetrics{}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}
