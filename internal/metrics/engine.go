package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine Prometheus metrics.
var (
	RequestCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbrowse",
			Name:      "request_cache_total",
			Help:      "Request cache hits and misses by tag",
		},
		[]string{"tag", "result"}, // result: "hit" / "miss"
	)

	RequestCacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbrowse",
			Name:      "request_cache_invalidations_total",
			Help:      "Tag invalidations of the request cache",
		},
		[]string{"tag"},
	)

	SupersededResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbrowse",
			Name:      "superseded_responses_total",
			Help:      "Responses discarded because their request was superseded",
		},
		[]string{"kind"}, // "search" / "instance"
	)

	AuthTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgbrowse",
			Name:      "auth_transitions_total",
			Help:      "Auth state machine transitions by target state",
		},
		[]string{"state"},
	)

	KGRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgbrowse",
			Name:      "kg_request_duration_seconds",
			Help:      "KG API request duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kgbrowse",
			Name:      "sessions_active",
			Help:      "Browser sessions currently held in memory",
		},
	)
)

var engineMetricsRegistered bool

// RegisterEngineMetrics registers the engine metrics. Must be called once from main.
func RegisterEngineMetrics() {
	if engineMetricsRegistered {
		return
	}
	prometheus.MustRegister(RequestCacheTotal)
	prometheus.MustRegister(RequestCacheInvalidationsTotal)
	prometheus.MustRegister(SupersededResponsesTotal)
	prometheus.MustRegister(AuthTransitionsTotal)
	prometheus.MustRegister(KGRequestDuration)
	prometheus.MustRegister(SessionsActive)
	engineMetricsRegistered = true
}
