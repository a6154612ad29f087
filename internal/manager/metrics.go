package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "model_loads_total",
			Help:      "Model loads from disk by result",
		},
		[]string{"result"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "cache_hits_total",
			Help:      "Acquisitions served by an already loaded model",
		},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Models evicted from the registry by reason",
		},
		[]string{"reason"},
	)

	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "loaded_models",
			Help:      "Models currently loaded",
		},
	)

	queueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a model session",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	tokensGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "tokens_generated_total",
			Help:      "Tokens produced by the engine",
		},
	)

	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "inference_duration_seconds",
			Help:      "Duration of the token generation loop",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "manager",
			Name:      "requests_total",
			Help:      "Dispatched requests by outcome kind",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		modelLoadsTotal,
		cacheHitsTotal,
		evictionsTotal,
		loadedModels,
		queueWaitSeconds,
		tokensGeneratedTotal,
		inferenceDuration,
		requestsTotal,
	)
}
