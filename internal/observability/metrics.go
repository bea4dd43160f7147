package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IdentityOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "operations_total",
		Help:      "Identity operations by outcome",
	}, []string{"operation", "outcome"})

	SimilarityScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "nearest_similarity",
		Help:      "Cosine similarity of the nearest enrolled face",
		Buckets:   prometheus.LinearBuckets(0, 0.05, 21),
	}, []string{"operation"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "inference_duration_seconds",
		Help:      "Duration of embedding extraction stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "store_duration_seconds",
		Help:      "Duration of identity store calls",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"backend", "op"})

	StoredIdentities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "stored_identities",
		Help:      "Number of enrolled identities held by the store",
	}, []string{"backend"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "side_effect_failures_total",
		Help:      "Failed snapshot writes and event publishes",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
