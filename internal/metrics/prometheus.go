package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrouter_classifications_total",
			Help: "Total classifications by resulting category and arbitration branch",
		},
		[]string{"category", "branch"},
	)

	ClassificationConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrouter_classification_confidence",
			Help:    "Confidence of returned classifications",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"classifier"},
	)

	ClassificationAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docrouter_classification_accuracy",
			Help: "Accuracy of the last evaluation run per classifier",
		},
		[]string{"classifier"},
	)

	RoutingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrouter_routing_total",
			Help: "Routed categories by routing mode",
		},
		[]string{"category", "mode"},
	)

	RoutingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrouter_routing_duration_seconds",
			Help:    "Routing decision latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrouter_external_call_duration_seconds",
			Help:    "Latency of LLM and embedding calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"call", "status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrouter_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrouter_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RerankSelected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docrouter_rerank_selected_count",
			Help:    "Number of passages kept by MMR per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	RerankCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docrouter_rerank_candidates_count",
			Help:    "Number of candidates offered to MMR per query",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrouter_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrouter_documents_ingested_total",
			Help: "Total documents ingested by category",
		},
		[]string{"category"},
	)

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docrouter_sessions_created_total",
			Help: "Sessions created since process start",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ClassificationsTotal,
			ClassificationConfidence,
			ClassificationAccuracy,
			RoutingTotal,
			RoutingDuration,
			ExternalCallDuration,
			CacheHits,
			CacheMisses,
			RerankSelected,
			RerankCandidates,
			QueryDuration,
			DocumentsIngested,
			SessionsCreated,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
