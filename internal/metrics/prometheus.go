package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matcher_match_duration_seconds",
			Help:    "Match query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	MatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_match_total",
			Help: "Total number of match queries processed",
		},
		[]string{"status"},
	)

	CandidatePoolSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matcher_candidate_pool_size",
			Help:    "Number of candidates retrieved per query",
			Buckets: []float64{0, 5, 20, 100, 500, 1000, 5000},
		},
	)

	EmbeddingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_embedding_calls_total",
			Help: "Total embedding provider calls",
		},
		[]string{"kind"},
	)

	EmbeddingCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matcher_embedding_cost_usd",
			Help: "Estimated embedding API cost in USD",
		},
	)

	BatchItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_batch_items_total",
			Help: "Embedding batch items by outcome",
		},
		[]string{"outcome"},
	)

	BatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_batch_runs_total",
			Help: "Embedding batch runs by final status",
		},
		[]string{"status"},
	)

	ModelAUC = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matcher_model_auc",
			Help: "AUC of the most recently trained model",
		},
	)

	ModelPromotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_model_promotions_total",
			Help: "Model promotion decisions",
		},
		[]string{"decision"},
	)

	AMSOverallGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matcher_ams_avg_challenge_score",
			Help: "Average Match Score across challenges for the last aggregated day",
		},
	)
)

func Init() {
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(MatchTotal)
	prometheus.MustRegister(CandidatePoolSize)
	prometheus.MustRegister(EmbeddingCalls)
	prometheus.MustRegister(EmbeddingCost)
	prometheus.MustRegister(BatchItems)
	prometheus.MustRegister(BatchRuns)
	prometheus.MustRegister(ModelAUC)
	prometheus.MustRegister(ModelPromotions)
	prometheus.MustRegister(AMSOverallGauge)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
