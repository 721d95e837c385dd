package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	CrawlPagesTotal     *prometheus.CounterVec
	CrawlDuration       *prometheus.HistogramVec
	FrontierSize        *prometheus.GaugeVec
	EmbeddingRequests   *prometheus.CounterVec
	EmbeddingCache      *prometheus.CounterVec
	SearchRequests      *prometheus.CounterVec
	AnswersTotal        *prometheus.CounterVec
	CacheOperations     *prometheus.CounterVec
)

var once sync.Once

func init() {
	Init()
}

// Init registers all collectors. It is safe to call more than once.
func Init() {
	once.Do(register)
}

func register() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	CrawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Pages processed by crawl jobs.",
		},
		[]string{"status"}, // crawled, failed, new, updated, unchanged, skipped
	)

	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_duration_seconds",
			Help:    "Duration of single page fetches.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FrontierSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawl_frontier_size",
			Help: "URLs waiting in the frontier of running jobs.",
		},
		[]string{"job_id"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Batches sent to the embedding provider.",
		},
		[]string{"result"},
	)

	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_total",
			Help: "Embedding cache lookups.",
		},
		[]string{"result"}, // hit, miss
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Retrieval calls by mode and the strategy that produced the results.",
		},
		[]string{"mode", "source"},
	)

	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_total",
			Help: "Answers produced, by confidence.",
		},
		[]string{"confidence"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Key-value cache operations.",
		},
		[]string{"op", "result"},
	)
}
