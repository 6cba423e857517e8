package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolve metrics
	ResolvesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_resolves_started_total",
			Help: "Total number of resolve calls started",
		},
		[]string{"domain"},
	)

	ResolvesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_resolves_completed_total",
			Help: "Total number of resolve calls completed",
		},
		[]string{"domain", "outcome"},
	)

	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_resolve_duration_seconds",
			Help:    "End-to-end resolve duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// Answer cache metrics
	AnswerCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_answer_cache_hits_total",
			Help: "Total number of final-answer cache hits",
		},
	)

	AnswerCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_answer_cache_misses_total",
			Help: "Total number of final-answer cache misses",
		},
	)

	AnswerCacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_answer_cache_writes_total",
			Help: "Total number of final-answer cache writes",
		},
		[]string{"status"},
	)

	QueryMapHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_query_map_hits_total",
			Help: "Total number of cache hits served through the semantic query map",
		},
	)

	CacheDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recap_cache_degraded",
			Help: "Whether a cache tier is serving from the in-process fallback (1) or its backing store (0)",
		},
		[]string{"tier"},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_vector_upserts_total",
			Help: "Total number of vector upsert batches",
		},
		[]string{"collection", "status"},
	)

	FactsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_facts_added_total",
			Help: "Total number of fact records appended to the fact tier",
		},
	)

	FactsExpiredDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_facts_expired_deleted_total",
			Help: "Total number of expired fact records deleted by cleanup",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits by layer",
		},
		[]string{"layer"},
	)

	// Search provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_provider_requests_total",
			Help: "Total number of web search provider requests",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_provider_latency_seconds",
			Help:    "Web search provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SearchChainExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_search_chain_exhausted_total",
			Help: "Total number of searches where every provider failed",
		},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_llm_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"purpose", "status"},
	)

	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_llm_call_latency_seconds",
			Help:    "Language model call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"purpose"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_llm_retries_total",
			Help: "Total number of language model call retries",
		},
		[]string{"purpose"},
	)

	LLMTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recap_llm_tokens_used",
			Help:    "Number of tokens used per language model call",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// Research metrics
	ResearchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_research_runs_total",
			Help: "Total number of research orchestrations by terminal state",
		},
		[]string{"status"},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recap_research_duration_seconds",
			Help:    "Research orchestration duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	ResearchUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_research_units_total",
			Help: "Total number of research units executed",
		},
		[]string{"status"},
	)

	ResearchActiveUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recap_research_active_units",
			Help: "Number of research units currently executing",
		},
	)

	NormalizationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_normalization_fallbacks_total",
			Help: "Total number of queries that fell back to heuristic normalization",
		},
	)

	Reports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_reports_total",
			Help: "Total number of reports generated by decision label",
		},
		[]string{"label"},
	)
)

// RecordResolve records metrics for a completed resolve call
func RecordResolve(domain, outcome string, durationSeconds float64) {
	ResolvesCompleted.WithLabelValues(domain, outcome).Inc()
	ResolveDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordVectorSearch records metrics for a vector search
func RecordVectorSearch(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
}

// RecordEmbedding records metrics for an embedding request
func RecordEmbedding(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
}

// RecordProviderRequest records metrics for one provider attempt
func RecordProviderRequest(provider, status string, durationSeconds float64) {
	ProviderRequests.WithLabelValues(provider, status).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordLLMCall records metrics for a language model call
func RecordLLMCall(purpose, status string, durationSeconds float64, tokensUsed int) {
	LLMCalls.WithLabelValues(purpose, status).Inc()
	LLMCallLatency.WithLabelValues(purpose).Observe(durationSeconds)
	if tokensUsed > 0 {
		LLMTokensUsed.Observe(float64(tokensUsed))
	}
}

// RecordResearchRun records metrics for a finished research orchestration
func RecordResearchRun(status string, durationSeconds float64) {
	ResearchRuns.WithLabelValues(status).Inc()
	ResearchDuration.Observe(durationSeconds)
}
