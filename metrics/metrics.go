package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	retrieverLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_retriever_latency_ms",
		Help:    "Latency of retrieval branch calls in milliseconds",
		Buckets: []float64{10, 25, 50, 75, 100, 150, 200, 300, 500, 800, 1200, 2000},
	}, []string{"branch", "outcome"})

	retrieverResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_retriever_results",
		Help:    "Number of results returned by a retrieval branch",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"branch"})

	fusionLists = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_fusion_input_lists",
		Help:    "Number of lists fused per query",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 12},
	})

	rerankOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_rerank_total",
		Help: "Rerank outcomes (applied/fallback/error)",
	}, []string{"outcome"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_cache_lookups_total",
		Help: "Semantic and retrieval cache lookups",
	}, []string{"cache", "result"})

	generationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_generation_attempts_total",
		Help: "Model call attempts by model and outcome",
	}, []string{"model", "outcome"})

	generationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_generation_latency_ms",
		Help:    "Latency of model calls in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
	}, []string{"model"})

	breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_circuit_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"model", "to"})

	qualityVerdict = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_quality_verdict_total",
		Help: "Quality gate verdict count",
	}, []string{"verdict"})

	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_requests_total",
		Help: "Processed requests by workflow and final state",
	}, []string{"workflow", "outcome"})

	replans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rag_replans_total",
		Help: "Replanning loops entered",
	})

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_tool_calls_total",
		Help: "Tool enrichment calls by source and outcome",
	}, []string{"source", "outcome"})
)

// Register adds all collectors to the default Prometheus registry. It is
// safe to call more than once.
func Register() { ensureRegistered() }

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// ObserveRetriever records latency and result size for a retrieval branch.
func ObserveRetriever(branch string, start time.Time, results int, err error) {
	ensureRegistered()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	retrieverLatency.WithLabelValues(branch, outcome).Observe(float64(time.Since(start).Milliseconds()))
	retrieverResults.WithLabelValues(branch).Observe(float64(results))
}

// ObserveFusion records how many lists were fused.
func ObserveFusion(n int) {
	ensureRegistered()
	fusionLists.Observe(float64(n))
}

func IncRerank(outcome string) {
	ensureRegistered()
	rerankOutcome.WithLabelValues(outcome).Inc()
}

// IncCache records a lookup; result is hit, miss or error.
func IncCache(cache, result string) {
	ensureRegistered()
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveGeneration records one model call attempt.
func ObserveGeneration(model string, start time.Time, err error) {
	ensureRegistered()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	generationAttempts.WithLabelValues(model, outcome).Inc()
	generationLatency.WithLabelValues(model).Observe(float64(time.Since(start).Milliseconds()))
}

// IncGenerationSkipped records a provider skipped because its circuit is open.
func IncGenerationSkipped(model string) {
	ensureRegistered()
	generationAttempts.WithLabelValues(model, "circuit_open").Inc()
}

func IncBreakerTransition(model, to string) {
	ensureRegistered()
	breakerTransitions.WithLabelValues(model, to).Inc()
}

func IncQualityVerdict(v string) {
	ensureRegistered()
	qualityVerdict.WithLabelValues(v).Inc()
}

func IncRequest(workflow, outcome string) {
	ensureRegistered()
	requests.WithLabelValues(workflow, outcome).Inc()
}

func IncReplan() {
	ensureRegistered()
	replans.Inc()
}

func IncToolCall(source, outcome string) {
	ensureRegistered()
	toolCalls.WithLabelValues(source, outcome).Inc()
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		retrieverLatency, retrieverResults, fusionLists, rerankOutcome, cacheLookups,
		generationAttempts, generationLatency, breakerTransitions, qualityVerdict,
		requests, replans, toolCalls,
	}
}
