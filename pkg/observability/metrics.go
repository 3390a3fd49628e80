package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chunk Controller metrics (spec §4.E).
	chunksGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_chunks_generated_total",
			Help: "Total number of chunks committed by the Chunk Controller",
		},
		[]string{"mode"},
	)

	chunkGenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipgre_chunk_generation_duration_seconds",
			Help:    "Wall-clock duration of one chunk's generate-through-commit cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Micro-Fix Loop metrics (spec §4.F).
	microFixIterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_microfix_iterations_total",
			Help: "Total number of Micro-Fix Loop iterations run",
		},
		[]string{"outcome"}, // accepted, rejected_drift, rejected_regression, rejected_hard_defect
	)

	// Scorer metrics (spec §4.D).
	scorerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_scorer_calls_total",
			Help: "Total number of Scorer/Micro-Fixer model calls",
		},
		[]string{"provider", "status"},
	)

	scorerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipgre_scorer_call_duration_seconds",
			Help:    "Scorer/Micro-Fixer model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Error Pattern Store metrics (spec §4.C).
	errorPatternsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_error_patterns_recorded_total",
			Help: "Total number of defect patterns recorded to the Error Pattern Store",
		},
		[]string{"category"},
	)

	// Multi-Agent Orchestrator metrics (spec §4.G).
	orchestratorAgentCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_orchestrator_agent_calls_total",
			Help: "Total number of per-agent calls launched by the Multi-Agent Orchestrator",
		},
		[]string{"profile", "status"},
	)

	// Rewrite Action metrics (spec §4.H).
	rewritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgre_rewrites_total",
			Help: "Total number of Rewrite Action passes",
		},
		[]string{"mode", "outcome"}, // outcome: accepted, reverted, converged
	)

	// System metrics.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipgre_active_sessions",
			Help: "Number of active generation sessions",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipgre_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			chunksGeneratedTotal,
			chunkGenerationDuration,
			microFixIterationsTotal,
			scorerCallsTotal,
			scorerCallDuration,
			errorPatternsRecordedTotal,
			orchestratorAgentCallsTotal,
			rewritesTotal,
			activeSessions,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordChunkGenerated records one committed chunk.
func RecordChunkGenerated(mode string, duration time.Duration) {
	chunksGeneratedTotal.WithLabelValues(mode).Inc()
	chunkGenerationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordMicroFixIteration records one Micro-Fix Loop iteration's outcome.
func RecordMicroFixIteration(outcome string) {
	microFixIterationsTotal.WithLabelValues(outcome).Inc()
}

// RecordScorerCall records one Scorer/Micro-Fixer model call.
func RecordScorerCall(provider, status string, duration time.Duration) {
	scorerCallsTotal.WithLabelValues(provider, status).Inc()
	scorerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordErrorPattern records one defect pattern written to the Error
// Pattern Store.
func RecordErrorPattern(category string) {
	errorPatternsRecordedTotal.WithLabelValues(category).Inc()
}

// RecordOrchestratorAgentCall records one Multi-Agent Orchestrator agent
// call.
func RecordOrchestratorAgentCall(profile, status string) {
	orchestratorAgentCallsTotal.WithLabelValues(profile, status).Inc()
}

// RecordRewrite records one Rewrite Action pass.
func RecordRewrite(mode, outcome string) {
	rewritesTotal.WithLabelValues(mode, outcome).Inc()
}

// SetActiveSessions sets the active-sessions gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// SetGoroutines sets the goroutines gauge.
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}
