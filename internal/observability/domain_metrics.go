package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wooai_questions_total",
			Help: "Total number of questions handled by the pipeline, by outcome.",
		},
		[]string{"outcome"},
	)
	stageLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wooai_pipeline_stage_duration_seconds",
			Help:    "Latency of individual pipeline stages.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	sandboxRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wooai_sandbox_rejections_total",
			Help: "Total number of generated queries rejected by the sandbox, by reason.",
		},
		[]string{"reason"},
	)
	rateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wooai_rate_limit_denials_total",
			Help: "Total number of questions denied by the rate limiter, by plan tier.",
		},
		[]string{"tier"},
	)
	translationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wooai_translation_attempts_total",
			Help: "Total number of language-model calls, by result.",
		},
		[]string{"result"},
	)
	executorTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wooai_executor_timeouts_total",
			Help: "Total number of sandboxed queries cancelled by the statement timeout.",
		},
	)
	schemaDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wooai_schema_context_degraded_total",
			Help: "Total number of schema contexts built without live statistics.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		stageLatencySeconds,
		sandboxRejectionsTotal,
		rateLimitDenialsTotal,
		translationAttemptsTotal,
		executorTimeoutsTotal,
		schemaDegradedTotal,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageLatencySeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementSandboxRejection(reason string) {
	sandboxRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncrementRateLimitDenial(tier string) {
	rateLimitDenialsTotal.WithLabelValues(tier).Inc()
}

func IncrementTranslationAttempt(result string) {
	translationAttemptsTotal.WithLabelValues(result).Inc()
}

func IncrementExecutorTimeout() {
	executorTimeoutsTotal.Inc()
}

func IncrementSchemaDegraded() {
	schemaDegradedTotal.Inc()
}
