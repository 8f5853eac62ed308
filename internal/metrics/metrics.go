// Package metrics exposes the gateway's Prometheus series, grounded on the
// teacher's internal/handlers/metrics.go promauto vectors, generalized from
// per-client labels (this gateway has no client/auth concept, see
// DESIGN.md's dropped-modules section) to pipeline/model/guard labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests handled, by pipeline and outcome status",
		},
		[]string{"pipeline", "status"},
	)

	RequestsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_requests_in_progress",
			Help: "Requests currently being processed, by pipeline",
		},
		[]string{"pipeline"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds, by pipeline and model",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "model"},
	)

	InputTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_input_tokens_total",
			Help: "Total prompt tokens billed upstream, by model",
		},
		[]string{"model"},
	)

	OutputTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_output_tokens_total",
			Help: "Total completion tokens billed upstream, by model",
		},
		[]string{"model"},
	)

	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Upstream adapter call failures, by model and error kind",
		},
		[]string{"model", "kind"},
	)

	// RouterFallbackTotal counts every time the Model Router moved from one
	// candidate model to the next within a single request, spec.md §4.2.
	RouterFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_router_fallback_total",
			Help: "Model Router candidate fallbacks, by the model being left and the model being tried next",
		},
		[]string{"from", "to"},
	)

	GuardrailEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_guardrail_evaluations_total",
			Help: "Guardrail evaluator calls, by guard name and verdict",
		},
		[]string{"guard", "verdict"},
	)

	GuardrailEvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_guardrail_evaluation_errors_total",
			Help: "Guardrail evaluator calls that failed open due to a transport or upstream error, by guard name",
		},
		[]string{"guard"},
	)

	ConfigSnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_config_snapshots_total",
			Help: "Configuration snapshots published, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRouterFallback increments RouterFallbackTotal, mirroring the
// teacher's package-level RecordRequest/RecordUpstreamError helper style
// (internal/handlers/metrics.go) rather than exposing raw vectors to callers.
func RecordRouterFallback(from, to string) {
	RouterFallbackTotal.WithLabelValues(from, to).Inc()
}

func RecordUpstreamError(model, kind string) {
	UpstreamErrorsTotal.WithLabelValues(model, kind).Inc()
}

func RecordRequest(pipeline, status string) {
	RequestsTotal.WithLabelValues(pipeline, status).Inc()
}

func RecordUsage(model string, promptTokens, completionTokens int) {
	InputTokensTotal.WithLabelValues(model).Add(float64(promptTokens))
	OutputTokensTotal.WithLabelValues(model).Add(float64(completionTokens))
}

func ObserveRequestDuration(pipeline, model string, d time.Duration) {
	RequestDuration.WithLabelValues(pipeline, model).Observe(d.Seconds())
}

func RecordGuardrailEvaluation(guard, verdict string) {
	GuardrailEvaluationsTotal.WithLabelValues(guard, verdict).Inc()
}

func RecordGuardrailEvaluationError(guard string) {
	GuardrailEvaluationErrorsTotal.WithLabelValues(guard).Inc()
}

func RecordConfigSnapshot(outcome string) {
	ConfigSnapshotsTotal.WithLabelValues(outcome).Inc()
}
