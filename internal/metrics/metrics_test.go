package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordRouterFallback(t *testing.T) {
	before := counterValue(t, RouterFallbackTotal.WithLabelValues("fast", "smart"))
	RecordRouterFallback("fast", "smart")
	after := counterValue(t, RouterFallbackTotal.WithLabelValues("fast", "smart"))
	if after != before+1 {
		t.Fatalf("fallback counter = %v, want %v", after, before+1)
	}
}

func TestRecordUsageIncrementsBothCounters(t *testing.T) {
	beforeIn := counterValue(t, InputTokensTotal.WithLabelValues("smart"))
	beforeOut := counterValue(t, OutputTokensTotal.WithLabelValues("smart"))

	RecordUsage("smart", 12, 4)

	if got := counterValue(t, InputTokensTotal.WithLabelValues("smart")); got != beforeIn+12 {
		t.Fatalf("input tokens = %v, want %v", got, beforeIn+12)
	}
	if got := counterValue(t, OutputTokensTotal.WithLabelValues("smart")); got != beforeOut+4 {
		t.Fatalf("output tokens = %v, want %v", got, beforeOut+4)
	}
}

func TestRecordGuardrailEvaluation(t *testing.T) {
	before := counterValue(t, GuardrailEvaluationsTotal.WithLabelValues("pii-guard", "pass"))
	RecordGuardrailEvaluation("pii-guard", "pass")
	after := counterValue(t, GuardrailEvaluationsTotal.WithLabelValues("pii-guard", "pass"))
	if after != before+1 {
		t.Fatalf("guardrail evaluation counter = %v, want %v", after, before+1)
	}
}

func TestRecordGuardrailEvaluationError(t *testing.T) {
	before := counterValue(t, GuardrailEvaluationErrorsTotal.WithLabelValues("pii-guard"))
	RecordGuardrailEvaluationError("pii-guard")
	after := counterValue(t, GuardrailEvaluationErrorsTotal.WithLabelValues("pii-guard"))
	if after != before+1 {
		t.Fatalf("guardrail evaluation error counter = %v, want %v", after, before+1)
	}
}
