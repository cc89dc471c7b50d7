package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordRequest("success", 0.2)
	m.RecordAppendRetry()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"nexuscore_requests_total", "nexuscore_event_append_retries_total"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestRecordRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordRequest("success", 0.1)
	m.RecordRequest("success", 0.3)
	m.RecordRequest("invalid", 0.001)

	expected := `
		# HELP nexuscore_requests_total Total number of requests processed by status
		# TYPE nexuscore_requests_total counter
		nexuscore_requests_total{status="invalid"} 1
		nexuscore_requests_total{status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.RequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.RequestDuration); count != 2 {
		t.Errorf("Expected 2 duration series, got %d", count)
	}
}

func TestRecordToolExecutionAndChain(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordToolExecution("echo", "success", 0.01)
	m.RecordToolExecution("echo", "error", 0.02)
	m.RecordToolChain("partially_failed")

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("echo", "error")); got != 1 {
		t.Errorf("error executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolChainCounter.WithLabelValues("partially_failed")); got != 1 {
		t.Errorf("partially_failed chains = %v, want 1", got)
	}
}

func TestRecordEventsAndEnhancers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordEventAppended("request.received")
	m.RecordEventAppended("request.received")
	m.RecordEnhancerFailure("context", "broken")
	m.RecordSourceFetch("history", "success", 0.004)
	m.ObserveContextTokens(512)

	if got := testutil.ToFloat64(m.EventsAppended.WithLabelValues("request.received")); got != 2 {
		t.Errorf("appended = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EnhancerFailures.WithLabelValues("context", "broken")); got != 1 {
		t.Errorf("enhancer failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SourceFetchCounter.WithLabelValues("history", "success")); got != 1 {
		t.Errorf("source fetches = %v, want 1", got)
	}
}

func TestRecordLLMRequestSkipsZeroTokens(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordLLMRequest("gpt-4o", "success", 1.2, 100, 0)

	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 1 {
		t.Errorf("Expected 1 token series, got %d", count)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("gpt-4o", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("success", 1)
	m.RecordSourceFetch("history", "success", 1)
	m.ObserveContextTokens(1)
	m.RecordEnhancerFailure("context", "x")
	m.RecordToolExecution("echo", "success", 1)
	m.RecordToolChain("completed")
	m.RecordEventAppended("x")
	m.RecordAppendRetry()
	m.RecordLLMRequest("m", "success", 1, 1, 1)
}
