package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObservePipeline("log", "meal", "completed", "", 1200*time.Millisecond)
	m.ObservePipeline("log", "meal", "completed", "", 300*time.Millisecond)
	m.ObserveProviderAttempt("embed", "openai", true, 0.002)
	m.ObserveProviderAttempt("embed", "openai", false, 0)
	m.IncEstimateTier("meal", "high")
	m.PipelineStarted()

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`quickentry_pipeline_total{mode="log",subtype="meal",status="completed",error_kind=""} 2`,
		`quickentry_pipeline_seconds_bucket{status="completed",le="0.5"} 1`,
		`quickentry_pipeline_seconds_bucket{status="completed",le="+Inf"} 2`,
		`quickentry_pipeline_seconds_count{status="completed"} 2`,
		`quickentry_provider_attempts_total{capability="embed",provider="openai",outcome="ok"} 1`,
		`quickentry_provider_attempts_total{capability="embed",provider="openai",outcome="error"} 1`,
		`quickentry_provider_cost_usd_total{capability="embed",provider="openai"} 0.002`,
		`quickentry_estimate_tier_total{subtype="meal",tier="high"} 1`,
		`quickentry_pipelines_inflight 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing line %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveStage("classifying", "ok", time.Millisecond)
	m.PipelineStarted()
	m.PipelineFinished()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"route"}, []string{`a"b\c`})
	if got != `{route="a\"b\\c"}` {
		t.Fatalf("labelString: got=%s", got)
	}
	if got := labelString([]string{"a", "b"}, []string{"x"}); got != `{a="x",b="unknown"}` {
		t.Fatalf("missing label value: got=%s", got)
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders(" api-key = abc , bad, =x ,team=qe")
	if len(h) != 2 || h["api-key"] != "abc" || h["team"] != "qe" {
		t.Fatalf("parseHeaders: got=%v", h)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty headers should be nil")
	}
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "quickentry.test")
	EndSpan(span, errors.New("boom"), "Timeout")
	if id := TraceIDFrom(ctx); id != "" {
		t.Fatalf("noop tracer should not produce a trace id: got=%s", id)
	}
}
