package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
)

// Metrics is a small Prometheus text-exposition registry for the API and the
// entry pipeline.
type Metrics struct {
	apiRequests      *CounterVec
	apiLatency       *HistogramVec
	pipelineOutcomes *CounterVec
	pipelineLatency  *HistogramVec
	stageLatency     *HistogramVec
	providerAttempts *CounterVec
	providerCostUSD  *CounterVec
	estimateTiers    *CounterVec
	sweptEntries     *CounterVec
	vectorBootstrap  *CounterVec
	inflight         *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process registry, or nil when metrics are disabled.
// Every method is safe on a nil receiver.
func Current() *Metrics {
	return instance
}

func Init() *Metrics {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		instance = NewMetrics()
	})
	return instance
}

func NewMetrics() *Metrics {
	stageBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	return &Metrics{
		apiRequests:      NewCounterVec("quickentry_api_requests_total", "HTTP requests by route and status.", []string{"method", "route", "status"}),
		apiLatency:       NewHistogramVec("quickentry_api_request_seconds", "HTTP request latency.", []string{"method", "route"}, nil),
		pipelineOutcomes: NewCounterVec("quickentry_pipeline_total", "Finished entry pipelines.", []string{"mode", "subtype", "status", "error_kind"}),
		pipelineLatency:  NewHistogramVec("quickentry_pipeline_seconds", "End-to-end pipeline latency.", []string{"status"}, stageBuckets),
		stageLatency:     NewHistogramVec("quickentry_stage_seconds", "Pipeline stage latency.", []string{"stage", "status"}, stageBuckets),
		providerAttempts: NewCounterVec("quickentry_provider_attempts_total", "Capability provider attempts.", []string{"capability", "provider", "outcome"}),
		providerCostUSD:  NewCounterVec("quickentry_provider_cost_usd_total", "Estimated provider spend.", []string{"capability", "provider"}),
		estimateTiers:    NewCounterVec("quickentry_estimate_tier_total", "Pattern estimates by tier.", []string{"subtype", "tier"}),
		sweptEntries:     NewCounterVec("quickentry_swept_entries_total", "Entries failed by the stale sweeper.", []string{"stage"}),
		vectorBootstrap:  NewCounterVec("quickentry_vector_index_bootstrap_total", "Vector index bootstrap outcomes.", []string{"mode", "outcome", "code"}),
		inflight:         NewGauge("quickentry_pipelines_inflight", "Pipelines currently running."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency,
		m.pipelineOutcomes, m.pipelineLatency, m.stageLatency,
		m.providerAttempts, m.providerCostUSD,
		m.estimateTiers, m.sweptEntries, m.vectorBootstrap, m.inflight,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) ObservePipeline(mode, subtype, status, errorKind string, dur time.Duration) {
	if m == nil {
		return
	}
	m.pipelineOutcomes.Inc(mode, subtype, status, errorKind)
	m.pipelineLatency.Observe(dur.Seconds(), status)
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.Observe(dur.Seconds(), stage, status)
}

func (m *Metrics) ObserveProviderAttempt(capability, provider string, success bool, costUSD float64) {
	if m == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	m.providerAttempts.Inc(capability, provider, outcome)
	if costUSD > 0 {
		m.providerCostUSD.Add(costUSD, capability, provider)
	}
}

func (m *Metrics) IncEstimateTier(subtype, tier string) {
	if m == nil {
		return
	}
	m.estimateTiers.Inc(subtype, tier)
}

func (m *Metrics) IncSwept(stage string) {
	if m == nil {
		return
	}
	m.sweptEntries.Inc(stage)
}

func (m *Metrics) ObserveVectorIndexBootstrap(mode, outcome, code string) {
	if m == nil {
		return
	}
	m.vectorBootstrap.Inc(mode, outcome, code)
}

func (m *Metrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) PipelineFinished() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range sortedKeys(c.values) {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", c.name, k, c.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val++
	g.mu.Unlock()
}

func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val--
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %g\n", g.name, g.val)
	return err
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, k := range sortedKeys(h.values) {
		v := h.values[k]
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %g\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
