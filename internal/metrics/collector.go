// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for docrelay, rendered in the Prometheus text exposition format,
// plus an optional CloudWatch observer for relay outcomes.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteText(w)
	}
}

// WriteText renders every metric, sorted by name and labels so the output
// is stable between scrapes.
func (c *MetricsCollector) WriteText(w io.Writer) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP docrelay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE docrelay_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "docrelay_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, key := range sortedKeys(&c.counters) {
		v, _ := c.counters.Load(key)
		ctr := v.(*Counter)
		writeHeader(&sb, helpWritten, ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	for _, key := range sortedKeys(&c.gauges) {
		v, _ := c.gauges.Load(key)
		g := v.(*Gauge)
		writeHeader(&sb, helpWritten, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, key := range sortedKeys(&c.histograms) {
		v, _ := c.histograms.Load(key)
		h := v.(*Histogram)
		h.mu.Lock()
		writeHeader(&sb, helpWritten, h.name, h.help, "histogram")
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	io.WriteString(w, sb.String())
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, kind string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
	written[name] = true
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// --- Pre-defined metrics used across the application ---

var (
	ProviderRequests = Collector.Counter("docrelay_provider_requests_total", "Total answer provider queries", "")
	ProviderFaults   = Collector.Counter("docrelay_provider_faults_total", "Answer provider queries that failed or timed out", "")
	Escalations      = Collector.Counter("docrelay_escalations_total", "Answers containing the fallback phrase", "")
	SendFailures     = Collector.Counter("docrelay_send_failures_total", "Replies that could not be delivered", "")
	IgnoredMessages  = Collector.Counter("docrelay_ignored_messages_total", "Inbound messages acknowledged without relaying", "")
	PollIterations   = Collector.Counter("docrelay_poll_iterations_total", "Background poll iterations", "")
	PollFailures     = Collector.Counter("docrelay_poll_failures_total", "Background poll iterations that failed", "")
	SyncInProgress   = Collector.Gauge("docrelay_sync_in_progress", "1 while a drive sync pass runs", "")

	ProviderLatency = Collector.Histogram("docrelay_provider_latency_seconds", "Answer provider latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// MessagesRelayed counts dispatched messages per channel.
func MessagesRelayed(channel string) *Counter {
	return Collector.Counter("docrelay_messages_relayed_total", "Messages dispatched to the answer provider", `channel="`+channel+`"`)
}

// SyncFiles counts drive sync outcomes per status.
func SyncFiles(status string) *Counter {
	return Collector.Counter("docrelay_sync_files_total", "Drive files processed by sync passes", `status="`+status+`"`)
}
