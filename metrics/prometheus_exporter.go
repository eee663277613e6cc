package metrics

import (
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrometheusConfig configures the Prometheus exporter.
type PrometheusConfig struct {
	// Namespace is prepended to every metric name, so "aggsettle" turns
	// "epoch.current" into "aggsettle_epoch_current".
	Namespace string
	// EnableRuntime adds goroutine, memory and GC metrics to each scrape.
	EnableRuntime bool
}

// DefaultPrometheusConfig returns the exporter config used by the node.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "aggsettle",
		EnableRuntime: true,
	}
}

// Collector produces metric lines computed at scrape time, such as counts
// read from storage.
type Collector interface {
	Describe() (name, help string)
	Collect() []MetricLine
}

// MetricLine is a single gauge sample with optional labels.
type MetricLine struct {
	Labels map[string]string
	Value  float64
}

// PrometheusExporter serves a Registry in the Prometheus text exposition
// format.
type PrometheusExporter struct {
	mu         sync.RWMutex
	config     PrometheusConfig
	registry   *Registry
	collectors map[string]Collector
}

// NewPrometheusExporter creates an exporter reading from registry.
func NewPrometheusExporter(registry *Registry, config PrometheusConfig) *PrometheusExporter {
	return &PrometheusExporter{
		config:     config,
		registry:   registry,
		collectors: make(map[string]Collector),
	}
}

// RegisterCollector adds c under its described name, replacing any
// collector of the same name.
func (pe *PrometheusExporter) RegisterCollector(c Collector) {
	name, _ := c.Describe()
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.collectors[name] = c
}

// ServeHTTP implements http.Handler.
func (pe *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(pe.Render()))
}

// Render returns the exposition text of one scrape.
func (pe *PrometheusExporter) Render() string {
	var b strings.Builder
	pe.writeRegistryMetrics(&b)
	if pe.config.EnableRuntime {
		pe.writeRuntimeMetrics(&b)
	}
	pe.writeCollectors(&b)
	return b.String()
}

func (pe *PrometheusExporter) writeRegistryMetrics(b *strings.Builder) {
	pe.registry.Each(func(name string, metric any) {
		promName := pe.promName(name)
		switch m := metric.(type) {
		case *Counter:
			writeHeader(b, promName, "counter", m.help)
			fmt.Fprintf(b, "%s %d\n", promName, m.Value())
		case *Gauge:
			writeHeader(b, promName, "gauge", m.help)
			fmt.Fprintf(b, "%s %d\n", promName, m.Value())
		case *Histogram:
			snap := m.Snapshot()
			writeHeader(b, promName, "histogram", m.help)
			for i, bound := range snap.Bounds {
				fmt.Fprintf(b, "%s_bucket{le=\"%s\"} %d\n", promName, formatFloat(bound), snap.Cumulative[i])
			}
			fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", promName, snap.Count)
			fmt.Fprintf(b, "%s_sum %s\n", promName, formatFloat(snap.Sum))
			fmt.Fprintf(b, "%s_count %d\n", promName, snap.Count)
		}
	})
}

func (pe *PrometheusExporter) writeRuntimeMetrics(b *strings.Builder) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	gauge := func(name, help string, v float64) {
		name = pe.promName(name)
		writeHeader(b, name, "gauge", help)
		fmt.Fprintf(b, "%s %s\n", name, formatFloat(v))
	}
	gauge("go.goroutines", "Number of goroutines", float64(runtime.NumGoroutine()))
	gauge("go.memstats.heap_alloc_bytes", "Bytes of allocated heap objects", float64(m.HeapAlloc))
	gauge("go.memstats.sys_bytes", "Bytes obtained from the OS", float64(m.Sys))
	gauge("go.gc.count", "Completed GC cycles", float64(m.NumGC))
	gauge("go.gc.pause_seconds", "Total GC pause time", float64(m.PauseTotalNs)/1e9)
	gauge("process.start_time_seconds", "Process start time in seconds since epoch", float64(processStartTime.Unix()))
}

func (pe *PrometheusExporter) writeCollectors(b *strings.Builder) {
	pe.mu.RLock()
	names := sortedKeys(pe.collectors)
	collectors := make([]Collector, len(names))
	for i, name := range names {
		collectors[i] = pe.collectors[name]
	}
	pe.mu.RUnlock()

	for _, c := range collectors {
		name, help := c.Describe()
		promName := pe.promName(name)
		writeHeader(b, promName, "gauge", help)
		for _, line := range c.Collect() {
			if len(line.Labels) > 0 {
				fmt.Fprintf(b, "%s{%s} %s\n", promName, formatLabels(line.Labels), formatFloat(line.Value))
			} else {
				fmt.Fprintf(b, "%s %s\n", promName, formatFloat(line.Value))
			}
		}
	}
}

// promName converts a dotted metric name to Prometheus form.
func (pe *PrometheusExporter) promName(name string) string {
	sanitized := strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if pe.config.Namespace != "" {
		return pe.config.Namespace + "_" + sanitized
	}
	return sanitized
}

// formatLabels renders labels sorted by key.
func formatLabels(labels map[string]string) string {
	keys := sortedKeys(labels)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

func writeHeader(b *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var processStartTime = time.Now()
