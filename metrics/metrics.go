// Package metrics provides the counters, gauges and histograms of the
// settlement aggregator and exports them in the Prometheus text format.
// Counter and Gauge are lock-free; Histogram takes a mutex per observation.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count.
type Counter struct {
	help  string
	value atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.value.Add(n) }

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	help  string
	value atomic.Int64
}

// Set sets the gauge to v.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Add moves the gauge by delta.
func (g *Gauge) Add(delta int64) { g.value.Add(delta) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Bucket layouts shared by the standard metrics.
var (
	// LatencyBuckets are upper bounds in milliseconds, from 10ms to 5min.
	LatencyBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000}
	// SizeBuckets are upper bounds for small counts such as certificates
	// per epoch.
	SizeBuckets = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}
)

// Histogram counts observations into buckets with fixed upper bounds. An
// implicit +Inf bucket catches everything above the last bound.
type Histogram struct {
	help   string
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // len(bounds)+1, not cumulative
	count  uint64
	sum    float64
}

func newHistogram(help string, bounds []float64) *Histogram {
	b := make([]float64, 0, len(bounds))
	for _, v := range bounds {
		if !math.IsInf(v, 1) && !math.IsNaN(v) {
			b = append(b, v)
		}
	}
	sort.Float64s(b)
	return &Histogram{help: help, bounds: b, counts: make([]uint64, len(b)+1)}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	h.counts[i]++
	h.count++
	h.sum += v
	h.mu.Unlock()
}

// ObserveSince records the milliseconds elapsed since start and returns the
// elapsed duration.
func (h *Histogram) ObserveSince(start time.Time) time.Duration {
	d := time.Since(start)
	h.Observe(float64(d) / float64(time.Millisecond))
	return d
}

// HistogramSnapshot is a consistent copy of a histogram. Cumulative[i]
// counts the observations at or below Bounds[i]; the +Inf bucket equals
// Count.
type HistogramSnapshot struct {
	Bounds     []float64
	Cumulative []uint64
	Count      uint64
	Sum        float64
}

// Snapshot returns a copy of the current state.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{
		Bounds:     h.bounds,
		Cumulative: make([]uint64, len(h.bounds)),
		Count:      h.count,
		Sum:        h.sum,
	}
	var running uint64
	for i := range h.bounds {
		running += h.counts[i]
		snap.Cumulative[i] = running
	}
	return snap
}

// Mean returns the average observation, or 0 before the first one.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}
