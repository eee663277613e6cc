package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named metrics. Lookups are get-or-create, so packages can
// declare their metrics as globals in any order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]any // *Counter, *Gauge or *Histogram
}

// DefaultRegistry holds the metrics declared in standard.go.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]any)}
}

// Counter returns the counter registered under name, creating it with help
// if needed. It panics if name is registered as another kind.
func (r *Registry) Counter(name, help string) *Counter {
	return getOrCreate(r, name, func() *Counter { return &Counter{help: help} })
}

// Gauge returns the gauge registered under name, creating it with help if
// needed. It panics if name is registered as another kind.
func (r *Registry) Gauge(name, help string) *Gauge {
	return getOrCreate(r, name, func() *Gauge { return &Gauge{help: help} })
}

// Histogram returns the histogram registered under name. The bounds only
// apply when it is created. It panics if name is registered as another
// kind.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	return getOrCreate(r, name, func() *Histogram { return newHistogram(help, bounds) })
}

func getOrCreate[M any](r *Registry, name string, create func() M) M {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if m, ok = r.metrics[name]; !ok {
			m = create()
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}
	typed, ok := m.(M)
	if !ok {
		panic(fmt.Sprintf("metrics: %q already registered as %T", name, m))
	}
	return typed
}

// Each calls fn for every metric in name order. fn receives a *Counter,
// *Gauge or *Histogram.
func (r *Registry) Each(fn func(name string, metric any)) {
	type entry struct {
		name   string
		metric any
	}
	r.mu.RLock()
	entries := make([]entry, 0, len(r.metrics))
	for name, m := range r.metrics {
		entries = append(entries, entry{name, m})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		fn(e.name, e.metric)
	}
}
