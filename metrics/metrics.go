// Package metrics exposes the directory layer's operational counters and
// latency histograms over Prometheus, registered against whichever
// *prometheus.Registry the caller passes to NewRegistry
// (GlobalMetricsRegistry in prometheus.go is one such registry).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Op names one directory-layer operation for the purposes of labeling
// counters and histograms. Kept as a string rather than an enum so callers
// outside this module (a wrapping service layer) can report their own
// named operations through the same Registry.
type Op string

const (
	OpCreateOrOpen Op = "create_or_open"
	OpOpen         Op = "open"
	OpMove         Op = "move"
	OpRemove       Op = "remove"
	OpList         Op = "list"
	OpExists       Op = "exists"
	OpChangeLayer  Op = "change_layer"
	OpAllocate     Op = "hca_allocate"
)

// Registry is the set of collectors the directory layer reports through. A
// nil *Registry is safe to use: every method becomes a no-op, so a Layer
// constructed without metrics configured pays no instrumentation cost.
type Registry struct {
	opLatency      *prometheus.HistogramVec
	opTotal        *prometheus.CounterVec
	opErrors       *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	allocRetries   prometheus.Counter
	allocWindow    prometheus.Gauge
}

// NewRegistry constructs a Registry and registers its collectors against
// reg. Passing GlobalMetricsRegistry shares the process-wide registry the
// same collectors feed into; passing a fresh prometheus.NewRegistry() keeps
// one Layer's metrics isolated, which the test suite relies on to avoid
// duplicate-collector registration panics across test cases.
func NewRegistry(reg *prometheus.Registry) *Registry {
	r := &Registry{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dirlayer",
			Name:      "operation_duration_seconds",
			Help:      "Latency of directory layer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "operations_total",
			Help:      "Directory layer operations attempted, by kind.",
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "operation_errors_total",
			Help:      "Directory layer operations that returned an error, by kind and error code.",
		}, []string{"op", "code"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "cache_hits_total",
			Help:      "Directory cache lookups served without a tree traversal.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "cache_misses_total",
			Help:      "Directory cache lookups that required a tree traversal.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "cache_evictions_total",
			Help:      "Cache entries invalidated by a mutating operation.",
		}),
		allocRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirlayer",
			Name:      "hca_allocate_retries_total",
			Help:      "High-contention allocator candidate collisions that forced a retry.",
		}),
		allocWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dirlayer",
			Name:      "hca_window_size",
			Help:      "Current window size of the high-contention allocator's most recently used counter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.opLatency, r.opTotal, r.opErrors, r.cacheHits, r.cacheMisses, r.cacheEvictions, r.allocRetries, r.allocWindow)
	}
	return r
}

// ObserveOp records one attempt of op, its wall-clock duration, and, if
// err is non-nil, the error code it carried (or "unknown" if err is not a
// *directory.Error — this package cannot import directory without a cycle,
// so the caller supplies the code string directly).
func (r *Registry) ObserveOp(op Op, d time.Duration, errCode string) {
	if r == nil {
		return
	}
	r.opTotal.WithLabelValues(string(op)).Inc()
	r.opLatency.WithLabelValues(string(op)).Observe(d.Seconds())
	if errCode != "" {
		r.opErrors.WithLabelValues(string(op), errCode).Inc()
	}
}

// CacheHit records one positive or negative cache lookup that did not need
// to run the node finder.
func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// CacheMiss records one lookup that ran the node finder.
func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

// CacheEviction records one path (and its descendants) invalidated by a
// mutating operation.
func (r *Registry) CacheEviction() {
	if r == nil {
		return
	}
	r.cacheEvictions.Inc()
}

// AllocatorRetry records one high-contention allocator candidate collision.
func (r *Registry) AllocatorRetry() {
	if r == nil {
		return
	}
	r.allocRetries.Inc()
}

// SetAllocatorWindow reports the allocator's current window size.
func (r *Registry) SetAllocatorWindow(size int64) {
	if r == nil {
		return
	}
	r.allocWindow.Set(float64(size))
}

// Timer starts a latency observation for op, returning a func to call on
// completion with the operation's resulting error code ("" for success).
func (r *Registry) Timer(op Op) func(errCode string) {
	start := time.Now()
	return func(errCode string) {
		r.ObserveOp(op, time.Since(start), errCode)
	}
}
