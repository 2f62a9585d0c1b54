package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GlobalMetricsRegistry is the Prometheus metrics registry singleton
var GlobalMetricsRegistry *prometheus.Registry

func init() {
	ResetGlobalMetricsRegistry()
}

// ResetGlobalMetricsRegistry replaces GlobalMetricsRegistry with a fresh
// registry holding only a Go runtime collector.
func ResetGlobalMetricsRegistry() {
	GlobalMetricsRegistry = prometheus.NewRegistry()
	GlobalMetricsRegistry.MustRegister(prometheus.NewGoCollector())
}

// Handler returns an HTTP handler serving reg in the Prometheus exposition
// format, for a caller (e.g. cmd/dirlayer-bench) that wants to expose an
// optional /metrics endpoint without depending on promhttp directly.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
