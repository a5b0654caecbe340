// Package metrics exposes Prometheus collectors for the runtime: workspace
// and per-table row counts, and materializer failure counts, polled from
// every running Epicenter on a ticker. Grounded on the teacher's
// pkg/metrics/metrics.go (package-level prometheus.NewGaugeVec/MustRegister
// in init, not promauto) and pkg/manager/metrics_collector.go's ticker-poll
// Collector shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkspacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epicenter_workspaces_total",
			Help: "Total number of workspaces running in this Epicenter",
		},
	)

	TablesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epicenter_tables_total",
			Help: "Total number of rows per workspace table",
		},
		[]string{"workspace", "table"},
	)

	MaterializerFailuresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epicenter_materializer_failures_total",
			Help: "Total handler failures recorded by the Observer Bus per materializer",
		},
		[]string{"workspace", "materializer"},
	)
)

func init() {
	prometheus.MustRegister(WorkspacesTotal)
	prometheus.MustRegister(TablesTotal)
	prometheus.MustRegister(MaterializerFailuresTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
