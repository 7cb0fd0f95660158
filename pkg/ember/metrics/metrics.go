// Package metrics exposes a daemon.Stats snapshot as Prometheus
// collectors, the enrichment nabbar-golib's dependency on
// prometheus/client_golang suggested for this pack. It is optional: a
// host that never imports this package never pulls in the Prometheus
// client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/ember/pkg/ember/daemon"
)

// Collector implements prometheus.Collector over a *daemon.Stats,
// reading its atomic counters on every Collect call rather than caching
// a local copy — matching the "stats are the source of truth, Prometheus
// is a read-only view" shape.
type Collector struct {
	stats *daemon.Stats

	totalConnections  *prometheus.Desc
	activeConnections *prometheus.Desc
	totalRequests     *prometheus.Desc
	connectionErrors  *prometheus.Desc
	requestErrors     *prometheus.Desc
	rejectedPerIP     *prometheus.Desc
	uptimeSeconds     *prometheus.Desc
}

// NewCollector builds a Collector over stats. Register it with a
// prometheus.Registry (or prometheus.MustRegister) once per process.
func NewCollector(stats *daemon.Stats, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		stats:             stats,
		totalConnections:  desc("connections_total", "Total connections accepted."),
		activeConnections: desc("connections_active", "Connections currently open."),
		totalRequests:     desc("requests_total", "Total requests handled."),
		connectionErrors:  desc("connection_errors_total", "Connections that ended in error."),
		requestErrors:     desc("request_errors_total", "Requests that ended in a handler or protocol error."),
		rejectedPerIP:     desc("rejected_per_ip_total", "Accepts rejected by the per-IP connection limit."),
		uptimeSeconds:     desc("uptime_seconds", "Seconds since the daemon started."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConnections
	ch <- c.activeConnections
	ch <- c.totalRequests
	ch <- c.connectionErrors
	ch <- c.requestErrors
	ch <- c.rejectedPerIP
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.totalConnections, prometheus.CounterValue, float64(c.stats.TotalConnections.Load()))
	ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(c.stats.ActiveConnections.Load()))
	ch <- prometheus.MustNewConstMetric(c.totalRequests, prometheus.CounterValue, float64(c.stats.TotalRequests.Load()))
	ch <- prometheus.MustNewConstMetric(c.connectionErrors, prometheus.CounterValue, float64(c.stats.ConnectionErrors.Load()))
	ch <- prometheus.MustNewConstMetric(c.requestErrors, prometheus.CounterValue, float64(c.stats.RequestErrors.Load()))
	ch <- prometheus.MustNewConstMetric(c.rejectedPerIP, prometheus.CounterValue, float64(c.stats.RejectedPerIP.Load()))
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, c.stats.Duration().Seconds())
}
