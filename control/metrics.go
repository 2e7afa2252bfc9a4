// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus export of permit pool statistics. The collector snapshots the
// pool on every scrape and emits const metrics, so no counter state is
// duplicated outside the pool itself.

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-gate/api"
)

// StatsSource is the narrow pool capability the collector needs.
type StatsSource interface {
	Stats() api.PoolStats
}

// PoolCollector implements prometheus.Collector over a permit pool. All
// series carry a constant "gate" label naming the pool.
type PoolCollector struct {
	source StatsSource

	capacity      *prometheus.Desc
	available     *prometheus.Desc
	inFlight      *prometheus.Desc
	waiting       *prometheus.Desc
	shrinkPending *prometheus.Desc
	acquires      *prometheus.Desc
	releases      *prometheus.Desc
	cancellations *prometheus.Desc
	timeouts      *prometheus.Desc
	rejected      *prometheus.Desc
	resizes       *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector builds a collector for one pool. name becomes the value
// of the "gate" label on every series.
func NewPoolCollector(name string, source StatsSource) *PoolCollector {
	labels := prometheus.Labels{"gate": name}
	return &PoolCollector{
		source: source,
		capacity: prometheus.NewDesc("gate_capacity",
			"Configured maximum concurrency.", nil, labels),
		available: prometheus.NewDesc("gate_available_permits",
			"Permits grantable right now.", nil, labels),
		inFlight: prometheus.NewDesc("gate_inflight_permits",
			"Permits currently held.", nil, labels),
		waiting: prometheus.NewDesc("gate_waiting_acquirers",
			"Acquirers suspended in line.", nil, labels),
		shrinkPending: prometheus.NewDesc("gate_shrink_pending",
			"Synthetic shrink acquisitions not yet absorbed.", nil, labels),
		acquires: prometheus.NewDesc("gate_acquires_total",
			"Permits granted since creation.", nil, labels),
		releases: prometheus.NewDesc("gate_releases_total",
			"Permits returned since creation.", nil, labels),
		cancellations: prometheus.NewDesc("gate_acquire_cancellations_total",
			"Waits aborted by cancellation.", nil, labels),
		timeouts: prometheus.NewDesc("gate_acquire_timeouts_total",
			"Waits aborted by deadline expiry.", nil, labels),
		rejected: prometheus.NewDesc("gate_rejected_acquires_total",
			"Acquisitions refused because the pool was closed.", nil, labels),
		resizes: prometheus.NewDesc("gate_resizes_total",
			"Capacity changes applied.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.available
	ch <- c.inFlight
	ch <- c.waiting
	ch <- c.shrinkPending
	ch <- c.acquires
	ch <- c.releases
	ch <- c.cancellations
	ch <- c.timeouts
	ch <- c.rejected
	ch <- c.resizes
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(st.Available))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(st.InFlight))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(st.Waiting))
	ch <- prometheus.MustNewConstMetric(c.shrinkPending, prometheus.GaugeValue, float64(st.ShrinkPending))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(st.Acquired))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(st.Released))
	ch <- prometheus.MustNewConstMetric(c.cancellations, prometheus.CounterValue, float64(st.Canceled))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(st.TimedOut))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(st.Rejected))
	ch <- prometheus.MustNewConstMetric(c.resizes, prometheus.CounterValue, float64(st.Resizes))
}
