package cputrace

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the anchors of a Profiler as Prometheus metrics.
type Collector struct {
	p *Profiler

	calls   *prometheus.Desc
	totals  *prometheus.Desc
	errors  *prometheus.Desc
	dropped *prometheus.Desc
}

// NewCollector creates a collector for p. Metric names are prefixed with
// namespace, e.g. "<namespace>_anchor_calls_total".
func NewCollector(p *Profiler, namespace string) *Collector {
	labels := []string{"anchor", "index"}
	return &Collector{
		p: p,
		calls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "anchor", "calls_total"),
			"Number of measured executions of the anchor",
			labels, nil,
		),
		totals: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "anchor", "events_total"),
			"Sum of hardware counter values measured for the anchor",
			append(labels, "event"), nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "anchor", "errors_total"),
			"Number of scopes whose counters could not be opened or read",
			labels, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "anchor", "dropped_samples_total"),
			"Number of samples dropped because the anchor arena was full",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.totals
	ch <- c.errors
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.p.Snapshot()
	if err != nil {
		Logger.Debug().Err(err).Msg("collect skipped")
		return
	}

	for _, s := range stats {
		name := displayName(s.Name)
		index := strconv.Itoa(s.Index)
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Calls), name, index)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors), name, index)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), name, index)
		for _, m := range s.Metrics.Metrics() {
			ch <- prometheus.MustNewConstMetric(c.totals, prometheus.CounterValue, float64(s.Sums[m]), name, index, m.Label())
		}
	}
}
