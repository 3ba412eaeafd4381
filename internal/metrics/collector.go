// Package metrics exposes engine health counters of the running probes and
// the record stream in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrzor/latstat/internal/eventprocessor"
	"github.com/mrzor/latstat/internal/eventstream"
	"github.com/mrzor/latstat/internal/probe"
)

const namespace = "latstat"

// Source is a probe whose health is exported.
type Source interface {
	Name() string
	Health() probe.Health
}

// StreamStats reports record stream counters.
type StreamStats interface {
	Stats() eventstream.Stats
}

// RouteStats reports routing counters.
type RouteStats interface {
	Stats() eventprocessor.Stats
}

// Collector implements prometheus.Collector. Every scrape reads the current
// counters; nothing is cached.
type Collector struct {
	sources []Source
	stream  StreamStats
	routes  RouteStats

	correlationLive     *prometheus.Desc
	correlationCapacity *prometheus.Desc
	correlationOps      *prometheus.Desc
	aggregationBuckets  *prometheus.Desc
	aggregationCapacity *prometheus.Desc
	aggregationDropped  *prometheus.Desc
	channelEvents       *prometheus.Desc
	channelPending      *prometheus.Desc
	channelCapacity     *prometheus.Desc
	records             *prometheus.Desc
	malformed           *prometheus.Desc
	routed              *prometheus.Desc
}

// NewCollector creates a collector over the given probes. stream and routes
// may be nil.
func NewCollector(stream StreamStats, routes RouteStats, sources ...Source) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		sources: sources,
		stream:  stream,
		routes:  routes,

		correlationLive: desc("correlation_entries",
			"Pending entries in a correlation table.", "probe", "table"),
		correlationCapacity: desc("correlation_capacity",
			"Slots in a correlation table.", "probe", "table"),
		correlationOps: desc("correlation_operations_total",
			"Correlation table operations by outcome.", "probe", "table", "outcome"),
		aggregationBuckets: desc("aggregation_buckets",
			"Live buckets in an aggregation store, summed over units.", "probe", "table"),
		aggregationCapacity: desc("aggregation_capacity",
			"Bucket capacity of each unit of an aggregation store.", "probe", "table"),
		aggregationDropped: desc("aggregation_dropped_total",
			"Deltas dropped because a unit had no room for a new bucket.", "probe", "table"),
		channelEvents: desc("channel_events_total",
			"Emission channel events by outcome.", "probe", "channel", "outcome"),
		channelPending: desc("channel_pending",
			"Events waiting to be drained.", "probe", "channel"),
		channelCapacity: desc("channel_capacity",
			"Emission channel capacity.", "probe", "channel"),
		records: desc("records_total",
			"Hook records read from the source."),
		malformed: desc("records_malformed_total",
			"Hook records that could not be decoded."),
		routed: desc("records_routed_total",
			"Hook records by routing outcome.", "outcome"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.correlationLive
	ch <- c.correlationCapacity
	ch <- c.correlationOps
	ch <- c.aggregationBuckets
	ch <- c.aggregationCapacity
	ch <- c.aggregationDropped
	ch <- c.channelEvents
	ch <- c.channelPending
	ch <- c.channelCapacity
	ch <- c.records
	ch <- c.malformed
	ch <- c.routed
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for _, src := range c.sources {
		name := src.Name()
		h := src.Health()

		for table, s := range h.Correlation {
			gauge(c.correlationLive, s.Live, name, table)
			gauge(c.correlationCapacity, s.Capacity, name, table)
			counter(c.correlationOps, s.Inserted, name, table, "inserted")
			counter(c.correlationOps, s.Replaced, name, table, "replaced")
			counter(c.correlationOps, s.Evicted, name, table, "evicted")
			counter(c.correlationOps, s.Ended, name, table, "ended")
			counter(c.correlationOps, s.Misses, name, table, "missed")
			counter(c.correlationOps, s.Discarded, name, table, "discarded")
		}
		for table, s := range h.Aggregation {
			gauge(c.aggregationBuckets, uint64(max(s.Buckets, 0)), name, table)
			gauge(c.aggregationCapacity, uint64(max(s.CapacityPerUnit, 0)), name, table)
			counter(c.aggregationDropped, s.Dropped, name, table)
		}
		for channel, s := range h.Channel {
			counter(c.channelEvents, s.Pushed, name, channel, "pushed")
			counter(c.channelEvents, s.Dropped, name, channel, "dropped")
			counter(c.channelEvents, s.Drained, name, channel, "drained")
			gauge(c.channelPending, s.Pending, name, channel)
			gauge(c.channelCapacity, s.Capacity, name, channel)
		}
	}

	if c.stream != nil {
		s := c.stream.Stats()
		counter(c.records, s.Records)
		counter(c.malformed, s.Malformed)
	}
	if c.routes != nil {
		s := c.routes.Stats()
		counter(c.routed, s.Dispatched, "dispatched")
		counter(c.routed, s.Ignored, "ignored")
	}
}
