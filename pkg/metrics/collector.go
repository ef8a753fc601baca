package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	endpointCountDesc = prometheus.NewDesc("unite_endpoint_requests_total",
		"total API requests by endpoint", []string{"endpoint"}, nil)
	endpointErrorDesc = prometheus.NewDesc("unite_endpoint_errors_total",
		"total failed API requests by endpoint", []string{"endpoint"}, nil)
	endpointMaxDesc = prometheus.NewDesc("unite_endpoint_max_millis",
		"endpoint max latency in milliseconds", []string{"endpoint"}, nil)
	latencyDesc = prometheus.NewDesc("unite_endpoint_latency_seconds",
		"endpoint latency histogram", []string{"endpoint"}, nil)
	cacheDesc = prometheus.NewDesc("unite_cache_lookups_total",
		"client cache lookups by result", []string{"result"}, nil)
	eventDesc = prometheus.NewDesc("unite_bus_events_total",
		"events published on the local bus by topic", []string{"topic"}, nil)
	listenerDesc = prometheus.NewDesc("unite_bus_listeners",
		"listeners seen by the latest publish on a topic", []string{"topic"}, nil)
	gaugeDesc = prometheus.NewDesc("unite_gauge",
		"operational gauges", []string{"name"}, nil)
)

// Collector exposes a Registry snapshot as const metrics on every scrape.
type Collector struct {
	reg *Registry
}

func NewCollector(reg *Registry) *Collector {
	return &Collector{reg: reg}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{endpointCountDesc, endpointErrorDesc, endpointMaxDesc, latencyDesc, cacheDesc, eventDesc, listenerDesc, gaugeDesc} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reg.Snapshot()
	for _, ep := range SortedKeys(snap.Endpoints) {
		stat := snap.Endpoints[ep]
		ch <- prometheus.MustNewConstMetric(endpointCountDesc, prometheus.CounterValue, float64(stat.Count), ep)
		ch <- prometheus.MustNewConstMetric(endpointErrorDesc, prometheus.CounterValue, float64(stat.ErrorCount), ep)
		ch <- prometheus.MustNewConstMetric(endpointMaxDesc, prometheus.GaugeValue, float64(stat.MaxMillis), ep)
	}
	for _, h := range snap.Histograms {
		buckets := make(map[float64]uint64, len(h.Buckets))
		for _, b := range h.Buckets {
			buckets[b.Le] = uint64(b.Count)
		}
		ch <- prometheus.MustNewConstHistogram(latencyDesc, uint64(h.Count), h.Sum, buckets, h.Name)
	}
	ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(snap.Cache.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(snap.Cache.Misses), "miss")
	for _, topic := range SortedKeys(snap.Events) {
		ch <- prometheus.MustNewConstMetric(eventDesc, prometheus.CounterValue, float64(snap.Events[topic]), topic)
		ch <- prometheus.MustNewConstMetric(listenerDesc, prometheus.GaugeValue, float64(snap.Listeners[topic]), topic)
	}
	for _, name := range SortedKeys(snap.Gauges) {
		ch <- prometheus.MustNewConstMetric(gaugeDesc, prometheus.GaugeValue, snap.Gauges[name], name)
	}
}
