package refmap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "refmap"

// StatsSource is anything that reports MapStats, such as a *Map or a
// *Set.
type StatsSource interface {
	Stats() *MapStats
}

// Collector exports the statistics of named maps as Prometheus metrics.
// Each scrape walks every registered map once. A registry accepts one
// Collector; export further maps through Add rather than a second
// Collector.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]StatsSource

	entries  *prometheus.Desc
	segments *prometheus.Desc
	buckets  *prometheus.Desc
	resizes  *prometheus.Desc
	swept    *prometheus.Desc
}

// NewCollector returns a Collector exporting src under the map label
// name. More maps can be added with Add.
func NewCollector(name string, src StatsSource) *Collector {
	labels := []string{"map"}
	c := &Collector{
		sources: make(map[string]StatsSource),
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "entries"),
			"Number of live entries.", labels, nil),
		segments: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "segments", "allocated"),
			"Number of allocated segments.", labels, nil),
		buckets: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "buckets"),
			"Number of buckets over all segment tables.", labels, nil),
		resizes: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "resizes_total"),
			"Number of segment table resizes.", labels, nil),
		swept: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "reclaimed_total"),
			"Number of collected entries swept from the map.", labels, nil),
	}
	if src != nil {
		c.Add(name, src)
	}
	return c
}

// Add registers src under the map label name, replacing any source
// already registered with that name.
func (c *Collector) Add(name string, src StatsSource) {
	c.mu.Lock()
	c.sources[name] = src
	c.mu.Unlock()
}

// Remove unregisters the source named name.
func (c *Collector) Remove(name string) {
	c.mu.Lock()
	delete(c.sources, name)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.segments
	ch <- c.buckets
	ch <- c.resizes
	ch <- c.swept
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, src := range c.sources {
		s := src.Stats()
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(s.Segments), name)
		ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(s.TotalBuckets), name)
		ch <- prometheus.MustNewConstMetric(c.resizes, prometheus.CounterValue, float64(s.TotalGrowths), name)
		ch <- prometheus.MustNewConstMetric(c.swept, prometheus.CounterValue, float64(s.Reclaimed), name)
	}
}

// ReclaimCollector exports the process-wide reclamation counters
// reported by ReclaimStats. Register it once per registry; the
// per-map Collector does not include them.
var ReclaimCollector prometheus.Collector = reclaimCollector{
	handled: prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "reclaim_handled_total"),
		"Number of collection notices handled by the reclamation worker.", nil, nil),
	dropped: prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "reclaim_dropped_total"),
		"Number of collection notices dropped because the reclamation queue was full.", nil, nil),
}

type reclaimCollector struct {
	handled *prometheus.Desc
	dropped *prometheus.Desc
}

func (c reclaimCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handled
	ch <- c.dropped
}

func (c reclaimCollector) Collect(ch chan<- prometheus.Metric) {
	handled, dropped := ReclaimStats()
	ch <- prometheus.MustNewConstMetric(c.handled, prometheus.CounterValue, float64(handled))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(dropped))
}
