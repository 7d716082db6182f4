// Package metrics exports pool and source statistics to Prometheus.
//
// Pools are not safe for concurrent use, so the collector never reads a
// manager directly during a scrape. It calls a snapshot function instead,
// and the owner of the manager takes whatever lock it needs there:
//
//	c := metrics.NewPoolCollector("rsrcpool", func() metrics.Snapshot {
//	    mu.Lock()
//	    defer mu.Unlock()
//	    return metrics.SnapshotOf(manager)
//	})
//	prometheus.MustRegister(c)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

// Snapshot is the state exported on one scrape
type Snapshot struct {
	Pools   []rsrc.Stats
	Sources []source.Stats
}

// SnapshotOf captures every pool of m and the sources behind it. The
// registry source is left out; its usage is fixed once bootstrapped.
func SnapshotOf(m *rsrc.Manager) Snapshot {
	return Snapshot{
		Pools:   m.Stats(),
		Sources: []source.Stats{m.Source().Stats()},
	}
}

// PoolCollector is a prometheus.Collector over pool statistics.
type PoolCollector struct {
	snapshot func() Snapshot

	inUse       *prometheus.Desc
	free        *prometheus.Desc
	capacity    *prometheus.Desc
	hiWater     *prometheus.Desc
	loWater     *prometheus.Desc
	allocs      *prometheus.Desc
	sourceUsed  *prometheus.Desc
	sourceLimit *prometheus.Desc
	sourceFails *prometheus.Desc
}

// NewPoolCollector creates a collector whose metrics are prefixed with namespace
func NewPoolCollector(namespace string, snapshot func() Snapshot) *PoolCollector {
	poolLabels := []string{"pool", "kind"}
	srcLabels := []string{"source"}
	return &PoolCollector{
		snapshot: snapshot,
		inUse: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "in_use"),
			"Resources currently allocated from the pool", poolLabels, nil),
		free: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "free"),
			"Resources materialized and waiting on the free list", poolLabels, nil),
		capacity: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "capacity"),
			"Resources materialized by the pool", poolLabels, nil),
		hiWater: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "hi_water"),
			"Largest number of resources ever in use at once", poolLabels, nil),
		loWater: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "lo_water"),
			"Smallest free count observed after an allocation", poolLabels, nil),
		allocs: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "allocations_total"),
			"Successful allocations since the pool was created", poolLabels, nil),
		sourceUsed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "source", "used_bytes"),
			"Bytes handed out by the memory source", srcLabels, nil),
		sourceLimit: prometheus.NewDesc(prometheus.BuildFQName(namespace, "source", "limit_bytes"),
			"Byte budget of the memory source, 0 when unbounded", srcLabels, nil),
		sourceFails: prometheus.NewDesc(prometheus.BuildFQName(namespace, "source", "failures_total"),
			"Allocations the memory source could not satisfy", srcLabels, nil),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.free
	ch <- c.capacity
	ch <- c.hiWater
	ch <- c.loWater
	ch <- c.allocs
	ch <- c.sourceUsed
	ch <- c.sourceLimit
	ch <- c.sourceFails
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	// pool names need not be unique; the first registration wins
	seen := make(map[string]bool, len(snap.Pools))
	for _, s := range snap.Pools {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		gauge := func(d *prometheus.Desc, v int) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), s.Name, s.Kind)
		}
		gauge(c.inUse, s.InUse)
		gauge(c.free, s.Free)
		gauge(c.capacity, s.Capacity)
		gauge(c.hiWater, s.HiWater)
		gauge(c.loWater, s.LoWater)
		ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(s.TotalAllocs), s.Name, s.Kind)
	}

	for _, s := range snap.Sources {
		ch <- prometheus.MustNewConstMetric(c.sourceUsed, prometheus.GaugeValue, float64(s.Used), s.Name)
		ch <- prometheus.MustNewConstMetric(c.sourceLimit, prometheus.GaugeValue, float64(s.Limit), s.Name)
		ch <- prometheus.MustNewConstMetric(c.sourceFails, prometheus.CounterValue, float64(s.Failures), s.Name)
	}
}

var _ prometheus.Collector = (*PoolCollector)(nil)
