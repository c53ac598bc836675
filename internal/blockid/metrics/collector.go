package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/julianstephens/blockid/internal/blockid/alloc"
)

// StatsSource is satisfied by *alloc.Allocator.
type StatsSource interface {
	Stats() alloc.Stats
}

// Collector reports an allocator's current block and queue at scrape time.
type Collector struct {
	src StatsSource

	blockHi   *prometheus.Desc
	remaining *prometheus.Desc
	waiting   *prometheus.Desc
	refilling *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src StatsSource, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		src:       src,
		blockHi:   prometheus.NewDesc(namespace+"_block_hi", "First identifier of the current block", nil, nil),
		remaining: prometheus.NewDesc(namespace+"_block_remaining", "Identifiers left in the current block", nil, nil),
		waiting:   prometheus.NewDesc(namespace+"_waiters", "Callers queued on the active refill", nil, nil),
		refilling: prometheus.NewDesc(namespace+"_refilling", "1 while a refill is in flight", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blockHi
	ch <- c.remaining
	ch <- c.waiting
	ch <- c.refilling
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	refilling := 0.0
	if s.Refilling {
		refilling = 1
	}
	ch <- prometheus.MustNewConstMetric(c.blockHi, prometheus.GaugeValue, float64(s.Hi))
	ch <- prometheus.MustNewConstMetric(c.remaining, prometheus.GaugeValue, float64(s.Remaining))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting))
	ch <- prometheus.MustNewConstMetric(c.refilling, prometheus.GaugeValue, refilling)
}
