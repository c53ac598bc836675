// Package metrics exports allocator activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/julianstephens/blockid/internal/blockid/alloc"
)

const DefaultNamespace = "blockid"

// Observer counts refills and allocations. It implements alloc.Observer.
type Observer struct {
	refills   *prometheus.CounterVec
	allocated *prometheus.CounterVec
	overflows prometheus.Counter
	served    prometheus.Histogram
	latency   prometheus.Histogram
	inflight  prometheus.Gauge
}

var _ alloc.Observer = (*Observer)(nil)

// New creates an Observer and registers its metrics with reg.
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	o := &Observer{
		refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refills_total",
			Help:      "Counter source calls by outcome",
		}, []string{"outcome"}),
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ids_allocated_total",
			Help:      "Identifiers handed out, by fast or slow path",
		}, []string{"path"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refill_overflows_total",
			Help:      "Refills whose waiters did not fit in one block",
		}),
		served: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refill_waiters_served",
			Help:      "Waiters served from one fetched block",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refill_duration_seconds",
			Help:      "Time from refill start to block installation or failure",
			Buckets:   prometheus.DefBuckets,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refills_in_flight",
			Help:      "Counter source calls currently outstanding",
		}),
	}
	for _, c := range []prometheus.Collector{o.refills, o.allocated, o.overflows, o.served, o.latency, o.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) RefillStarted(alloc.RefillEvent) {
	o.inflight.Inc()
}

func (o *Observer) RefillCompleted(ev alloc.RefillEvent) {
	o.inflight.Dec()
	o.refills.WithLabelValues("ok").Inc()
	o.served.Observe(float64(ev.Served))
	o.latency.Observe(ev.Elapsed.Seconds())
	if ev.Carried > 0 {
		o.overflows.Inc()
	}
}

func (o *Observer) RefillFailed(ev alloc.RefillEvent) {
	o.inflight.Dec()
	o.refills.WithLabelValues("error").Inc()
	o.latency.Observe(ev.Elapsed.Seconds())
}

func (o *Observer) Allocated(fastPath bool) {
	if fastPath {
		o.allocated.WithLabelValues("fast").Inc()
		return
	}
	o.allocated.WithLabelValues("slow").Inc()
}
