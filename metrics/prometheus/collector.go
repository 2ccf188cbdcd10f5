package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/nodedb"
)

var _ nodedb.MetricsCollector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
	labels    prometheus.Labels
}

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithBuckets overrides the latency histogram buckets.
func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// WithConstLabels attaches constant labels to every metric, e.g. a
// database name when several DBs share a registry.
func WithConstLabels(l prometheus.Labels) Option {
	return func(o *options) { o.labels = l }
}

// Collector implements nodedb.MetricsCollector on top of Prometheus
// client metrics.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	dumpLatency *prometheus.HistogramVec
	dumpBytes   *prometheus.CounterVec
	dumps       *prometheus.CounterVec
	expired     prometheus.Counter
	pending     prometheus.Gauge
	evictBlocks prometheus.Counter
	evictNodes  prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
// It panics if registration fails, like prometheus.MustRegister.
func NewCollector(reg prometheus.Registerer, opts ...Option) *Collector {
	o := options{namespace: "nodedb", buckets: prometheus.DefBuckets}
	for _, fn := range opts {
		fn(&o)
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "operation_latency_seconds",
			Help:        "Latency of node operations",
			Buckets:     o.buckets,
			ConstLabels: o.labels,
		}, []string{"op", "status"}),
		dumpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "dump_latency_seconds",
			Help:        "Latency of dump writes and reads",
			Buckets:     o.buckets,
			ConstLabels: o.labels,
		}, []string{"op", "kind", "status"}),
		dumpBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "dump_bytes_total",
			Help:        "Bytes written and read by successful dumps",
			ConstLabels: o.labels,
		}, []string{"op", "kind"}),
		dumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "dumps_total",
			Help:        "Dump writes and reads",
			ConstLabels: o.labels,
		}, []string{"op", "kind", "status"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "expirations_fired_total",
			Help:        "Expiration tokens fired",
			ConstLabels: o.labels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "expirations_pending",
			Help:        "Expiration tokens waiting to fire",
			ConstLabels: o.labels,
		}),
		evictBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "evicted_blocks_total",
			Help:        "Blocks unloaded from memory",
			ConstLabels: o.labels,
		}),
		evictNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "evicted_nodes_total",
			Help:        "Nodes unloaded from memory",
			ConstLabels: o.labels,
		}),
	}

	reg.MustRegister(
		c.opLatency,
		c.dumpLatency,
		c.dumpBytes,
		c.dumps,
		c.expired,
		c.pending,
		c.evictBlocks,
		c.evictNodes,
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) RecordUpsert(d time.Duration, err error) {
	c.opLatency.WithLabelValues("upsert", status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordFind(d time.Duration, err error) {
	c.opLatency.WithLabelValues("find", status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordDelete(d time.Duration, err error) {
	c.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordSave(kind string, bytes int, d time.Duration, err error) {
	c.recordDump("save", kind, bytes, d, err)
}

func (c *Collector) RecordLoad(kind string, bytes int, d time.Duration, err error) {
	c.recordDump("load", kind, bytes, d, err)
}

func (c *Collector) recordDump(op, kind string, bytes int, d time.Duration, err error) {
	s := status(err)
	c.dumps.WithLabelValues(op, kind, s).Inc()
	c.dumpLatency.WithLabelValues(op, kind, s).Observe(d.Seconds())
	if err == nil {
		c.dumpBytes.WithLabelValues(op, kind).Add(float64(bytes))
	}
}

func (c *Collector) RecordExpire(fired, pending int) {
	c.expired.Add(float64(fired))
	c.pending.Set(float64(pending))
}

func (c *Collector) RecordEvict(blocks, nodes int) {
	c.evictBlocks.Add(float64(blocks))
	c.evictNodes.Add(float64(nodes))
}
