package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pastel network metrics and satisfies
// pastelnet.Metrics.
type Collector struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	Networks      prometheus.Gauge
	Nodes         prometheus.Gauge
	Transmissions *prometheus.CounterVec
	Topology      *prometheus.CounterVec
	Edits         *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	Expired       prometheus.Counter
	Connections   prometheus.Gauge
}

// New registers every metric against reg, or the default registry when reg
// is nil. Registering twice on one registry reuses the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{reg: reg, gatherer: gatherer}

	var err error
	if c.Networks, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pastel_networks",
		Help: "Live pastel networks.",
	})); err != nil {
		return nil, err
	}
	if c.Nodes, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pastel_nodes",
		Help: "Nodes owned by any network.",
	})); err != nil {
		return nil, err
	}
	if c.Transmissions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pastel_transmissions_total",
		Help: "Transmissions by outcome: enqueued, delivered or undeliverable.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.Topology, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pastel_topology_changes_total",
		Help: "Network merges and splits.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.Edits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pastel_edits_total",
		Help: "Applied edits by op and result.",
	}, []string{"op", "result"})); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pastel_tick_duration_seconds",
		Help:    "Wall time of one simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})); err != nil {
		return nil, err
	}
	if c.Expired, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pastel_expired_total",
		Help: "Transmissions whose countdown reached zero.",
	})); err != nil {
		return nil, err
	}
	if c.Connections, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pastel_ws_connections",
		Help: "Open websocket connections (edit and observer).",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}

// WatchQueue exports depth as pastel_queue_depth{queue=name}, sampled on
// every scrape.
func (c *Collector) WatchQueue(name string, depth func() int) error {
	_, err := register(c.reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "pastel_queue_depth",
		Help:        "Items waiting in a background queue.",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(depth()) }))
	return err
}

// Handler serves the registry this collector was created on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) SetTopology(networks, nodes int) {
	c.Networks.Set(float64(networks))
	c.Nodes.Set(float64(nodes))
}

func (c *Collector) Enqueued() {
	c.Transmissions.WithLabelValues("enqueued").Inc()
}

func (c *Collector) Delivered(ok bool) {
	if ok {
		c.Transmissions.WithLabelValues("delivered").Inc()
		return
	}
	c.Transmissions.WithLabelValues("undeliverable").Inc()
}

func (c *Collector) Merged() { c.Topology.WithLabelValues("merge").Inc() }
func (c *Collector) Split()  { c.Topology.WithLabelValues("split").Inc() }

func (c *Collector) EditApplied(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	c.Edits.WithLabelValues(op, result).Inc()
}

func (c *Collector) ObserveTick(d time.Duration, expired int) {
	c.TickDuration.Observe(d.Seconds())
	if expired > 0 {
		c.Expired.Add(float64(expired))
	}
}

func (c *Collector) ConnOpened() { c.Connections.Inc() }
func (c *Collector) ConnClosed() { c.Connections.Dec() }
