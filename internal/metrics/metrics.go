// Package metrics exposes per-connection naia runtime statistics as a
// Prometheus collector, pulled on scrape rather than pushed on every
// tick — the same registration/Describe/Collect shape used for
// per-socket TCP_INFO stats, adapted from gauges tied to a live
// connection's fd to gauges tied to a live connection's tick-driven
// state.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is one connection's metrics as of the moment Collect asks
// for them.
type Snapshot struct {
	RTTSeconds       float64
	JitterSeconds    float64
	PacketLoss       float64 // 0.0-1.0, fraction of sent packets dropped
	ReliableBuffered int     // messages awaiting ACK across all reliable channels
	EntitiesInScope  int
	PendingActions   int
}

// Sampler pulls a live Snapshot for one connection at scrape time. It
// is called with the collector's mutex held, so it must not block on
// anything that could itself wait on the collector (e.g. another
// Collect call).
type Sampler func() Snapshot

type registration struct {
	labelValues []string
	sample      Sampler
}

type desc struct {
	description *prometheus.Desc
	supplier    func(s Snapshot, labelValues []string) prometheus.Metric
}

// Collector is a prometheus.Collector that reports Snapshot gauges for
// every currently registered connection.
type Collector struct {
	mu    sync.Mutex
	conns map[string]registration
	descs []desc
}

// NewCollector returns a Collector with connectionLabels as the label
// names supplied per connection (e.g. "connection_id", "room") and
// constLabels applied to every metric (e.g. a server instance name).
func NewCollector(connectionLabels []string, constLabels prometheus.Labels) *Collector {
	c := &Collector{conns: make(map[string]registration)}
	c.addDescs(connectionLabels, constLabels)
	return c
}

func (c *Collector) addDescs(labels []string, constLabels prometheus.Labels) {
	add := func(name, help string, value func(s Snapshot) float64) {
		d := prometheus.NewDesc("naia_"+name, help, labels, constLabels)
		c.descs = append(c.descs, desc{
			description: d,
			supplier: func(s Snapshot, labelValues []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(d, prometheus.GaugeValue, value(s), labelValues...)
			},
		})
	}
	add("rtt_seconds", "Smoothed round-trip time estimate.", func(s Snapshot) float64 { return s.RTTSeconds })
	add("jitter_seconds", "Smoothed tick-duration jitter.", func(s Snapshot) float64 { return s.JitterSeconds })
	add("packet_loss_ratio", "Fraction of sent packets dropped, most recent window.", func(s Snapshot) float64 { return s.PacketLoss })
	add("reliable_buffered_messages", "Messages awaiting ACK across reliable channels.", func(s Snapshot) float64 { return float64(s.ReliableBuffered) })
	add("entities_in_scope", "Entities currently in this connection's replicated scope.", func(s Snapshot) float64 { return float64(s.EntitiesInScope) })
	add("pending_actions", "Entity actions buffered awaiting delivery order.", func(s Snapshot) float64 { return float64(s.PendingActions) })
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(out chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		out <- d.description
	}
}

// Collect implements prometheus.Collector: it samples every registered
// connection and emits one metric per descriptor per connection.
func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, reg := range c.conns {
		snap := reg.sample()
		for _, d := range c.descs {
			out <- d.supplier(snap, reg.labelValues)
		}
	}
}

// Register adds a connection to be scraped, identified by id (used only
// to look it up for Unregister — it is not itself a label unless
// included in labelValues).
func (c *Collector) Register(id string, labelValues []string, sample Sampler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = registration{labelValues: labelValues, sample: sample}
}

// Unregister removes a connection, e.g. once it disconnects.
func (c *Collector) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

var _ prometheus.Collector = (*Collector)(nil)
