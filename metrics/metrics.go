// Package metrics exports the client's attempt and connectivity counters to Prometheus.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	attempts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	failovers *prometheus.CounterVec
	calls     *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewCollector creates the collectors under namespace and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_attempts_total",
			Help:      "JSON-RPC attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_attempt_duration_seconds",
			Help:      "Duration of single JSON-RPC attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_failovers_total",
			Help:      "Moves of the active endpoint after a failed attempt.",
		}, []string{"from", "to"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Logical calls by method and outcome.",
		}, []string{"method", "outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_connected",
			Help:      "1 if the last call reached a node, 0 after retries were exhausted.",
		}),
	}

	for _, col := range []prometheus.Collector{c.attempts, c.latency, c.failovers, c.calls, c.connected} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveAttempt(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(endpoint, outcome).Inc()
	c.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (c *Collector) Failover(from, to string) {
	if c == nil {
		return
	}
	c.failovers.WithLabelValues(from, to).Inc()
}

func (c *Collector) CallDone(method, outcome string) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) SetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}
