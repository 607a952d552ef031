// Package metrics exports server and replication metrics to Prometheus and
// serves them, together with health and INFO output, over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector records metrics on a private registry, so several servers in
// one process do not collide
type Collector struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	networkBytes    prometheus.Counter
	errors          *prometheus.CounterVec
	connections     prometheus.Gauge
	reconnections   prometheus.Counter
	syncDuration    prometheus.Histogram
	keys            prometheus.Gauge
}

// NewCollector creates a collector whose metric names start with namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_processed_total",
			Help:      "Total number of commands processed by command name",
		}, []string{"cmd"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency in seconds by command name",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"cmd"}),

		networkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_bytes_total",
			Help:      "Total number of request and replication bytes received",
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		}, []string{"type"}),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of client connections currently open",
		}),

		reconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_reconnections_total",
			Help:      "Total number of reconnections to the primary",
		}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replication_sync_duration_seconds",
			Help:      "Duration of full synchronizations with the primary",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Number of keys in the keyspace",
		}),
	}

	c.registry.MustRegister(
		c.commands,
		c.commandDuration,
		c.networkBytes,
		c.errors,
		c.connections,
		c.reconnections,
		c.syncDuration,
		c.keys,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the registry the collector's metrics live in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordCommandProcessed(cmd string, duration time.Duration) {
	c.commands.WithLabelValues(cmd).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *Collector) RecordNetworkBytes(bytes int64) {
	if bytes > 0 {
		c.networkBytes.Add(float64(bytes))
	}
}

func (c *Collector) RecordError(errorType string) {
	c.errors.WithLabelValues(errorType).Inc()
}

// RecordConnection adjusts the open connection gauge by delta
func (c *Collector) RecordConnection(delta int) {
	c.connections.Add(float64(delta))
}

func (c *Collector) RecordReconnection() {
	c.reconnections.Inc()
}

func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordKeyCount(count int64) {
	c.keys.Set(float64(count))
}
