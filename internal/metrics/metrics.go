// Package metrics exposes Prometheus collectors for the I/O engine: the
// ambient observability layer spec.md §1 keeps external to the connection
// core itself but that a real daemon built around the core always carries,
// grounded on the per-session daemon metrics package in the retrieval
// pack's dantte-lp-gobfd repo.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the engine's Prometheus metrics. Create one with New,
// which registers every collector with the given Registerer, and pass it to
// engine.WithMetrics (this package has no opinion on where metrics are
// served).
type Collectors struct {
	ReadyQueueDepth       prometheus.Gauge
	BackpressureEvents    prometheus.Counter
	CollisionsTotal       prometheus.Counter
	CollisionsRateLimited prometheus.Counter
	ConnectionsOpened     prometheus.Counter
	ConnectionsClosed     prometheus.Counter
}

// New constructs a Collectors set and registers every metric with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ReadyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "ready_queue_depth",
			Help:      "Number of connections currently on the I/O engine's ready queue.",
		}),
		BackpressureEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "backpressure_events_total",
			Help:      "Number of times a connection's write buffer became full.",
		}),
		CollisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "collisions_total",
			Help:      "Number of connection collisions resolved via make_primary.",
		}),
		CollisionsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "collisions_rate_limited_total",
			Help:      "Number of inbound connections dropped by the accept rate limiter.",
		}),
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "connections_opened_total",
			Help:      "Number of connections that completed open().",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpconn",
			Subsystem: "engine",
			Name:      "connections_closed_total",
			Help:      "Number of connections that completed close().",
		}),
	}
	reg.MustRegister(
		c.ReadyQueueDepth,
		c.BackpressureEvents,
		c.CollisionsTotal,
		c.CollisionsRateLimited,
		c.ConnectionsOpened,
		c.ConnectionsClosed,
	)
	return c
}

// The methods below satisfy conn.Metrics and refimpl.Metrics structurally,
// so engine.NewConnection and cmd/bgpconnd can hand a *Collectors straight
// to conn.Connection.SetMetrics / refimpl.New without this package
// importing either.

// BackpressureEvent implements conn.Metrics.
func (c *Collectors) BackpressureEvent() { c.BackpressureEvents.Inc() }

// ConnectionOpened implements conn.Metrics.
func (c *Collectors) ConnectionOpened() { c.ConnectionsOpened.Inc() }

// ConnectionClosed implements conn.Metrics.
func (c *Collectors) ConnectionClosed() { c.ConnectionsClosed.Inc() }

// CollisionResolved implements refimpl.Metrics.
func (c *Collectors) CollisionResolved() { c.CollisionsTotal.Inc() }
