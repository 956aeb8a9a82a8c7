// Package metrics implements MetricsCollector — spec §4.8: configurable
// sinks for query completion, connection open/close, and CDC dispatch,
// backed by a dedicated Prometheus registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// QueryEvent describes one completed query/execute call.
type QueryEvent struct {
	DatabaseID string
	Duration   time.Duration
	Err        error
}

// ConnectionEvent describes a connection lifecycle transition.
type ConnectionEvent struct {
	DatabaseID string
	Opened     bool
}

// CDCDispatchEvent describes one ChangeTracker poll-and-dispatch cycle.
type CDCDispatchEvent struct {
	DatabaseID string
	EventCount int
}

type (
	QuerySink       func(QueryEvent)
	ConnectionSink  func(ConnectionEvent)
	CDCDispatchSink func(CDCDispatchEvent)
)

// Collector is the MetricsCollector — spec §4.8. It always records into its
// own Prometheus registry; additional sinks (used by tests, or to bridge
// into another metrics system) may be registered on top. A Collector with
// no extra sinks still exposes the standard Prometheus series; "no sinks
// configured" in the spec sense refers to these pluggable extras, which add
// zero overhead when unused.
type Collector struct {
	registry *prometheus.Registry

	queryDuration     *prometheus.HistogramVec
	queryErrors       *prometheus.CounterVec
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	cdcDispatched     *prometheus.CounterVec

	mu              sync.RWMutex
	querySinks      []QuerySink
	connectionSinks []ConnectionSink
	cdcSinks        []CDCDispatchSink
}

// New builds a Collector with its own Prometheus registry (mirroring the
// teacher's per-manager registry rather than the global default one).
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sirannon",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query/execute completion latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sirannon",
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Number of query/execute calls that returned an error.",
		}, []string{"database"}),
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sirannon",
			Subsystem: "pool",
			Name:      "connections_opened_total",
			Help:      "Number of pool connections opened.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sirannon",
			Subsystem: "pool",
			Name:      "connections_closed_total",
			Help:      "Number of pool connections closed.",
		}),
		cdcDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sirannon",
			Subsystem: "cdc",
			Name:      "events_dispatched_total",
			Help:      "Number of change events dispatched to subscribers.",
		}, []string{"database"}),
	}

	registry.MustRegister(c.queryDuration, c.queryErrors, c.connectionsOpened, c.connectionsClosed, c.cdcDispatched)
	return c
}

// Registry exposes the underlying Prometheus registry for the /metrics
// HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnQuery, OnConnection, and OnCDCDispatch register additional sinks. Each
// is invoked after the built-in Prometheus series are updated.
func (c *Collector) OnQuery(sink QuerySink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.querySinks = append(c.querySinks, sink)
}

func (c *Collector) OnConnection(sink ConnectionSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionSinks = append(c.connectionSinks, sink)
}

func (c *Collector) OnCDCDispatch(sink CDCDispatchSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cdcSinks = append(c.cdcSinks, sink)
}

// RecordQuery records one completed query/execute call — spec §4.8.
func (c *Collector) RecordQuery(ev QueryEvent) {
	c.queryDuration.WithLabelValues(ev.DatabaseID).Observe(ev.Duration.Seconds())
	if ev.Err != nil {
		c.queryErrors.WithLabelValues(ev.DatabaseID).Inc()
	}

	c.mu.RLock()
	sinks := c.querySinks
	c.mu.RUnlock()
	for _, sink := range sinks {
		safeCall(func() { sink(ev) })
	}
}

// RecordConnectionOpen/RecordConnectionClose record pool connection
// lifecycle transitions — spec §4.8.
func (c *Collector) RecordConnectionOpen(databaseID string) {
	c.connectionsOpened.Inc()
	c.dispatchConnection(ConnectionEvent{DatabaseID: databaseID, Opened: true})
}

func (c *Collector) RecordConnectionClose(databaseID string) {
	c.connectionsClosed.Inc()
	c.dispatchConnection(ConnectionEvent{DatabaseID: databaseID, Opened: false})
}

func (c *Collector) dispatchConnection(ev ConnectionEvent) {
	c.mu.RLock()
	sinks := c.connectionSinks
	c.mu.RUnlock()
	for _, sink := range sinks {
		safeCall(func() { sink(ev) })
	}
}

// RecordCDCDispatch records one ChangeTracker poll-and-dispatch cycle —
// spec §4.8.
func (c *Collector) RecordCDCDispatch(databaseID string, eventCount int) {
	c.cdcDispatched.WithLabelValues(databaseID).Add(float64(eventCount))

	ev := CDCDispatchEvent{DatabaseID: databaseID, EventCount: eventCount}
	c.mu.RLock()
	sinks := c.cdcSinks
	c.mu.RUnlock()
	for _, sink := range sinks {
		safeCall(func() { sink(ev) })
	}
}

// safeCall isolates a sink panic so one broken sink cannot affect the
// operation it is observing — spec §4.8: "Sink exceptions are swallowed."
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("metrics sink panicked")
		}
	}()
	fn()
}
