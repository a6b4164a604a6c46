// internal/telemetry/metrics.go

// Package telemetry exposes the coordination layer's operational state as
// Prometheus collectors. Counters and histograms are fed from bus events;
// point-in-time values are read through scrape-time callbacks so the
// owning component keeps its state private.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Sources are the scrape-time callbacks for state owned elsewhere. Nil
// callbacks are simply not registered.
type Sources struct {
	ActiveSubscriptions func() int
	QueueDepth          func() int
	MemoryBytes         func() int64
	BusListeners        func() int
	RetrySuccesses      func() int
	RetryFailures       func() int
}

// Metrics is the collector set for one coordination layer instance.
type Metrics struct {
	registry *prometheus.Registry

	syncSuccess   *prometheus.CounterVec
	syncErrors    *prometheus.CounterVec
	updates       prometheus.Counter
	invalidations prometheus.Counter
	refreshes     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	foregrounds   prometheus.Counter
	durations     *prometheus.HistogramVec

	listeners []*bus.Listener
}

// New builds the collector set, registers it on a private registry, and
// wires the event-driven collectors to b.
func New(b *bus.Bus, src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoguardian_sync_success_total",
			Help: "Completed sync operations by operation name.",
		}, []string{"operation"}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoguardian_sync_errors_total",
			Help: "Classified sync failures by taxonomy type and operation.",
		}, []string{"type", "operation"}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguardian_location_updates_total",
			Help: "Location updates fanned out to subscribers.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguardian_cache_invalidations_total",
			Help: "Cache invalidation broadcasts.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoguardian_refresh_requests_total",
			Help: "Subscription refresh requests by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoguardian_network_transitions_total",
			Help: "Network state transitions observed by the recovery queue.",
		}, []string{"state"}),
		foregrounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguardian_app_foreground_total",
			Help: "Transitions of the app into the foreground.",
		}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoguardian_operation_duration_seconds",
			Help:    "Timed operation durations by category.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category", "success"}),
	}

	m.registry.MustRegister(
		m.syncSuccess, m.syncErrors, m.updates, m.invalidations,
		m.refreshes, m.transitions, m.foregrounds, m.durations,
	)
	m.registerSources(src)
	m.wire(b)
	return m
}

func (m *Metrics) registerSources(src Sources) {
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
	}
	counter := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn))
	}

	if fn := src.ActiveSubscriptions; fn != nil {
		gauge("geoguardian_active_subscriptions", "Live realtime subscriptions.", func() float64 { return float64(fn()) })
	}
	if fn := src.QueueDepth; fn != nil {
		gauge("geoguardian_recovery_queue_depth", "Operations waiting in the recovery queue.", func() float64 { return float64(fn()) })
	}
	if fn := src.MemoryBytes; fn != nil {
		gauge("geoguardian_memory_estimate_bytes", "Estimated coordination-layer memory footprint.", func() float64 { return float64(fn()) })
	}
	if fn := src.BusListeners; fn != nil {
		gauge("geoguardian_bus_listeners", "Registered event bus listeners.", func() float64 { return float64(fn()) })
	}
	if fn := src.RetrySuccesses; fn != nil {
		counter("geoguardian_retry_successes_total", "Operations that recovered within their retry budget.", func() float64 { return float64(fn()) })
	}
	if fn := src.RetryFailures; fn != nil {
		counter("geoguardian_retry_failures_total", "Operations that exhausted their retry budget.", func() float64 { return float64(fn()) })
	}
}

func (m *Metrics) wire(b *bus.Bus) {
	on := func(name types.EventName, fn func(types.Event)) {
		m.listeners = append(m.listeners, b.On(name, fn))
	}

	on(types.EventSyncSuccess, func(e types.Event) {
		if status, ok := e.Payload.(types.SyncStatus); ok {
			m.syncSuccess.WithLabelValues(status.Operation).Inc()
		}
	})
	on(types.EventSyncError, func(e types.Event) {
		if notice, ok := e.Payload.(types.ErrorNotice); ok {
			m.syncErrors.WithLabelValues(notice.Type, notice.Operation).Inc()
		}
	})
	on(types.EventConnectionUpdated, func(types.Event) { m.updates.Inc() })
	on(types.EventCacheInvalidated, func(types.Event) { m.invalidations.Inc() })
	on(types.EventSyncRefreshRequired, func(e types.Event) {
		reason := "unknown"
		if req, ok := e.Payload.(types.SyncRefreshRequest); ok && req.Reason != "" {
			reason = req.Reason
		}
		m.refreshes.WithLabelValues(reason).Inc()
	})
	on(types.EventNetworkChanged, func(e types.Event) {
		state := "connected"
		if cs, ok := e.Payload.(types.ConnectivityState); ok && !cs.Connected {
			state = "disconnected"
		}
		m.transitions.WithLabelValues(state).Inc()
	})
	on(types.EventAppStateChanged, func(types.Event) { m.foregrounds.Inc() })
	on(types.EventPerformanceMetric, func(e types.Event) {
		metric, ok := e.Payload.(types.PerformanceMetric)
		if !ok {
			return
		}
		success := "true"
		if !metric.Success {
			success = "false"
		}
		m.durations.WithLabelValues(metric.Category, success).Observe(metric.Duration.Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for composition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Close detaches the bus listeners. Idempotent.
func (m *Metrics) Close() {
	for _, l := range m.listeners {
		l.Unsubscribe()
	}
	m.listeners = nil
}
