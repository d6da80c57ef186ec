package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "dollarnow"
	subsystem = "watcher"
)

// Metrics holds the watcher's collectors.
type Metrics struct {
	Fetches        *prometheus.CounterVec
	FetchesDropped *prometheus.CounterVec
	QuoteValue     prometheus.Gauge
	QuoteTimestamp prometheus.Gauge
	AlertsFired    *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	NotifyErrors   *prometheus.CounterVec
	BridgeDropped  *prometheus.CounterVec
	RulesActive    *prometheus.GaugeVec
	Sessions       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_total",
			Help:      "Quote fetch attempts by context and result",
		}, []string{"context", "result"}),
		FetchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_dropped_total",
			Help:      "Ticks and triggers dropped while a fetch was in flight",
		}, []string{"context"}),
		QuoteValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "usd_brl",
			Help:      "Latest USD/BRL quote",
		}),
		QuoteTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "quote_timestamp_seconds",
			Help:      "Unix time of the latest quote",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alerts_fired_total",
			Help:      "Alert rules satisfied by a quote",
		}, []string{"context"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Notifications shown",
		}, []string{"context"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notification_errors_total",
			Help:      "Notifications that could not be shown",
		}, []string{"context"}),
		BridgeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bridge_dropped_total",
			Help:      "Bridge messages dropped because a queue was full",
		}, []string{"type"}),
		RulesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rules_active",
			Help:      "Alert rules currently loaded",
		}, []string{"context"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Attached page sessions",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Fetches,
		m.FetchesDropped,
		m.QuoteValue,
		m.QuoteTimestamp,
		m.AlertsFired,
		m.Notifications,
		m.NotifyErrors,
		m.BridgeDropped,
		m.RulesActive,
		m.Sessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}
