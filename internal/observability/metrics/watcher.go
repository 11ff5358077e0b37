package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WatcherMetrics struct {
	registry *prometheus.Registry

	renamesTotal  *prometheus.CounterVec
	forwardsTotal *prometheus.CounterVec
	retriesTotal  prometheus.Counter
	inFlight      prometheus.Gauge
	scansTotal    *prometheus.CounterVec
}

func NewWatcherMetrics(service string) *WatcherMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	renamesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "watcher",
			Name:        "renames_total",
			Help:        "Ready-prefix renames by outcome (ok, collision, error).",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	forwardsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "watcher",
			Name:        "forwards_total",
			Help:        "Documents handed to the intake service by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "watcher",
			Name:        "forward_retries_total",
			Help:        "Retried hand-offs to the intake service.",
			ConstLabels: constLabels,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "watcher",
			Name:        "in_flight",
			Help:        "Hand-offs currently in flight.",
			ConstLabels: constLabels,
		},
	)
	scansTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "watcher",
			Name:        "scan_findings_total",
			Help:        "Files found by directory scans by kind (new, orphan, stale).",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)

	registry.MustRegister(renamesTotal, forwardsTotal, retriesTotal, inFlight, scansTotal)

	return &WatcherMetrics{
		registry:      registry,
		renamesTotal:  renamesTotal,
		forwardsTotal: forwardsTotal,
		retriesTotal:  retriesTotal,
		inFlight:      inFlight,
		scansTotal:    scansTotal,
	}
}

func (m *WatcherMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WatcherMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WatcherMetrics) Rename(outcome string) {
	if m == nil {
		return
	}
	m.renamesTotal.WithLabelValues(outcome).Inc()
}

func (m *WatcherMetrics) Forward(outcome string) {
	if m == nil {
		return
	}
	m.forwardsTotal.WithLabelValues(outcome).Inc()
}

func (m *WatcherMetrics) Retry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *WatcherMetrics) Begin() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *WatcherMetrics) End() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *WatcherMetrics) ScanFinding(kind string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(kind).Inc()
}
