package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	documentsTotal  *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	matchSimilarity prometheus.Histogram
	confidence      *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	reviewsTotal    *prometheus.CounterVec
	queueItems      *prometheus.GaugeVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "pipeline",
			Name:        "documents_total",
			Help:        "Documents that left the pipeline by final status and tier.",
			ConstLabels: constLabels,
		},
		[]string{"status", "tier"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Duration of each pipeline stage in seconds.",
			Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "pipeline",
			Name:        "in_flight",
			Help:        "Documents currently being processed.",
			ConstLabels: constLabels,
		},
	)
	matchSimilarity := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "matcher",
			Name:        "best_similarity",
			Help:        "Similarity of the top ranked template per document.",
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
			ConstLabels: constLabels,
		},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "scoring",
			Name:        "confidence",
			Help:        "Overall confidence score by tier.",
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
			ConstLabels: constLabels,
		},
		[]string{"tier"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "resilience",
			Name:        "retries_total",
			Help:        "Retries of calls to external dependencies by operation.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "review",
			Name:        "completed_total",
			Help:        "Completed reviews by review type.",
			ConstLabels: constLabels,
		},
		[]string{"review_type"},
	)
	queueItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "queue",
			Name:        "items",
			Help:        "Queue items by status at the last poll.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)

	registry.MustRegister(
		documentsTotal,
		stageDuration,
		inFlight,
		matchSimilarity,
		confidence,
		retriesTotal,
		reviewsTotal,
		queueItems,
	)

	return &PipelineMetrics{
		registry:        registry,
		documentsTotal:  documentsTotal,
		stageDuration:   stageDuration,
		inFlight:        inFlight,
		matchSimilarity: matchSimilarity,
		confidence:      confidence,
		retriesTotal:    retriesTotal,
		reviewsTotal:    reviewsTotal,
		queueItems:      queueItems,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took. Nil receivers are no-ops so
// callers never need to guard.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *PipelineMetrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *PipelineMetrics) Finished(status, tier string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	if tier == "" {
		tier = "none"
	}
	m.documentsTotal.WithLabelValues(status, tier).Inc()
}

func (m *PipelineMetrics) ObserveMatch(similarity float64) {
	if m == nil {
		return
	}
	m.matchSimilarity.Observe(similarity)
}

func (m *PipelineMetrics) ObserveConfidence(tier string, score float64) {
	if m == nil {
		return
	}
	m.confidence.WithLabelValues(tier).Observe(score)
}

func (m *PipelineMetrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *PipelineMetrics) ReviewCompleted(reviewType string) {
	if m == nil {
		return
	}
	m.reviewsTotal.WithLabelValues(reviewType).Inc()
}

// SetQueueCounts replaces the per-status gauge values.
func (m *PipelineMetrics) SetQueueCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.queueItems.Reset()
	for status, n := range counts {
		m.queueItems.WithLabelValues(status).Set(float64(n))
	}
}
