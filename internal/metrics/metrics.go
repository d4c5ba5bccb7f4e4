package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ad decision engine.
type Metrics struct {
	// Serve path
	ServeRequests *prometheus.CounterVec
	ServeOutcomes *prometheus.CounterVec
	ServeLatency  *prometheus.HistogramVec

	// Eligibility filtering
	TargetingMisses    *prometheus.CounterVec
	ScheduleRejections prometheus.Counter
	FreqCapSuppressed  prometheus.Counter

	// Track path
	TrackedEvents *prometheus.CounterVec
	DedupeHits    prometheus.Counter
	TrackFailures *prometheus.CounterVec

	// Retention
	PurgedEvents prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ServeRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serve_requests_total",
				Help:      "Total number of ad serve requests",
			},
			[]string{"placement"},
		),
		ServeOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serve_outcomes_total",
				Help:      "Serve outcomes by reason (served, no_campaign, freq_capped, no_variant, error)",
			},
			[]string{"placement", "outcome"},
		),
		ServeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "serve_latency_seconds",
				Help:      "Ad decision latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"outcome"},
		),
		TargetingMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targeting_misses_total",
				Help:      "Campaigns rejected by targeting, by failed dimension",
			},
			[]string{"dimension"},
		),
		ScheduleRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_rejections_total",
				Help:      "Campaigns rejected because they are outside their schedule window",
			},
		),
		FreqCapSuppressed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frequency_suppressions_total",
				Help:      "Serves suppressed by frequency capping",
			},
		),
		TrackedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracked_events_total",
				Help:      "Recorded ad events by type",
			},
			[]string{"type"},
		),
		DedupeHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_dedupe_hits_total",
				Help:      "Track calls dropped as duplicates of an existing dedupe key",
			},
		),
		TrackFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "track_failures_total",
				Help:      "Track calls rejected, by reason (not_found, invalid_type, storage)",
			},
			[]string{"reason"},
		),
		PurgedEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_events_total",
				Help:      "Events removed by the retention sweeper",
			},
		),
	}
}

// RecordTargetingMiss increments the targeting miss counter.
func (m *Metrics) RecordTargetingMiss(dimension string) {
	if m == nil {
		return
	}
	m.TargetingMisses.WithLabelValues(dimension).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
