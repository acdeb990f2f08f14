// Package metrics exposes Prometheus metrics for market resolution and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// Manager owns the resolver's collectors and the registry they live on.
type Manager struct {
	namespace   string
	subsystem   string
	buckets     []float64
	constLabels map[string]string
	registry    *prometheus.Registry

	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	payoutVolume       prometheus.Counter
	refunds            prometheus.Counter
	betsSettled        *prometheus.CounterVec
	affinitySkipped    prometheus.Counter
	affinityTruncated  prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a Manager. Without WithRegistry it registers on a new
// registry that also carries the Go runtime and process collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "resolver",
		subsystem: "settlement",
		buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.resolutions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "resolutions_total",
		Help:        "Resolution attempts by outcome (committed, conflict, rejected, failed, preview).",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.resolutionDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "resolution_duration_seconds",
		Help:        "Time spent on a resolution attempt, including the store transaction.",
		Buckets:     m.buckets,
		ConstLabels: labels,
	}, []string{"outcome"})

	m.payoutVolume = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "payout_volume_total",
		Help:        "Sum of committed pools paid out or refunded, in currency units.",
		ConstLabels: labels,
	})

	m.refunds = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "refunded_markets_total",
		Help:        "Committed resolutions whose winning outcome had no stake.",
		ConstLabels: labels,
	})

	m.betsSettled = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "bets_settled_total",
		Help:        "Bets settled by committed resolutions, by side.",
		ConstLabels: labels,
	}, []string{"side"})

	m.affinitySkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "affinity_users_skipped_total",
		Help:        "Correct users left out of taste-match updates by the per-market cap.",
		ConstLabels: labels,
	})

	m.affinityTruncated = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "affinity_truncated_markets_total",
		Help:        "Committed resolutions where the taste-match cap applied.",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "HTTP requests by method, route and status code.",
		ConstLabels: labels,
	}, []string{"method", "route", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "HTTP request latency by route.",
		Buckets:     m.buckets,
		ConstLabels: labels,
	}, []string{"route"})
}

// ResolutionFinished counts one resolution attempt and its duration.
func (m *Manager) ResolutionFinished(outcome string, elapsed time.Duration) {
	m.resolutions.WithLabelValues(outcome).Inc()
	m.resolutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// PayoutsSettled records the pool and bet counts of a committed resolution.
func (m *Manager) PayoutsSettled(summary domain.PayoutSummary) {
	volume, _ := summary.TotalPayouts.Float64()
	m.payoutVolume.Add(volume)
	if summary.Refunded {
		m.refunds.Inc()
	}
	m.betsSettled.WithLabelValues("winner").Add(float64(summary.WinnerCount))
	m.betsSettled.WithLabelValues("loser").Add(float64(summary.LoserCount))
}

// AffinityTruncated records users dropped by the taste-match cap.
func (m *Manager) AffinityTruncated(skipped int) {
	m.affinityTruncated.Inc()
	m.affinitySkipped.Add(float64(skipped))
}

// ObserveHTTP records one served request.
func (m *Manager) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Registry returns the registry holding the metrics.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
