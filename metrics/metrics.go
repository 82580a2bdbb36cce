// Package metrics defines the Prometheus metrics of the crawl, sweep and digest jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "estate"

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	ListingsTotal      *prometheus.CounterVec
	CrawlDuration      *prometheus.HistogramVec
	SweepDeletedTotal  *prometheus.CounterVec
	SweepKeptTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	JobRunsTotal       *prometheus.CounterVec
	JobRunning         *prometheus.GaugeVec
}

// New creates and registers all metrics. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ListingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "listings_total",
				Help:      "Listings processed by the crawl, by reconciliation outcome",
			},
			[]string{"source", "outcome"},
		),
		CrawlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "duration_seconds",
				Help:      "Duration of one source crawl in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9h
			},
			[]string{"source"},
		),
		SweepDeletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "deleted_total",
				Help:      "Listings deleted by the sweep",
			},
			[]string{"source", "reason"},
		),
		SweepKeptTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "kept_total",
				Help:      "Sweep candidates kept",
			},
			[]string{"source", "reason"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "messages_total",
				Help:      "Notification sends by channel and result",
			},
			[]string{"channel", "status"},
		),
		JobRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "runs_total",
				Help:      "Job runs by trigger result",
			},
			[]string{"job", "status"},
		),
		JobRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "job",
				Name:      "running",
				Help:      "1 while the job is running",
			},
			[]string{"job"},
		),
	}
}

// ObserveCrawl records the duration of a source crawl.
func (m *Metrics) ObserveCrawl(source string, d time.Duration) {
	m.CrawlDuration.WithLabelValues(source).Observe(d.Seconds())
}
