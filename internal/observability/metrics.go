package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quakecast"

// Metrics holds the Prometheus collectors for ingestion, forecasting and reads.
type Metrics struct {
	FeedFetches      *prometheus.CounterVec // labels: outcome={success,error}
	EventsStored     prometheus.Counter
	Notifications    *prometheus.CounterVec // labels: sink, outcome={success,error}
	BroadcastDropped prometheus.Counter

	ForecastRuns     *prometheus.CounterVec // labels: outcome
	ForecastDuration prometheus.Histogram
	ForecastRecords  prometheus.Gauge

	GeocodeLookups *prometheus.CounterVec // labels: geocoder, outcome={success,error,empty}
	GeocodeCache   *prometheus.CounterVec // labels: result={hit,miss}

	ReadModelFallbacks prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Live feed fetches by outcome.",
		}, []string{"outcome"}),
		EventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Observed events newly stored.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "New-event notifications by sink and outcome.",
		}, []string{"sink", "outcome"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Live stream deliveries skipped because a subscriber was too slow.",
		}),
		ForecastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_runs_total",
			Help:      "Forecast runs by outcome.",
		}, []string{"outcome"}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_run_duration_seconds",
			Help:      "Duration of forecast runs that reached the model.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ForecastRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_records",
			Help:      "Forecast records published by the last successful run.",
		}),
		GeocodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_lookups_total",
			Help:      "Reverse geocode lookups by geocoder and outcome.",
		}, []string{"geocoder", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocode cache lookups by result.",
		}, []string{"result"}),
		ReadModelFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readmodel_fallbacks_total",
			Help:      "Read requests served from last-known-good values.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FeedFetches,
		m.EventsStored,
		m.Notifications,
		m.BroadcastDropped,
		m.ForecastRuns,
		m.ForecastDuration,
		m.ForecastRecords,
		m.GeocodeLookups,
		m.GeocodeCache,
		m.ReadModelFallbacks,
	)
	return m
}

// NewMetricsForTesting returns unregistered metrics so tests can create as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
