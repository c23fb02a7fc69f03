package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collection results.
const (
	ResultOK            = "ok"
	ResultProviderError = "provider_error"
	ResultStoreError    = "store_error"
)

var (
	// Collection metrics
	CollectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_collections_total",
		Help: "Collection attempts by location and result",
	}, []string{"location", "result"})
	ReadingsStoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_readings_stored_total",
		Help: "Readings committed to the store by source",
	}, []string{"source"})
	CollectionCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwatch_collection_cycle_seconds",
		Help:    "Duration of a full scheduled collection cycle",
		Buckets: prometheus.DefBuckets,
	})

	// Forecast metrics
	ForecastDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airwatch_forecast_duration_seconds",
		Help:    "Time spent fitting and projecting a forecast",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	}, []string{"strategy"})

	// Stream metrics
	StreamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airwatch_stream_subscribers",
		Help: "Currently connected stream subscribers",
	})
	StreamEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_stream_events_total",
		Help: "Outbound stream events by type",
	}, []string{"type"})
	StreamDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwatch_stream_dropped_subscribers_total",
		Help: "Subscribers removed after a failed or blocked delivery",
	}, []string{"reason"})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all Prometheus collectors used by the application.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CollectionsTotal,
			ReadingsStoredTotal,
			CollectionCycleSeconds,
			ForecastDurationSeconds,
			StreamSubscribers,
			StreamEventsTotal,
			StreamDroppedTotal,
		)
	})
}

// Handler returns an HTTP handler that exposes the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCollection(location, result string) {
	CollectionsTotal.WithLabelValues(location, result).Inc()
}

func ObserveStored(source string) {
	ReadingsStoredTotal.WithLabelValues(source).Inc()
}

func ObserveCycle(start time.Time) {
	CollectionCycleSeconds.Observe(time.Since(start).Seconds())
}

func ObserveForecast(strategy string, start time.Time) {
	ForecastDurationSeconds.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

func ObserveEvent(eventType string) {
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

func ObserveDropped(reason string) {
	StreamDroppedTotal.WithLabelValues(reason).Inc()
}
