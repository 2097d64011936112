package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	OutcomeUploaded     = "uploaded"
	OutcomeEmpty        = "empty"
	OutcomeUnauthorized = "unauthorized"
	OutcomeFailed       = "failed"
)

// Metrics holds the session host's Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Upload cycle metrics
	UploadsTotal    *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	LastUploadTime  prometheus.Gauge
	RecordsUploaded prometheus.Counter

	// Cache metrics
	RecordsCollected prometheus.Counter
	RecordsCached    *prometheus.GaugeVec

	// Plugin metrics
	PluginsConnected prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_uploads_total",
				Help: "Upload cycles by outcome",
			},
			[]string{"outcome"},
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "host_upload_duration_seconds",
				Help:    "Duration of upload cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		LastUploadTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_last_upload_timestamp_seconds",
				Help: "Unix time of the last successful upload",
			},
		),
		RecordsUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "host_records_uploaded_total",
				Help: "Records sent to the server",
			},
		),
		RecordsCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "host_records_collected_total",
				Help: "Records collected from connected plugins",
			},
		),
		RecordsCached: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "host_records_cached",
				Help: "Records waiting in the cache per topic",
			},
			[]string{"topic"},
		),
		PluginsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_plugins_connected",
				Help: "Source plugins currently connected",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.UploadsTotal)
	m.registry.MustRegister(m.UploadDuration)
	m.registry.MustRegister(m.LastUploadTime)
	m.registry.MustRegister(m.RecordsUploaded)
	m.registry.MustRegister(m.RecordsCollected)
	m.registry.MustRegister(m.RecordsCached)
	m.registry.MustRegister(m.PluginsConnected)
}

// ObserveUpload records one upload cycle that ended with outcome.
func (m *Metrics) ObserveUpload(outcome string, records int64, duration time.Duration) {
	m.UploadsTotal.WithLabelValues(outcome).Inc()
	m.UploadDuration.Observe(duration.Seconds())
	if outcome == OutcomeUploaded {
		m.RecordsUploaded.Add(float64(records))
		m.LastUploadTime.SetToCurrentTime()
	}
}

// SetCached replaces the per-topic cache gauges.
func (m *Metrics) SetCached(counts map[string]int64) {
	m.RecordsCached.Reset()
	for topic, n := range counts {
		m.RecordsCached.WithLabelValues(topic).Set(float64(n))
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
