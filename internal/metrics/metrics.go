// Package metrics exposes kiosk counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the kiosk collectors.
type Metrics struct {
	DetectionTicks   *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	CameraFailures   *prometheus.CounterVec
	SubmitLatency    prometheus.Histogram
	FacePresent      prometheus.Gauge
	CameraGeneration prometheus.Gauge
	PreviewClients   prometheus.Gauge
	EventsRecorded   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		DetectionTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_detection_ticks_total",
			Help: "Detection poll ticks by result (face, none, skipped reason, error)",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_submissions_total",
			Help: "Attendance submissions by feedback key",
		}, []string{"key"}),
		CameraFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_camera_failures_total",
			Help: "Camera acquisition failures by kind",
		}, []string{"kind"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiosk_submit_duration_seconds",
			Help:    "Time from trigger to attendance API response",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}),
		FacePresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiosk_face_present",
			Help: "1 while a face is in frame",
		}),
		CameraGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiosk_camera_generation",
			Help: "Number of camera sessions opened since start",
		}),
		PreviewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiosk_preview_clients",
			Help: "Connected MJPEG preview viewers",
		}),
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiosk_events_recorded_total",
			Help: "Journal events processed by the worker, by outcome",
		}, []string{"outcome"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.DetectionTicks,
		m.Submissions,
		m.CameraFailures,
		m.SubmitLatency,
		m.FacePresent,
		m.CameraGeneration,
		m.PreviewClients,
		m.EventsRecorded,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveSubmission counts one submission outcome.
func (m *Metrics) ObserveSubmission(key string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(key).Inc()
	if latency > 0 {
		m.SubmitLatency.Observe(latency.Seconds())
	}
}

// ObserveTick counts one detection tick.
func (m *Metrics) ObserveTick(result string, present bool) {
	if m == nil {
		return
	}
	m.DetectionTicks.WithLabelValues(result).Inc()
	if present {
		m.FacePresent.Set(1)
	} else {
		m.FacePresent.Set(0)
	}
}

// ObserveCameraFailure counts an acquisition failure.
func (m *Metrics) ObserveCameraFailure(kind string) {
	if m == nil {
		return
	}
	m.CameraFailures.WithLabelValues(kind).Inc()
}

// SetGeneration records the current camera session generation.
func (m *Metrics) SetGeneration(gen int) {
	if m == nil {
		return
	}
	m.CameraGeneration.Set(float64(gen))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
