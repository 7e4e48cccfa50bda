package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Upload counters
	ImageUploads    atomic.Uint64
	VideoUploads    atomic.Uint64
	ZoneUploads     atomic.Uint64
	RejectedUploads atomic.Uint64

	// Pipeline counters
	FramesProcessed    atomic.Uint64
	DetectionsReported atomic.Uint64
	PipelineErrors     atomic.Uint64

	// Zone cache
	ZoneCacheHits   atomic.Uint64
	ZoneCacheMisses atomic.Uint64

	// Latency tracking (last observed value)
	InferenceLatencyMs atomic.Uint64
	RequestLatencyMs   atomic.Uint64

	// Live stream clients
	LiveActiveClients atomic.Int64
	LiveTotalClients  atomic.Uint64
	LiveFramesSent    atomic.Uint64
	LiveErrors        atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	counter := func(c *atomic.Uint64) func() float64 {
		return func() float64 { return float64(c.Load()) }
	}

	m.gauge("detection_uploads_image_total", "Total image uploads", counter(&m.ImageUploads))
	m.gauge("detection_uploads_video_total", "Total video uploads", counter(&m.VideoUploads))
	m.gauge("detection_uploads_zone_total", "Total zone-definition uploads", counter(&m.ZoneUploads))
	m.gauge("detection_uploads_rejected_total", "Total uploads rejected as invalid", counter(&m.RejectedUploads))

	m.gauge("detection_frames_processed_total", "Total frames run through the pipeline", counter(&m.FramesProcessed))
	m.gauge("detection_detections_reported_total", "Total detections kept after class and zone filtering", counter(&m.DetectionsReported))
	m.gauge("detection_pipeline_errors_total", "Total requests aborted by a pipeline failure", counter(&m.PipelineErrors))

	m.gauge("detection_zone_cache_hits_total", "Uploads that used a cached zone", counter(&m.ZoneCacheHits))
	m.gauge("detection_zone_cache_misses_total", "Uploads that found no cached zone", counter(&m.ZoneCacheMisses))

	m.gauge("detection_inference_latency_ms", "Latency of the last inference call in milliseconds", counter(&m.InferenceLatencyMs))
	m.gauge("detection_request_latency_ms", "Latency of the last upload request in milliseconds", counter(&m.RequestLatencyMs))

	m.gauge("detection_live_active_clients", "Number of connected live stream clients",
		func() float64 { return float64(m.LiveActiveClients.Load()) })
	m.gauge("detection_live_total_clients", "Total live stream clients connected", counter(&m.LiveTotalClients))
	m.gauge("detection_live_frames_sent_total", "Total live frames sent", counter(&m.LiveFramesSent))
	m.gauge("detection_live_errors_total", "Total live stream source failures", counter(&m.LiveErrors))
}

// WatchInferenceSessions exports the number of busy inference sessions.
func (m *Metrics) WatchInferenceSessions(inUse func() int64) {
	m.gauge("detection_inference_sessions_in_use", "Inference sessions currently running",
		func() float64 { return float64(inUse()) })
}

// UpdateInferenceLatency records the duration of one inference call
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateRequestLatency records the duration of one upload request
func (m *Metrics) UpdateRequestLatency(d time.Duration) {
	m.RequestLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on a dedicated listener
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
