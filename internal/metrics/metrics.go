package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all detector metrics
type Metrics struct {
	// Frame counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesFailed    atomic.Uint64

	// Detection counters
	DetectionsDecoded atomic.Uint64
	DetectionsKept    atomic.Uint64 // after suppression
	DetectionsEmitted atomic.Uint64 // after merge

	// Dispatch counters
	DispatchAccepted   atomic.Uint64
	DispatchDuplicates atomic.Uint64
	DispatchBusy       atomic.Uint64
	DispatchSent       atomic.Uint64
	DispatchFailed     atomic.Uint64
	CropErrors         atomic.Uint64

	// Journal
	JournalWritten atomic.Uint64
	JournalDropped atomic.Uint64

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // capture to processing start
	ProcessLatencyMs atomic.Uint64 // full pipeline pass
	UploadLatencyMs  atomic.Uint64 // last upload round trip

	fpsBits atomic.Uint64

	// Prometheus collectors
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

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.gauge(name, help, func() float64 { return float64(v.Load()) })
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("detector_frames_read_total", "Total frames received from the frame source", &m.FramesRead)
	m.counter("detector_frames_processed_total", "Total frames run through the pipeline", &m.FramesProcessed)
	m.counter("detector_frames_dropped_total", "Total frames replaced before processing", &m.FramesDropped)
	m.counter("detector_frames_failed_total", "Total frames that failed in the pipeline", &m.FramesFailed)

	m.counter("detector_detections_decoded_total", "Detections above the confidence and size floors", &m.DetectionsDecoded)
	m.counter("detector_detections_kept_total", "Detections kept by non-maximum suppression", &m.DetectionsKept)
	m.counter("detector_detections_emitted_total", "Detections emitted after adjacency merge", &m.DetectionsEmitted)

	m.counter("detector_dispatch_accepted_total", "Reports handed to the dispatcher", &m.DispatchAccepted)
	m.counter("detector_dispatch_duplicates_total", "Reports suppressed as unchanged", &m.DispatchDuplicates)
	m.counter("detector_dispatch_busy_total", "Reports dropped because the slot was busy", &m.DispatchBusy)
	m.counter("detector_dispatch_sent_total", "Uploads that succeeded", &m.DispatchSent)
	m.counter("detector_dispatch_failed_total", "Uploads that failed", &m.DispatchFailed)
	m.counter("detector_crop_errors_total", "Detections that could not be cropped", &m.CropErrors)

	m.counter("detector_journal_written_total", "Dispatch journal rows written", &m.JournalWritten)
	m.counter("detector_journal_dropped_total", "Dispatch journal rows dropped", &m.JournalDropped)

	m.counter("detector_frame_latency_ms", "Frame latency from capture to processing in milliseconds", &m.FrameLatencyMs)
	m.counter("detector_process_latency_ms", "Pipeline latency per frame in milliseconds", &m.ProcessLatencyMs)
	m.counter("detector_upload_latency_ms", "Last upload round trip in milliseconds", &m.UploadLatencyMs)

	m.gauge("detector_fps", "Frames per second over the last frame interval", m.FPS)
}

// UpdateFrameLatency records the age of a frame when processing starts
func (m *Metrics) UpdateFrameLatency(captureTime, now time.Time) {
	latency := now.Sub(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency updates the processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// SetFPS stores the current frame rate
func (m *Metrics) SetFPS(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
}

// FPS returns the current frame rate
func (m *Metrics) FPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
