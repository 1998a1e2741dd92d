package webmonitor

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/pipeline"
)

// Monitor keeps the latest frame result for the HTTP API and fans each one
// out to the detection stream. It is the pipeline's render consumer.
type Monitor struct {
	historySize int
	broadcaster *DetectionBroadcaster

	mu               sync.Mutex
	framesProcessed  int
	dispatched       int
	fps              float64
	detectionVersion int
	detectionHistory []DetectionResult
	latestDetection  *DetectionResult
}

// NewMonitor creates a Monitor that retains historySize non-empty results.
func NewMonitor(historySize int, broadcaster *DetectionBroadcaster) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{
		historySize: historySize,
		broadcaster: broadcaster,
	}
}

// Publish records one frame result. Called from the frame goroutine.
func (m *Monitor) Publish(r pipeline.Result) {
	result := convertResult(r)

	m.mu.Lock()
	m.framesProcessed++
	m.dispatched += r.Dispatched
	m.fps = r.FPS
	m.detectionVersion++
	result.Version = m.detectionVersion
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.Publish(&result)
	}
}

// Snapshot returns the current stats, latest result and history.
func (m *Monitor) Snapshot() (MonitorStats, *DetectionResult, []DetectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.framesProcessed,
		CurrentFPS:      m.fps,
		Dispatched:      m.dispatched,
	}
	var latest *DetectionResult
	if m.latestDetection != nil {
		cp := *m.latestDetection
		latest = &cp
		stats.DetectionCount = cp.NumDetections
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)
	return stats, latest, historyCopy
}
