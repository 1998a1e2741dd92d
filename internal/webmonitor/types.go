package webmonitor

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/pkg/types"
)

// BoundingBox is a display-space rectangle in pixels.
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Detection is the JSON shape of one merged detection.
type Detection struct {
	Label      string      `json:"label"`
	Confidence float32     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is one processed frame as shown by the monitor.
type DetectionResult struct {
	FrameNumber   uint64            `json:"frame_number"`
	Timestamp     float64           `json:"timestamp"`
	NumDetections int               `json:"num_detections"`
	Version       int               `json:"version"`
	Display       types.DisplaySize `json:"display"`
	Status        string            `json:"status"`
	Detections    []Detection       `json:"detections"`
}

// MonitorStats summarises the frame loop.
type MonitorStats struct {
	FramesProcessed int     `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	Dispatched      int     `json:"dispatched"`
}

func convertDetections(dets []detection.Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		b := d.Box()
		out[i] = Detection{
			Label:      d.Label(),
			Confidence: d.Confidence(),
			BBox:       BoundingBox{Left: b.Left, Top: b.Top, Right: b.Right, Bottom: b.Bottom},
		}
	}
	return out
}

func convertResult(r pipeline.Result) DetectionResult {
	var ts float64
	if !r.Timestamp.IsZero() {
		ts = float64(r.Timestamp.UnixMilli()) / 1000
	}
	return DetectionResult{
		FrameNumber:   r.FrameNum,
		Timestamp:     ts,
		NumDetections: len(r.Detections),
		Display:       r.Display,
		Status:        r.Status,
		Detections:    convertDetections(r.Detections),
	}
}
