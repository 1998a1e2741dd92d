// Package nms implements greedy non-maximum suppression over detections.
package nms

import (
	"sort"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

// DefaultIoUThreshold is the overlap above which a lower-confidence box is
// treated as a duplicate.
const DefaultIoUThreshold float32 = 0.45

// Suppress keeps, in descending confidence order, every detection whose IoU
// with all previously kept detections is at most threshold. Equal
// confidences keep their input order. The input slice is not modified.
func Suppress(dets []detection.Detection, threshold float32) []detection.Detection {
	if len(dets) == 0 {
		return nil
	}
	sorted := make([]detection.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence() > sorted[j].Confidence()
	})

	kept := make([]detection.Detection, 0, len(sorted))
	for _, cand := range sorted {
		if !overlapsAny(cand, kept, threshold) {
			kept = append(kept, cand)
		}
	}
	return kept
}

func overlapsAny(cand detection.Detection, kept []detection.Detection, threshold float32) bool {
	for _, k := range kept {
		if geometry.IoU(cand.Box(), k.Box()) > threshold {
			return true
		}
	}
	return false
}
