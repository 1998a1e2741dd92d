// Package merge joins horizontally adjacent detections that are fragments of
// one multi-character label, such as the digits of a number.
package merge

import (
	"sort"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
)

// Config controls when two neighbours are considered one unit. Both ratios
// are relative to the running composite's size.
type Config struct {
	GapRatio  float32 // allowed |horizontal gap| as a fraction of width
	LineRatio float32 // allowed vertical center offset as a fraction of height
}

func DefaultConfig() Config {
	return Config{GapRatio: 0.3, LineRatio: 0.6}
}

// Adjacent sweeps the detections once from left to right and absorbs each
// neighbour that sits on the same line within the gap tolerance of the running
// composite. Fragments that are not adjacent in left-edge order are never
// re-merged.
func Adjacent(dets []detection.Detection, cfg Config) []detection.Detection {
	if len(dets) == 0 {
		return nil
	}
	sorted := make([]detection.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box().Left < sorted[j].Box().Left
	})

	var out []detection.Detection
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if adjacent(cur, next, cfg) {
			cur = absorb(cur, next)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func adjacent(cur, next detection.Detection, cfg Config) bool {
	c, n := cur.Box(), next.Box()
	tol := cfg.GapRatio * c.Width()
	gap := n.Left - c.Right
	dy := n.CenterY() - c.CenterY()
	if dy < 0 {
		dy = -dy
	}
	return gap >= -tol && gap <= tol && dy < cfg.LineRatio*c.Height()
}

func absorb(cur, next detection.Detection) detection.Detection {
	return detection.New(
		cur.Box().Union(next.Box()),
		cur.Space(),
		cur.Label()+next.Label(),
		max(cur.Confidence(), next.Confidence()),
	)
}
