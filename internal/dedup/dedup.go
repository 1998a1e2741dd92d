// Package dedup suppresses re-reporting of a detection that has not changed
// since the last accepted report.
package dedup

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
)

// GridSize is the pixel grid box edges are snapped to before hashing.
const GridSize = 4

// Fingerprint identifies a report by label, confidence percent and snapped
// box edges.
type Fingerprint uint64

// FingerprintOf hashes a frame-space detection.
func FingerprintOf(d detection.Detection) Fingerprint {
	box := d.Box()
	var buf [5 * 8]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(d.Confidence()*100)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(snap(box.Left)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(snap(box.Top)))
	binary.LittleEndian.PutUint64(buf[24:], uint64(snap(box.Right)))
	binary.LittleEndian.PutUint64(buf[32:], uint64(snap(box.Bottom)))

	h := xxhash.New()
	_, _ = h.WriteString(d.Label())
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(buf[:])
	return Fingerprint(h.Sum64())
}

func snap(v float32) int64 {
	return int64(math.Floor(float64(v)/GridSize)) * GridSize
}

// Gate holds the single most recently accepted fingerprint. It is owned by
// the pipeline goroutine and is not safe for concurrent use.
type Gate struct {
	last   Fingerprint
	primed bool
}

// Accept reports whether d differs from the last accepted detection. An
// accepted fingerprint replaces the retained one regardless of what happens
// to the send afterwards.
func (g *Gate) Accept(d detection.Detection) bool {
	fp := FingerprintOf(d)
	if g.primed && fp == g.last {
		return false
	}
	g.last, g.primed = fp, true
	return true
}

// Last returns the retained fingerprint, if any.
func (g *Gate) Last() (Fingerprint, bool) {
	return g.last, g.primed
}
