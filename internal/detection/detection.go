// Package detection defines the immutable Detection value shared by every
// stage of the pipeline and the class-label table used to name it.
package detection

import (
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

// Detection is a labeled box in a named coordinate space. Stages never modify
// a Detection; moving it to another space produces a new value.
type Detection struct {
	box        geometry.Rect
	space      geometry.Space
	label      string
	confidence float32
}

// New returns a Detection with a well-formed box.
func New(box geometry.Rect, space geometry.Space, label string, confidence float32) Detection {
	return Detection{
		box:        geometry.NewRect(box.Left, box.Top, box.Right, box.Bottom),
		space:      space,
		label:      label,
		confidence: confidence,
	}
}

func (d Detection) Box() geometry.Rect    { return d.box }
func (d Detection) Space() geometry.Space { return d.space }
func (d Detection) Label() string         { return d.label }
func (d Detection) Confidence() float32   { return d.confidence }

// In returns a copy of d moved to space with the given box.
func (d Detection) In(space geometry.Space, box geometry.Rect) Detection {
	return New(box, space, d.label, d.confidence)
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.0f%% %s@%s", d.label, d.confidence*100, d.box, d.space)
}
