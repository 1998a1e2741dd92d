// Package geometry holds the axis-aligned rectangle type and the coordinate
// conversions between model-input canvas, source frame and display space.
package geometry

import "fmt"

// Space names the coordinate space a rectangle is expressed in.
type Space int

const (
	SpaceModel Space = iota
	SpaceFrame
	SpaceDisplay
)

func (s Space) String() string {
	switch s {
	case SpaceModel:
		return "model"
	case SpaceFrame:
		return "frame"
	case SpaceDisplay:
		return "display"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Rect is an axis-aligned rectangle. Only the four edges are stored; size,
// center and area are always derived from them.
type Rect struct {
	Left   float32
	Top    float32
	Right  float32
	Bottom float32
}

// NewRect builds a well-formed rectangle, swapping edges given in reverse order.
func NewRect(left, top, right, bottom float32) Rect {
	if right < left {
		left, right = right, left
	}
	if bottom < top {
		top, bottom = bottom, top
	}
	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}

func (r Rect) Width() float32   { return r.Right - r.Left }
func (r Rect) Height() float32  { return r.Bottom - r.Top }
func (r Rect) CenterX() float32 { return (r.Left + r.Right) / 2 }
func (r Rect) CenterY() float32 { return (r.Top + r.Bottom) / 2 }

// Area returns width*height, or 0 for a degenerate rectangle.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union returns the bounding envelope of r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// Clamp restricts every edge to [0,width] x [0,height].
func (r Rect) Clamp(width, height float32) Rect {
	return Rect{
		Left:   clamp(r.Left, 0, width),
		Top:    clamp(r.Top, 0, height),
		Right:  clamp(r.Right, 0, width),
		Bottom: clamp(r.Bottom, 0, height),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%.1f,%.1f,%.1f,%.1f]", r.Left, r.Top, r.Right, r.Bottom)
}

// IoU returns the intersection-over-union of a and b. A zero union yields 0.
func IoU(a, b Rect) float32 {
	iw := max(0, min(a.Right, b.Right)-max(a.Left, b.Left))
	ih := max(0, min(a.Bottom, b.Bottom)-max(a.Top, b.Top))
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
