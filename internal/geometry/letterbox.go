package geometry

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ErrEmptyFrame is returned when a frame has zero width or height.
var ErrEmptyFrame = errors.New("geometry: frame has zero width or height")

// Transform describes how a source frame was placed on the square model canvas.
type Transform struct {
	Scale float32
	PadX  float32
	PadY  float32
}

// NewTransform computes the aspect-preserving placement of a srcW x srcH frame
// centered on a canvasSize square.
func NewTransform(srcW, srcH, canvasSize int) (Transform, error) {
	if srcW <= 0 || srcH <= 0 || canvasSize <= 0 {
		return Transform{}, ErrEmptyFrame
	}
	scale := min(float32(canvasSize)/float32(srcW), float32(canvasSize)/float32(srcH))
	newW, newH := scaledSize(srcW, srcH, scale)
	return Transform{
		Scale: scale,
		PadX:  float32(canvasSize-newW) / 2,
		PadY:  float32(canvasSize-newH) / 2,
	}, nil
}

func scaledSize(srcW, srcH int, scale float32) (int, int) {
	return int(float32(srcW) * scale), int(float32(srcH) * scale)
}

// Letterbox scales src onto a black canvasSize square, preserving aspect ratio
// and centering it on the shorter axis.
func Letterbox(src image.Image, canvasSize int) (*image.RGBA, Transform, error) {
	b := src.Bounds()
	t, err := NewTransform(b.Dx(), b.Dy(), canvasSize)
	if err != nil {
		return nil, Transform{}, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	newW, newH := scaledSize(b.Dx(), b.Dy(), t.Scale)
	// Half-pixel pads are drawn at the nearest pixel.
	x0, y0 := int(math.Round(float64(t.PadX))), int(math.Round(float64(t.PadY)))
	draw.BiLinear.Scale(canvas, image.Rect(x0, y0, x0+newW, y0+newH), src, b, draw.Src, nil)

	return canvas, t, nil
}

// ToSourceSpace maps a canvas-space rectangle back into the source frame and
// clamps it to the frame bounds.
func ToSourceSpace(r Rect, t Transform, frameW, frameH int) Rect {
	if t.Scale <= 0 {
		return Rect{}
	}
	out := NewRect(
		(r.Left-t.PadX)/t.Scale,
		(r.Top-t.PadY)/t.Scale,
		(r.Right-t.PadX)/t.Scale,
		(r.Bottom-t.PadY)/t.Scale,
	)
	return out.Clamp(float32(frameW), float32(frameH))
}

// ToCanvasSpace is the inverse of ToSourceSpace without clamping.
func ToCanvasSpace(r Rect, t Transform) Rect {
	return Rect{
		Left:   r.Left*t.Scale + t.PadX,
		Top:    r.Top*t.Scale + t.PadY,
		Right:  r.Right*t.Scale + t.PadX,
		Bottom: r.Bottom*t.Scale + t.PadY,
	}
}
