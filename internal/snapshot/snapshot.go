// Package snapshot cuts detection crops out of frames and encodes them for
// upload.
package snapshot

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

// DefaultJPEGQuality is the quality used for uploaded crops.
const DefaultJPEGQuality = 60

// ErrEmptyCrop is returned when the frame has no pixels to crop from.
var ErrEmptyCrop = errors.New("snapshot: empty frame")

// CropRect converts a frame-space box to an integer crop window. The origin is
// clamped inside the frame and the size to at least one pixel without
// running past the frame edge.
func CropRect(r geometry.Rect, frameW, frameH int) image.Rectangle {
	x := clampInt(int(r.Left), 0, frameW-1)
	y := clampInt(int(r.Top), 0, frameH-1)
	w := clampInt(int(r.Width()), 1, frameW-x)
	h := clampInt(int(r.Height()), 1, frameH-y)
	return image.Rect(x, y, x+w, y+h)
}

// Crop returns the part of frame covered by r.
func Crop(frame image.Image, r geometry.Rect) (image.Image, error) {
	if frame == nil {
		return nil, ErrEmptyCrop
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyCrop
	}
	window := CropRect(r, b.Dx(), b.Dy()).Add(b.Min)
	return imaging.Crop(frame, window), nil
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrEmptyCrop, "encode jpeg")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
