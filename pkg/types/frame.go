package types

import (
	"image"
	"time"
)

// Frame is one decoded camera frame with rotation already normalized.
type Frame struct {
	Image     image.Image // Decoded pixels
	Timestamp time.Time   // Capture timestamp
	FrameNum  uint64      // Sequential frame number
	Width     int         // Frame width
	Height    int         // Frame height
	Source    string      // Origin (file path, device name)
}

// NewFrame wraps img, taking the size from its bounds.
func NewFrame(img image.Image, num uint64, ts time.Time, source string) *Frame {
	f := &Frame{Image: img, Timestamp: ts, FrameNum: num, Source: source}
	if img != nil {
		f.Width = img.Bounds().Dx()
		f.Height = img.Bounds().Dy()
	}
	return f
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Width <= 0 || f.Height <= 0
}

// DisplaySize is the size reported by the display surface.
type DisplaySize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultDisplaySize is used before the display reports its size.
var DefaultDisplaySize = DisplaySize{Width: 1, Height: 1}
