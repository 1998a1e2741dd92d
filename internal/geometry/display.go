package geometry

// fitCenter returns the uniform scale and centering offsets that fit a frame
// inside a display. Non-positive dimensions are treated as 1.
func fitCenter(frameW, frameH, displayW, displayH int) (scale, offX, offY float32) {
	fw, fh := atLeastOne(frameW), atLeastOne(frameH)
	dw, dh := atLeastOne(displayW), atLeastOne(displayH)
	scale = min(dw/fw, dh/fh)
	offX = (dw - fw*scale) / 2
	offY = (dh - fh*scale) / 2
	return scale, offX, offY
}

func atLeastOne(v int) float32 {
	if v < 1 {
		return 1
	}
	return float32(v)
}

// FrameToDisplay maps a frame-space rectangle onto a display using a
// fit-inside, centered policy.
func FrameToDisplay(r Rect, frameW, frameH, displayW, displayH int) Rect {
	scale, offX, offY := fitCenter(frameW, frameH, displayW, displayH)
	return Rect{
		Left:   r.Left*scale + offX,
		Top:    r.Top*scale + offY,
		Right:  r.Right*scale + offX,
		Bottom: r.Bottom*scale + offY,
	}
}

// DisplayToFrame is the inverse of FrameToDisplay, clamped to the frame.
func DisplayToFrame(r Rect, frameW, frameH, displayW, displayH int) Rect {
	scale, offX, offY := fitCenter(frameW, frameH, displayW, displayH)
	out := NewRect(
		(r.Left-offX)/scale,
		(r.Top-offY)/scale,
		(r.Right-offX)/scale,
		(r.Bottom-offY)/scale,
	)
	return out.Clamp(atLeastOne(frameW), atLeastOne(frameH))
}
