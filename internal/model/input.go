// Package model prepares detector input and talks to the inference runtime.
package model

import "image"

// Channels is the number of color channels in the model input.
const Channels = 3

// CanvasToInput converts a letterboxed canvas to float32 NHWC RGB values
// normalized to [0,1].
func CanvasToInput(canvas *image.RGBA) []float32 {
	b := canvas.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 0, w*h*Channels)
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			out = append(out, float32(px[0])/255, float32(px[1])/255, float32(px[2])/255)
		}
	}
	return out
}

// InputShape returns the NHWC shape for a square canvas.
func InputShape(canvasSize int) []int {
	return []int{1, canvasSize, canvasSize, Channels}
}
