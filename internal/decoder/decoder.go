// Package decoder turns raw detector output tensors into frame-space
// detections.
package decoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

// Config holds the decode thresholds.
type Config struct {
	CanvasSize          int
	ConfidenceThreshold float32
	MinBoxSize          float32
}

// DefaultConfig returns the thresholds used by the 640x640 digit models.
func DefaultConfig() Config {
	return Config{
		CanvasSize:          640,
		ConfidenceThreshold: 0.70,
		MinBoxSize:          6,
	}
}

// Input is one model output together with the frame it was computed for.
type Input struct {
	Data        []float32
	Shape       []int
	Transform   geometry.Transform
	FrameWidth  int
	FrameHeight int
}

// Decode dispatches to the decoder for layout.
func Decode(layout Layout, in Input, labels detection.Labels, cfg Config) ([]detection.Detection, error) {
	switch layout {
	case LayoutPacked:
		return DecodePacked(in, labels, cfg), nil
	case LayoutPlanar:
		return DecodePlanar(in, labels, cfg), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedShape, "layout %s", layout)
	}
}

// DecodePacked reads a [1, N, 6] tensor.
func DecodePacked(in Input, labels detection.Labels, cfg Config) []detection.Detection {
	if len(in.Shape) != 3 || in.FrameWidth <= 0 || in.FrameHeight <= 0 {
		return nil
	}
	n := min(in.Shape[1], len(in.Data)/packedStride)

	var out []detection.Detection
	for i := 0; i < n; i++ {
		v := in.Data[i*packedStride : (i+1)*packedStride]
		if d, ok := resolve(v[0], v[1], v[2], v[3], int(v[4]), v[5], in, labels, cfg); ok {
			out = append(out, d)
		}
	}
	return out
}

// DecodePlanar reads a [1, 4+C, N] tensor, taking the best-scoring class at
// each anchor.
func DecodePlanar(in Input, labels detection.Labels, cfg Config) []detection.Detection {
	if len(in.Shape) != 3 || in.FrameWidth <= 0 || in.FrameHeight <= 0 {
		return nil
	}
	planes, n := in.Shape[1], in.Shape[2]
	if planes <= geometryPlanes || n <= 0 || len(in.Data) < planes*n {
		return nil
	}
	t := in.Data

	var out []detection.Detection
	for i := 0; i < n; i++ {
		bestIdx, bestScore := -1, float32(0)
		for c := 0; c < planes-geometryPlanes; c++ {
			if s := t[(geometryPlanes+c)*n+i]; s > bestScore {
				bestIdx, bestScore = c, s
			}
		}
		if bestIdx < 0 {
			continue
		}
		if d, ok := resolve(t[i], t[n+i], t[2*n+i], t[3*n+i], bestIdx, bestScore, in, labels, cfg); ok {
			out = append(out, d)
		}
	}
	return out
}

// resolve applies the confidence floor, converts a fractional center/size box
// to canvas pixels, maps it into the frame and applies the size floor.
func resolve(cx, cy, w, h float32, classID int, conf float32, in Input, labels detection.Labels, cfg Config) (detection.Detection, bool) {
	if !(conf >= cfg.ConfidenceThreshold) {
		return detection.Detection{}, false
	}
	// A negative size would flip the edges into a valid-looking box.
	if w < 0 || h < 0 {
		return detection.Detection{}, false
	}
	canvas := float32(cfg.CanvasSize)
	cx, cy, w, h = cx*canvas, cy*canvas, w*canvas, h*canvas

	box := geometry.NewRect(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
	box = geometry.ToSourceSpace(box, in.Transform, in.FrameWidth, in.FrameHeight)
	if box.Width() < cfg.MinBoxSize || box.Height() < cfg.MinBoxSize {
		return detection.Detection{}, false
	}
	return detection.New(box, geometry.SpaceFrame, labels.Lookup(classID), conf), true
}

// Decoder binds a label table and thresholds to tensor decoding.
type Decoder struct {
	cfg    Config
	labels detection.Labels
}

// New creates a Decoder. A nil label table falls back to "unknown".
func New(cfg Config, labels detection.Labels) *Decoder {
	if len(labels) == 0 {
		labels = detection.FallbackLabels()
	}
	return &Decoder{cfg: cfg, labels: labels}
}

// Config returns the decoder thresholds.
func (d *Decoder) Config() Config { return d.cfg }

// DecodeTensor selects the layout from the tensor shape and decodes it. An
// empty tensor yields no detections and no error.
func (d *Decoder) DecodeTensor(out *tensor.Dense, t geometry.Transform, frameW, frameH int) ([]detection.Detection, Layout, error) {
	if out == nil || out.Size() == 0 {
		return nil, LayoutUnknown, nil
	}
	layout, err := SelectLayout(out.Shape())
	if err != nil {
		return nil, LayoutUnknown, err
	}
	data, ok := out.Data().([]float32)
	if !ok {
		return nil, layout, errors.Errorf("decoder: expected float32 tensor, got %s", out.Dtype())
	}
	dets, err := Decode(layout, Input{
		Data:        data,
		Shape:       out.Shape(),
		Transform:   t,
		FrameWidth:  frameW,
		FrameHeight: frameH,
	}, d.labels, d.cfg)
	return dets, layout, err
}
