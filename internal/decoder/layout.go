package decoder

import (
	"fmt"

	"github.com/pkg/errors"
)

// Layout selects how a raw output tensor is read.
type Layout int

const (
	LayoutUnknown Layout = iota
	// LayoutPacked is [1, N, 6]: N boxes of (cx, cy, w, h, classId, confidence).
	LayoutPacked
	// LayoutPlanar is [1, 4+C, N]: x, y, w, h planes followed by C class-score planes.
	LayoutPlanar
)

const packedStride = 6
const geometryPlanes = 4

// ErrUnsupportedShape is returned for tensor shapes that match neither layout.
var ErrUnsupportedShape = errors.New("decoder: unsupported output shape")

func (l Layout) String() string {
	switch l {
	case LayoutPacked:
		return "packed"
	case LayoutPlanar:
		return "planar"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// SelectLayout picks the decode layout from the model's declared output shape.
func SelectLayout(shape []int) (Layout, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return LayoutUnknown, errors.Wrapf(ErrUnsupportedShape, "%v", shape)
	}
	switch {
	case shape[2] == packedStride && shape[1] > 0:
		return LayoutPacked, nil
	case shape[1] > geometryPlanes && shape[2] > 0:
		return LayoutPlanar, nil
	default:
		return LayoutUnknown, errors.Wrapf(ErrUnsupportedShape, "%v", shape)
	}
}
