package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

var digits = detection.Labels{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// squareInput is a 640x640 frame, so canvas and frame coordinates coincide.
func squareInput(shape []int, data []float32) Input {
	return Input{
		Data:        data,
		Shape:       shape,
		Transform:   geometry.Transform{Scale: 1},
		FrameWidth:  640,
		FrameHeight: 640,
	}
}

func TestSelectLayout(t *testing.T) {
	tests := []struct {
		shape []int
		want  Layout
		err   bool
	}{
		{[]int{1, 300, 6}, LayoutPacked, false},
		{[]int{1, 14, 8400}, LayoutPlanar, false},
		{[]int{1, 5, 10}, LayoutPlanar, false},
		{[]int{1, 4, 8400}, LayoutUnknown, true},
		{[]int{300, 6}, LayoutUnknown, true},
		{[]int{2, 300, 6}, LayoutUnknown, true},
	}
	for _, tt := range tests {
		got, err := SelectLayout(tt.shape)
		assert.Equal(t, tt.want, got, "%v", tt.shape)
		if tt.err {
			assert.ErrorIs(t, err, ErrUnsupportedShape, "%v", tt.shape)
		} else {
			assert.NoError(t, err, "%v", tt.shape)
		}
	}
}

func TestDecodePacked(t *testing.T) {
	data := []float32{
		0.5, 0.5, 0.1, 0.2, 3, 0.95, // kept
		0.25, 0.25, 0.1, 0.1, 1, 0.5, // below threshold
		0.75, 0.75, 0.005, 0.1, 2, 0.9, // 3.2 px wide, below size floor
		0.1, 0.1, 0.05, 0.05, 42, 0.8, // out of range class
	}
	got := DecodePacked(squareInput([]int{1, 4, 6}, data), digits, DefaultConfig())
	require.Len(t, got, 2)

	assert.Equal(t, "3", got[0].Label())
	assert.InDelta(t, 0.95, got[0].Confidence(), 1e-6)
	assert.Equal(t, geometry.SpaceFrame, got[0].Space())
	box := got[0].Box()
	assert.InDelta(t, 288, box.Left, 1e-3)
	assert.InDelta(t, 256, box.Top, 1e-3)
	assert.InDelta(t, 352, box.Right, 1e-3)
	assert.InDelta(t, 384, box.Bottom, 1e-3)

	assert.Equal(t, detection.UnknownLabel, got[1].Label())
}

func TestDecodeConfidenceFloor(t *testing.T) {
	cfg := DefaultConfig()
	at := []float32{0.5, 0.5, 0.1, 0.1, 1, cfg.ConfidenceThreshold}
	below := []float32{0.5, 0.5, 0.1, 0.1, 1, 0.6999}

	assert.Len(t, DecodePacked(squareInput([]int{1, 1, 6}, at), digits, cfg), 1)
	assert.Empty(t, DecodePacked(squareInput([]int{1, 1, 6}, below), digits, cfg))
}

func TestDecodeUnletterboxes(t *testing.T) {
	tr, err := geometry.NewTransform(1280, 720, 640)
	require.NoError(t, err)

	// Center of the canvas maps to the center of the frame.
	data := []float32{0.5, 0.5, 0.1, 0.1, 0, 0.9}
	got := DecodePacked(Input{
		Data:        data,
		Shape:       []int{1, 1, 6},
		Transform:   tr,
		FrameWidth:  1280,
		FrameHeight: 720,
	}, digits, DefaultConfig())
	require.Len(t, got, 1)
	assert.InDelta(t, 640, got[0].Box().CenterX(), 1e-3)
	assert.InDelta(t, 360, got[0].Box().CenterY(), 1e-3)
	assert.InDelta(t, 128, got[0].Box().Width(), 1e-3)
}

func TestDecodeRejectsPaddingOnlyBoxes(t *testing.T) {
	tr, err := geometry.NewTransform(1280, 720, 640)
	require.NoError(t, err)

	// Entirely inside the top padding band (rows 0..140): clamps to zero height.
	data := []float32{0.5, 0.05, 0.1, 0.05, 0, 0.9}
	got := DecodePacked(Input{
		Data:        data,
		Shape:       []int{1, 1, 6},
		Transform:   tr,
		FrameWidth:  1280,
		FrameHeight: 720,
	}, digits, DefaultConfig())
	assert.Empty(t, got)
}

func TestDecodeRejectsNegativeSize(t *testing.T) {
	data := []float32{
		0.5, 0.5, -0.05, -0.05, 0, 0.9,
		0.5, 0.5, 0.05, -0.05, 1, 0.9,
		0.5, 0.5, -0.05, 0.05, 2, 0.9,
		0.5, 0.5, 0.05, 0.05, 3, 0.9, // kept
	}
	got := DecodePacked(squareInput([]int{1, 4, 6}, data), digits, DefaultConfig())
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].Label())

	planar := planarTensor([][]float32{{0.5, 0.5, -0.05, 0.05, 0.9}}, 1)
	assert.Empty(t, DecodePlanar(squareInput([]int{1, 5, 1}, planar), digits, DefaultConfig()))
}

func planarTensor(anchors [][]float32, classes int) []float32 {
	n := len(anchors)
	planes := 4 + classes
	data := make([]float32, planes*n)
	for i, a := range anchors {
		for p := 0; p < planes; p++ {
			data[p*n+i] = a[p]
		}
	}
	return data
}

func TestDecodePlanar(t *testing.T) {
	anchors := [][]float32{
		{0.5, 0.5, 0.1, 0.1, 0.1, 0.2, 0.85},
		{0.2, 0.2, 0.1, 0.1, 0.3, 0.1, 0.2},
		{0.8, 0.8, 0.1, 0.1, 0.9, 0.9, 0.1},
		{0.3, 0.3, 0.1, 0.1, 0, 0, 0},
	}
	data := planarTensor(anchors, 3)
	got := DecodePlanar(squareInput([]int{1, 7, 4}, data), detection.Labels{"a", "b", "c"}, DefaultConfig())
	require.Len(t, got, 2)

	assert.Equal(t, "c", got[0].Label())
	assert.InDelta(t, 0.85, got[0].Confidence(), 1e-6)
	assert.InDelta(t, 320, got[0].Box().CenterX(), 1e-3)

	// Ties keep the first class reaching the top score.
	assert.Equal(t, "a", got[1].Label())
	assert.InDelta(t, 512, got[1].Box().CenterX(), 1e-3)
}

func TestDecodeMalformedInput(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, DecodePacked(squareInput([]int{1, 300, 6}, nil), digits, cfg))
	assert.Empty(t, DecodePlanar(squareInput([]int{1, 14, 8400}, make([]float32, 10)), digits, cfg))

	in := squareInput([]int{1, 1, 6}, []float32{0.5, 0.5, 0.1, 0.1, 1, 0.9})
	in.FrameWidth = 0
	assert.Empty(t, DecodePacked(in, digits, cfg))

	_, err := Decode(LayoutUnknown, in, digits, cfg)
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestDecodeTensor(t *testing.T) {
	dec := New(DefaultConfig(), digits)
	identity := geometry.Transform{Scale: 1}

	packed := tensor.New(tensor.WithShape(1, 2, 6), tensor.WithBacking([]float32{
		0.5, 0.5, 0.1, 0.1, 7, 0.9,
		0.2, 0.2, 0.1, 0.1, 1, 0.1,
	}))
	got, layout, err := dec.DecodeTensor(packed, identity, 640, 640)
	require.NoError(t, err)
	assert.Equal(t, LayoutPacked, layout)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Label())

	planar := tensor.New(tensor.WithShape(1, 5, 1), tensor.WithBacking([]float32{0.5, 0.5, 0.1, 0.1, 0.99}))
	got, layout, err = dec.DecodeTensor(planar, identity, 640, 640)
	require.NoError(t, err)
	assert.Equal(t, LayoutPlanar, layout)
	require.Len(t, got, 1)
	assert.Equal(t, "0", got[0].Label())

	odd := tensor.New(tensor.WithShape(1, 3, 3), tensor.WithBacking(make([]float32, 9)))
	_, _, err = dec.DecodeTensor(odd, identity, 640, 640)
	assert.ErrorIs(t, err, ErrUnsupportedShape)

	got, _, err = dec.DecodeTensor(nil, identity, 640, 640)
	assert.NoError(t, err)
	assert.Empty(t, got)
}
