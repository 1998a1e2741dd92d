package pipeline

import (
	"context"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/decoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/pkg/types"
)

var digits = detection.Labels{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// packedBox encodes a frame-space box for a 640x640 frame.
func packedBox(l, t, r, b float32, class int, conf float32) []float32 {
	return []float32{(l + r) / 2 / 640, (t + b) / 2 / 640, (r - l) / 640, (b - t) / 640, float32(class), conf}
}

// twelve returns a tensor with "1" and "2" side by side.
func twelve() *tensor.Dense {
	data := append(packedBox(100, 300, 120, 340, 1, 0.8), packedBox(124, 300, 146, 340, 2, 0.9)...)
	return tensor.New(tensor.WithShape(1, 2, 6), tensor.WithBacking(data))
}

func fixedRuntime(out *tensor.Dense) Runtime {
	return RuntimeFunc(func(context.Context, *image.RGBA) (*tensor.Dense, error) {
		return out, nil
	})
}

func frame(num uint64) *types.Frame {
	return types.NewFrame(image.NewRGBA(image.Rect(0, 0, 640, 640)), num, time.Time{}, "test")
}

type fakeDispatcher struct {
	accept  bool
	reports []dispatch.Report
}

func (d *fakeDispatcher) TrySubmit(r dispatch.Report) bool {
	d.reports = append(d.reports, r)
	return d.accept
}

func (d *fakeDispatcher) State() dispatch.State { return dispatch.Idle }

type recordingPublisher struct {
	mu      sync.Mutex
	results []Result
}

func (p *recordingPublisher) Publish(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func TestProcessFrameMergesAndDispatches(t *testing.T) {
	disp := &fakeDispatcher{accept: true}
	pub := &recordingPublisher{}
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits, WithDispatcher(disp), WithPublisher(pub))
	require.NoError(t, p.SetDisplaySize(1080, 1920))

	res, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)

	assert.Equal(t, decoder.LayoutPacked, res.Layout)
	assert.Equal(t, 2, res.Decoded)
	assert.Equal(t, 2, res.Kept)
	require.Len(t, res.Detections, 1)
	d := res.Detections[0]
	assert.Equal(t, "12", d.Label())
	assert.InDelta(t, 0.9, d.Confidence(), 1e-6)
	assert.Equal(t, geometry.SpaceDisplay, d.Space())
	// 640x640 on 1080x1920: scale 1.6875, vertical offset 420
	assert.InDelta(t, 168.75, d.Box().Left, 0.01)
	assert.InDelta(t, 926.25, d.Box().Top, 0.01)

	require.Len(t, disp.reports, 1)
	r := disp.reports[0]
	assert.Equal(t, "12", r.Label)
	assert.InDelta(t, 100, r.Box.Left, 0.01)
	assert.InDelta(t, 146, r.Box.Right, 0.01)
	assert.InDelta(t, 300, r.Box.Top, 0.01)
	assert.InDelta(t, 340, r.Box.Bottom, 0.01)
	require.NotNil(t, r.Image)
	assert.InDelta(t, 46, r.Image.Bounds().Dx(), 1)

	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, StatusSending, res.Status)
	assert.Equal(t, StatusSending, p.Status())
	assert.Equal(t, 1, pub.count())
}

func TestProcessFrameDedupsRepeats(t *testing.T) {
	disp := &fakeDispatcher{accept: true}
	m := metrics.New()
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits, WithDispatcher(disp), WithMetrics(m))

	_, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)
	res, err := p.ProcessFrame(context.Background(), frame(2))
	require.NoError(t, err)

	assert.Len(t, disp.reports, 1)
	assert.Equal(t, 0, res.Dispatched)
	assert.Equal(t, "Objects: 1", res.Status)
	assert.Equal(t, uint64(1), m.DispatchDuplicates.Load())
}

func TestBusySlotStillConsumesFingerprint(t *testing.T) {
	disp := &fakeDispatcher{accept: false}
	m := metrics.New()
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits, WithDispatcher(disp), WithMetrics(m))

	_, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)
	_, err = p.ProcessFrame(context.Background(), frame(2))
	require.NoError(t, err)

	assert.Len(t, disp.reports, 1)
	assert.Equal(t, uint64(1), m.DispatchBusy.Load())
	assert.Equal(t, uint64(1), m.DispatchDuplicates.Load())
}

func TestProcessFrameWithoutDispatcher(t *testing.T) {
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits)
	res, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)
	assert.Len(t, res.Detections, 1)
	assert.Equal(t, "Objects: 1", p.Status())
}

func TestProcessFrameNoDetections(t *testing.T) {
	empty := tensor.New(tensor.WithShape(1, 1, 6), tensor.WithBacking([]float32{0.5, 0.5, 0.1, 0.1, 1, 0.2}))
	p := New(DefaultConfig(), fixedRuntime(empty), digits)
	res, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
	assert.Equal(t, StatusNoDetections, res.Status)
}

func TestProcessFrameRejectsEmptyFrame(t *testing.T) {
	called := false
	rt := RuntimeFunc(func(context.Context, *image.RGBA) (*tensor.Dense, error) {
		called = true
		return nil, nil
	})
	p := New(DefaultConfig(), rt, digits)

	_, err := p.ProcessFrame(context.Background(), types.NewFrame(image.NewRGBA(image.Rect(0, 0, 0, 480)), 1, time.Time{}, ""))
	assert.ErrorIs(t, err, geometry.ErrEmptyFrame)
	_, err = p.ProcessFrame(context.Background(), nil)
	assert.ErrorIs(t, err, geometry.ErrEmptyFrame)
	assert.False(t, called)
}

func TestProcessFrameFPS(t *testing.T) {
	mock := clock.NewMock()
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits, WithClock(mock))

	res, err := p.ProcessFrame(context.Background(), frame(1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.FPS)

	mock.Add(50 * time.Millisecond)
	res, err = p.ProcessFrame(context.Background(), frame(2))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, res.FPS, 1e-9)

	lines := p.Oplog().Lines()
	assert.Contains(t, lines[len(lines)-1], "Detections: 1, FPS=20.0")
}

func TestRunContinuesAfterErrors(t *testing.T) {
	calls := 0
	rt := RuntimeFunc(func(context.Context, *image.RGBA) (*tensor.Dense, error) {
		calls++
		switch calls {
		case 1:
			return nil, errors.New("runtime unavailable")
		case 2:
			return tensor.New(tensor.WithShape(1, 3, 3), tensor.WithBacking(make([]float32, 9))), nil
		case 3:
			panic("bad model")
		default:
			return twelve(), nil
		}
	})
	pub := &recordingPublisher{}
	m := metrics.New()
	p := New(DefaultConfig(), rt, digits, WithPublisher(pub), WithMetrics(m))

	frames := make(chan *types.Frame, 5)
	for i := uint64(1); i <= 4; i++ {
		frames <- frame(i)
	}
	frames <- nil
	close(frames)

	require.NoError(t, p.Run(context.Background(), frames))
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, uint64(4), m.FramesFailed.Load())
	assert.Equal(t, uint64(1), m.FramesProcessed.Load())
}

func TestSetDisplaySize(t *testing.T) {
	p := New(DefaultConfig(), fixedRuntime(twelve()), digits, WithResizeDebounce(time.Millisecond))
	assert.Equal(t, types.DefaultDisplaySize, p.DisplaySize())

	assert.ErrorIs(t, p.SetDisplaySize(0, 100), ErrInvalidDisplaySize)
	require.NoError(t, p.SetDisplaySize(1080, 2400))
	assert.Equal(t, types.DisplaySize{Width: 1080, Height: 2400}, p.DisplaySize())

	require.Eventually(t, func() bool {
		for _, l := range p.Oplog().Lines() {
			if strings.HasSuffix(l, "Display: 1080x2400") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
