// Package pipeline runs the per-frame detection flow: letterbox, inference,
// decode, suppression, display mapping, merge, and the dispatch branch (crop,
// dedup, hand-off). It owns all per-process state so stages stay pure.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorgonia.org/tensor"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/decoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dedup"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/merge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/nms"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/oplog"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/snapshot"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/pkg/types"
)

// Status strings shown by the monitor.
const (
	StatusNoDetections = "No detections"
	StatusSending      = "Sending..."
)

// ErrInvalidDisplaySize is returned for non-positive display dimensions.
var ErrInvalidDisplaySize = errors.New("pipeline: display size must be positive")

// Runtime runs the detector on a letterboxed canvas.
type Runtime interface {
	Infer(ctx context.Context, canvas *image.RGBA) (*tensor.Dense, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, canvas *image.RGBA) (*tensor.Dense, error)

func (f RuntimeFunc) Infer(ctx context.Context, canvas *image.RGBA) (*tensor.Dense, error) {
	return f(ctx, canvas)
}

// Dispatcher accepts reports without blocking.
type Dispatcher interface {
	TrySubmit(r dispatch.Report) bool
	State() dispatch.State
}

// Publisher receives every frame's display-space result (the render path).
type Publisher interface {
	Publish(r Result)
}

// Config groups the stage thresholds.
type Config struct {
	Decoder      decoder.Config
	IoUThreshold float32
	Merge        merge.Config
}

func DefaultConfig() Config {
	return Config{
		Decoder:      decoder.DefaultConfig(),
		IoUThreshold: nms.DefaultIoUThreshold,
		Merge:        merge.DefaultConfig(),
	}
}

// Result is the outcome of one frame.
type Result struct {
	FrameNum   uint64
	Timestamp  time.Time
	FrameSize  types.DisplaySize
	Display    types.DisplaySize
	Layout     decoder.Layout
	Detections []detection.Detection // display space, merged
	Decoded    int
	Kept       int
	Dispatched int
	FPS        float64
	Status     string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

func WithClock(clk clock.Clock) Option      { return func(p *Pipeline) { p.clock = clk } }
func WithOplog(l *oplog.Log) Option         { return func(p *Pipeline) { p.oplog = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }
func WithDispatcher(d Dispatcher) Option    { return func(p *Pipeline) { p.dispatcher = d } }
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, pub) }
}
func WithResizeDebounce(d time.Duration) Option {
	return func(p *Pipeline) { p.resizeDebounce = d }
}

// Pipeline is the per-process detection context. ProcessFrame must be called
// from a single goroutine; SetDisplaySize may be called from any goroutine.
type Pipeline struct {
	cfg        Config
	runtime    Runtime
	decoder    *decoder.Decoder
	dispatcher Dispatcher
	publishers []Publisher
	oplog      *oplog.Log
	metrics    *metrics.Metrics
	clock      clock.Clock

	resizeDebounce time.Duration
	logResize      func(func())

	display atomic.Pointer[types.DisplaySize]
	status  atomic.Pointer[string]

	// owned by the frame goroutine
	gate        dedup.Gate
	lastFrameAt time.Time
	fps         float64
	lastShape   string
}

// New creates a Pipeline. Without WithDispatcher the dispatch branch is skipped.
func New(cfg Config, runtime Runtime, labels detection.Labels, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:            cfg,
		runtime:        runtime,
		decoder:        decoder.New(cfg.Decoder, labels),
		clock:          clock.New(),
		resizeDebounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.oplog == nil {
		p.oplog = oplog.New(oplog.DefaultCapacity, p.clock)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	p.logResize = debounce.New(p.resizeDebounce)

	size := types.DefaultDisplaySize
	p.display.Store(&size)
	status := StatusNoDetections
	p.status.Store(&status)
	return p
}

// Oplog returns the operator log.
func (p *Pipeline) Oplog() *oplog.Log { return p.oplog }

// SetDisplaySize records the display surface size used for the render path.
func (p *Pipeline) SetDisplaySize(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidDisplaySize, "%dx%d", width, height)
	}
	size := types.DisplaySize{Width: width, Height: height}
	p.display.Store(&size)
	p.logResize(func() {
		cur := p.DisplaySize()
		p.oplog.Appendf("Display: %dx%d", cur.Width, cur.Height)
	})
	return nil
}

// DisplaySize returns the current display size (1x1 until reported).
func (p *Pipeline) DisplaySize() types.DisplaySize {
	return *p.display.Load()
}

// Status returns the current detection status line.
func (p *Pipeline) Status() string {
	return *p.status.Load()
}

func (p *Pipeline) setStatus(s string) {
	p.status.Store(&s)
}

// ProcessFrame runs one frame through every stage. Errors affect only this
// frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, f *types.Frame) (Result, error) {
	if f.Empty() {
		return Result{}, geometry.ErrEmptyFrame
	}
	start := p.clock.Now()
	if !f.Timestamp.IsZero() {
		p.metrics.UpdateFrameLatency(f.Timestamp, start)
	}

	canvas, tr, err := geometry.Letterbox(f.Image, p.cfg.Decoder.CanvasSize)
	if err != nil {
		return Result{}, errors.Wrap(err, "letterbox")
	}
	out, err := p.runtime.Infer(ctx, canvas)
	if err != nil {
		return Result{}, errors.Wrap(err, "inference")
	}
	if out != nil {
		p.noteShape(out)
	}

	decoded, layout, err := p.decoder.DecodeTensor(out, tr, f.Width, f.Height)
	if err != nil {
		return Result{}, errors.Wrap(err, "decode")
	}
	kept := nms.Suppress(decoded, p.cfg.IoUThreshold)

	display := p.DisplaySize()
	onScreen := lo.Map(kept, func(d detection.Detection, _ int) detection.Detection {
		return d.In(geometry.SpaceDisplay, geometry.FrameToDisplay(d.Box(), f.Width, f.Height, display.Width, display.Height))
	})
	merged := merge.Adjacent(onScreen, p.cfg.Merge)

	p.updateFPS(start)
	res := Result{
		FrameNum:   f.FrameNum,
		Timestamp:  f.Timestamp,
		FrameSize:  types.DisplaySize{Width: f.Width, Height: f.Height},
		Display:    display,
		Layout:     layout,
		Detections: merged,
		Decoded:    len(decoded),
		Kept:       len(kept),
		FPS:        p.fps,
		Status:     StatusNoDetections,
	}
	if len(merged) > 0 {
		res.Status = fmt.Sprintf("Objects: %d", len(merged))
	}
	p.oplog.Appendf("Detections: %d, FPS=%.1f", len(merged), p.fps)

	res.Dispatched = p.dispatchAll(f, merged, display)
	if res.Dispatched > 0 {
		res.Status = StatusSending
	}
	p.setStatus(res.Status)

	p.metrics.FramesProcessed.Add(1)
	p.metrics.DetectionsDecoded.Add(uint64(len(decoded)))
	p.metrics.DetectionsKept.Add(uint64(len(kept)))
	p.metrics.DetectionsEmitted.Add(uint64(len(merged)))
	p.metrics.SetFPS(p.fps)
	p.metrics.UpdateProcessLatency(p.clock.Since(start))

	for _, pub := range p.publishers {
		pub.Publish(res)
	}
	return res, nil
}

// dispatchAll maps each merged detection back to the frame and offers it to
// the dispatcher. A candidate is dispatched only if the crop succeeds, the
// dedup gate accepts it and the slot is idle, checked in that order.
func (p *Pipeline) dispatchAll(f *types.Frame, merged []detection.Detection, display types.DisplaySize) int {
	if p.dispatcher == nil {
		return 0
	}
	sent := 0
	for _, d := range merged {
		box := geometry.DisplayToFrame(d.Box(), f.Width, f.Height, display.Width, display.Height)
		inFrame := d.In(geometry.SpaceFrame, box)

		crop, err := snapshot.Crop(f.Image, box)
		if err != nil {
			p.metrics.CropErrors.Add(1)
			continue
		}
		if !p.gate.Accept(inFrame) {
			p.metrics.DispatchDuplicates.Add(1)
			continue
		}
		ok := p.dispatcher.TrySubmit(dispatch.Report{
			Label:      inFrame.Label(),
			Confidence: inFrame.Confidence(),
			Box:        box,
			Image:      crop,
			CapturedAt: f.Timestamp,
		})
		if !ok {
			p.metrics.DispatchBusy.Add(1)
			continue
		}
		sent++
		p.metrics.DispatchAccepted.Add(1)
		p.oplog.Appendf("Sending: '%s' %d%%", inFrame.Label(), int(inFrame.Confidence()*100))
	}
	return sent
}

func (p *Pipeline) updateFPS(now time.Time) {
	if !p.lastFrameAt.IsZero() {
		if dt := now.Sub(p.lastFrameAt).Milliseconds(); dt > 0 {
			p.fps = 1000 / float64(dt)
		}
	}
	p.lastFrameAt = now
}

func (p *Pipeline) noteShape(out *tensor.Dense) {
	shape := fmt.Sprint([]int(out.Shape()))
	if shape == p.lastShape {
		return
	}
	p.lastShape = shape
	layout, err := decoder.SelectLayout(out.Shape())
	if err != nil {
		p.oplog.Warnf("Model output: %s (unsupported)", shape)
		return
	}
	p.oplog.Appendf("Model output: %s (%s)", shape, layout)
}

// Run processes frames until ctx is done or frames is closed. Frame errors
// are logged and counted; the loop always moves on to the next frame.
func (p *Pipeline) Run(ctx context.Context, frames <-chan *types.Frame) error {
	logger.Info("Pipeline", "Processing frames")
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.safeProcess(ctx, f); err != nil {
				p.metrics.FramesFailed.Add(1)
				p.oplog.Warnf("Frame %d: %v", frameNum(f), err)
			}
		}
	}
}

func (p *Pipeline) safeProcess(ctx context.Context, f *types.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	_, err = p.ProcessFrame(ctx, f)
	return err
}

func frameNum(f *types.Frame) uint64 {
	if f == nil {
		return 0
	}
	return f.FrameNum
}
