// Package dispatch serializes outbound detection reports: at most one upload
// is in flight, sends are spaced apart, and a cool-down follows every send.
// Candidates that arrive while the slot is busy are dropped, never queued.
package dispatch

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
)

// State is the dispatch slot state.
type State int32

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Report is a candidate handed over by the pipeline.
type Report struct {
	ID         string
	Label      string
	Confidence float32
	Box        geometry.Rect // frame space
	Image      image.Image
	CapturedAt time.Time
}

// Upload is what the transport receives: the report with its image encoded.
type Upload struct {
	ID         string
	Label      string
	Confidence float32
	Box        geometry.Rect
	JPEG       []byte
	Timestamp  time.Time
}

// Result is the transport's status for one upload.
type Result struct {
	StatusCode int
	Message    string
}

// Transport performs one upload. It is called from the dispatch worker only.
type Transport interface {
	Upload(ctx context.Context, u Upload) (Result, error)
}

// Encoder turns a cropped image into upload bytes.
type Encoder func(img image.Image) ([]byte, error)

// Sink receives operator-facing status lines.
type Sink interface {
	Appendf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Outcome describes a finished dispatch attempt.
type Outcome struct {
	ID         string
	Label      string
	Confidence float32
	Box        geometry.Rect
	Result     Result
	Err        error
	ImageBytes int
	StartedAt  time.Time
	Duration   time.Duration
}

// Config controls slot timing.
type Config struct {
	Cooldown    time.Duration // delay after a completed send before the slot reopens
	MinInterval time.Duration // minimum spacing between two accepted sends
}

func DefaultConfig() Config {
	return Config{
		Cooldown:    1500 * time.Millisecond,
		MinInterval: 800 * time.Millisecond,
	}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithClock(clk clock.Clock) Option { return func(c *Coordinator) { c.clock = clk } }
func WithEncoder(enc Encoder) Option   { return func(c *Coordinator) { c.encode = enc } }
func WithSink(s Sink) Option           { return func(c *Coordinator) { c.sink = s } }

// WithObserver registers a callback run on the worker after every attempt.
func WithObserver(fn func(Outcome)) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, fn) }
}

// Coordinator owns the single dispatch slot.
type Coordinator struct {
	cfg       Config
	transport Transport
	clock     clock.Clock
	encode    Encoder
	sink      Sink
	observers []func(Outcome)

	state    atomic.Int32
	lastSend atomic.Pointer[time.Time]
	jobs     chan Report

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a Coordinator. Call Start before submitting.
func New(cfg Config, transport Transport, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		transport: transport,
		clock:     clock.New(),
		sink:      loggerSink{},
		jobs:      make(chan Report, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.encode == nil {
		c.encode = func(image.Image) ([]byte, error) { return nil, nil }
	}
	return c
}

// Start launches the background worker.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// State returns the current slot state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// TrySubmit hands r to the worker if the slot is idle and the minimum spacing
// has elapsed. It never blocks; false means r was dropped.
func (c *Coordinator) TrySubmit(r Report) bool {
	if c.ctx.Err() != nil {
		return false
	}
	now := c.clock.Now()
	if last := c.lastSend.Load(); last != nil && now.Sub(*last) < c.cfg.MinInterval {
		return false
	}
	if !c.state.CompareAndSwap(int32(Idle), int32(Sending)) {
		return false
	}
	c.lastSend.Store(&now)

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CapturedAt.IsZero() {
		r.CapturedAt = now
	}
	select {
	case c.jobs <- r:
		return true
	default:
		// Unreachable while the slot is owned; release it.
		c.state.Store(int32(Idle))
		return false
	}
}

// Close stops the worker. An in-flight upload runs to completion; the
// remaining cool-down is skipped. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case r := <-c.jobs:
			c.notify(c.send(r))
			c.cooldown()
			c.state.Store(int32(Idle))
		}
	}
}

func (c *Coordinator) cooldown() {
	if c.cfg.Cooldown <= 0 {
		return
	}
	timer := c.clock.Timer(c.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.ctx.Done():
	}
}

// send encodes and uploads r. Panics from the encoder or transport are turned
// into errors so the slot always returns to Idle.
func (c *Coordinator) send(r Report) (out Outcome) {
	out = Outcome{
		ID:         r.ID,
		Label:      r.Label,
		Confidence: r.Confidence,
		Box:        r.Box,
		StartedAt:  c.clock.Now(),
	}
	defer func() {
		if p := recover(); p != nil {
			out.Err = errors.Errorf("dispatch panic: %v", p)
			c.sink.Warnf("upload crashed: %v", p)
		}
		out.Duration = c.clock.Since(out.StartedAt)
	}()

	jpeg, err := c.encode(r.Image)
	if err != nil {
		c.sink.Warnf("image encode failed: %v", err)
		jpeg = nil
	}
	out.ImageBytes = len(jpeg)

	// Sends are never cancelled; shutdown waits for them.
	res, err := c.transport.Upload(context.Background(), Upload{
		ID:         r.ID,
		Label:      r.Label,
		Confidence: r.Confidence,
		Box:        r.Box,
		JPEG:       jpeg,
		Timestamp:  r.CapturedAt,
	})
	out.Result, out.Err = res, err

	switch {
	case err == nil:
		c.sink.Appendf("upload OK: '%s' %d%%", r.Label, int(r.Confidence*100))
	case res.StatusCode != 0:
		c.sink.Warnf("upload HTTP %d: %s", res.StatusCode, res.Message)
	default:
		c.sink.Warnf("upload failed: %v", err)
	}
	return out
}

func (c *Coordinator) notify(out Outcome) {
	for _, fn := range c.observers {
		fn(out)
	}
}

// String summarizes an outcome for logs.
func (o Outcome) String() string {
	status := "ok"
	if o.Err != nil {
		status = o.Err.Error()
	}
	return fmt.Sprintf("%s '%s' %s (%s)", o.ID, o.Label, status, o.Duration)
}

type loggerSink struct{}

func (loggerSink) Appendf(format string, args ...interface{}) {
	logger.Info("Dispatch", format, args...)
}

func (loggerSink) Warnf(format string, args ...interface{}) {
	logger.Warn("Dispatch", format, args...)
}
