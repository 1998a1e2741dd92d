package main

import (
	"context"
	"flag"
	"image"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/framesource"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/model"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/oplog"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/snapshot"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/transport"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/webmonitor"
)

var (
	// Command-line flags
	envFile      = flag.String("env", ".env", "Optional .env file with endpoint settings")
	frameDir     = flag.String("frames", "./frames", "Directory watched for new frames")
	labelsPath   = flag.String("labels", "labels.txt", "Label file, one label per line")
	modelURL     = flag.String("model-url", "", "Inference endpoint (env DETECTOR_MODEL_URL)")
	uploadURL    = flag.String("upload-url", "", "Report backend base URL (env DETECTOR_UPLOAD_URL)")
	uploadKey    = flag.String("upload-key", "", "Report backend API key (env DETECTOR_UPLOAD_KEY)")
	uploadTable  = flag.String("upload-table", "", "Report table (env DETECTOR_UPLOAD_TABLE)")
	deviceID     = flag.String("device-id", "", "Device identifier sent with reports (env DETECTOR_DEVICE_ID)")
	journalPath  = flag.String("journal", "", "SQLite file for the dispatch journal (disabled if empty)")
	httpAddr     = flag.String("http", ":8080", "Monitor HTTP address")
	metricsAddr  = flag.String("metrics", ":9090", "Metrics server address")
	confidence   = flag.Float64("confidence", 0.70, "Minimum detection confidence")
	iouThreshold = flag.Float64("iou", 0.45, "Suppression IoU threshold")
	cooldown     = flag.Duration("cooldown", 1500*time.Millisecond, "Delay after a send before the next one")
	minInterval  = flag.Duration("min-interval", 800*time.Millisecond, "Minimum spacing between sends")
	jpegQuality  = flag.Int("jpeg-quality", snapshot.DefaultJPEGQuality, "JPEG quality of uploaded crops")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
	logFile      = flag.String("log-file", "", "Also write logs to this rotated file")
)

// Detector wires the frame source, pipeline, dispatcher and monitor.
type Detector struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics     *metrics.Metrics
	source      *framesource.DirSource
	pipeline    *pipeline.Pipeline
	coordinator *dispatch.Coordinator
	journal     *journal.Journal
	httpServer  *http.Server
}

func main() {
	flag.Parse()

	logCloser, err := logger.Setup(logger.Config{
		Level: *logLevel,
		Color: *logColor,
		File:  *logFile,
	})
	if err != nil {
		log.Fatalf("Invalid log settings: %v", err)
	}
	defer logCloser.Close()

	if err := godotenv.Load(*envFile); err != nil {
		logger.Debug("Main", "No env file loaded (%s): %v", *envFile, err)
	}

	logger.Info("Main", "Detector starting...")

	d, err := NewDetector()
	if err != nil {
		logger.Error("Main", "Failed to create detector: %v", err)
		os.Exit(1)
	}
	d.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := d.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Detector stopped")
}

// envOr returns the flag value, or the environment variable when the flag is empty.
func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

// NewDetector builds every component from the flags.
func NewDetector() (*Detector, error) {
	clk := clock.New()
	m := metrics.New()
	olog := oplog.New(oplog.DefaultCapacity, clk)

	runtime, err := model.NewRemote(model.RemoteConfig{URL: envOr(*modelURL, "DETECTOR_MODEL_URL")})
	if err != nil {
		return nil, err
	}
	olog.Appendf("Model: %s", runtime)

	labels, err := detection.LoadLabels(*labelsPath)
	if err != nil {
		olog.Warnf("Labels: %v (using %q)", err, detection.UnknownLabel)
	} else {
		olog.Appendf("Labels: %d loaded", len(labels))
	}

	source, err := framesource.NewDirSource(*frameDir, clk)
	if err != nil {
		return nil, err
	}

	d := &Detector{metrics: m, source: source}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if *journalPath != "" {
		j, err := journal.Open(*journalPath)
		if err != nil {
			source.Close()
			return nil, err
		}
		d.journal = j
	}

	cfg := pipeline.DefaultConfig()
	cfg.Decoder.ConfidenceThreshold = float32(*confidence)
	cfg.IoUThreshold = float32(*iouThreshold)

	broadcaster := webmonitor.NewDetectionBroadcaster()
	monitorCfg := webmonitor.DefaultConfig()
	monitorCfg.Addr = *httpAddr
	monitor := webmonitor.NewMonitor(monitorCfg.HistorySize, broadcaster)

	opts := []pipeline.Option{
		pipeline.WithClock(clk),
		pipeline.WithOplog(olog),
		pipeline.WithMetrics(m),
		pipeline.WithPublisher(monitor),
	}

	if coordinator, err := d.newCoordinator(clk, olog); err != nil {
		olog.Warnf("Uploads disabled: %v", err)
	} else {
		d.coordinator = coordinator
		opts = append(opts, pipeline.WithDispatcher(coordinator))
	}

	d.pipeline = pipeline.New(cfg, runtime, labels, opts...)

	var serverOpts []webmonitor.ServerOption
	if d.journal != nil {
		serverOpts = append(serverOpts, webmonitor.WithJournal(d.journal))
	}
	server := webmonitor.NewServer(monitorCfg, monitor, d.pipeline, serverOpts...)
	d.httpServer = &http.Server{
		Addr:    monitorCfg.Addr,
		Handler: server.Handler(),
		// Streams end with the detector context.
		BaseContext: func(net.Listener) context.Context { return d.ctx },
	}
	return d, nil
}

func (d *Detector) newCoordinator(clk clock.Clock, olog *oplog.Log) (*dispatch.Coordinator, error) {
	tcfg := transport.DefaultConfig()
	tcfg.BaseURL = envOr(*uploadURL, "DETECTOR_UPLOAD_URL")
	tcfg.APIKey = envOr(*uploadKey, "DETECTOR_UPLOAD_KEY")
	tcfg.DeviceID = envOr(*deviceID, "DETECTOR_DEVICE_ID")
	if table := envOr(*uploadTable, "DETECTOR_UPLOAD_TABLE"); table != "" {
		tcfg.Table = table
	}
	client, err := transport.New(tcfg)
	if err != nil {
		return nil, err
	}
	olog.Appendf("Uploads: %s", client.Endpoint())

	opts := []dispatch.Option{
		dispatch.WithClock(clk),
		dispatch.WithSink(olog),
		dispatch.WithEncoder(func(img image.Image) ([]byte, error) {
			return snapshot.EncodeJPEG(img, *jpegQuality)
		}),
		dispatch.WithObserver(d.observeDispatch),
	}
	if d.journal != nil {
		opts = append(opts, dispatch.WithObserver(d.journal.Observe))
	}
	return dispatch.New(dispatch.Config{Cooldown: *cooldown, MinInterval: *minInterval}, client, opts...), nil
}

func (d *Detector) observeDispatch(o dispatch.Outcome) {
	if o.Err != nil {
		d.metrics.DispatchFailed.Add(1)
	} else {
		d.metrics.DispatchSent.Add(1)
	}
	d.metrics.UploadLatencyMs.Store(uint64(o.Duration.Milliseconds()))
}

// Start starts all detector components
func (d *Detector) Start() {
	logger.Info("Main", "Starting detector...")
	logger.Info("Main", "  Frames: %s", *frameDir)
	logger.Info("Main", "  Monitor: %s", *httpAddr)
	logger.Info("Main", "  Metrics: %s", *metricsAddr)

	go func() {
		if err := d.metrics.StartServer(*metricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if d.coordinator != nil {
		d.coordinator.Start()
	}

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		if err := d.source.Run(d.ctx); err != nil {
			logger.Error("FrameSource", "%v", err)
		}
	}()
	go func() {
		defer d.wg.Done()
		if err := d.pipeline.Run(d.ctx, d.source.Frames()); err != nil {
			logger.Error("Pipeline", "%v", err)
		}
	}()
	go d.collectStats()
}

// collectStats copies component counters into the metrics registry.
func (d *Detector) collectStats() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.metrics.FramesRead.Store(d.source.Read())
			d.metrics.FramesDropped.Store(d.source.Dropped())
			if d.journal != nil {
				status := d.journal.GetStatus()
				d.metrics.JournalWritten.Store(status.Written)
				d.metrics.JournalDropped.Store(status.Dropped)
			}
		}
	}
}

// Shutdown stops the frame loop, waits for an in-flight upload and closes
// every component.
func (d *Detector) Shutdown() error {
	d.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.httpServer.Shutdown(ctx)

	err = multierr.Append(err, d.source.Close())
	d.wg.Wait()

	if d.coordinator != nil {
		d.coordinator.Close()
	}
	if d.journal != nil {
		err = multierr.Append(err, d.journal.Close())
	}
	return err
}
