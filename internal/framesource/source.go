// Package framesource delivers camera frames to the pipeline. Delivery keeps
// only the latest frame: a frame that is not picked up before the next one
// arrives is dropped.
package framesource

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/pkg/types"
)

// Latest is a single-slot frame mailbox.
type Latest struct {
	ch      chan *types.Frame
	dropped atomic.Uint64
}

// NewLatest creates an empty mailbox.
func NewLatest() *Latest {
	return &Latest{ch: make(chan *types.Frame, 1)}
}

// Offer stores f, replacing any frame that has not been taken yet. It never blocks.
func (l *Latest) Offer(f *types.Frame) {
	for {
		select {
		case l.ch <- f:
			return
		default:
		}
		select {
		case <-l.ch:
			l.dropped.Add(1)
		default:
		}
	}
}

// Frames returns the receive side of the mailbox.
func (l *Latest) Frames() <-chan *types.Frame { return l.ch }

// Dropped returns how many frames were replaced before being taken.
func (l *Latest) Dropped() uint64 { return l.dropped.Load() }

// DirSource watches a directory and delivers every new JPEG or PNG file
// written into it as a frame, applying EXIF orientation.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
	latest  *Latest
	clock   clock.Clock
	count   atomic.Uint64
	errors  atomic.Uint64
}

// NewDirSource starts watching dir.
func NewDirSource(dir string, clk clock.Clock) (*DirSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DirSource{dir: dir, watcher: w, latest: NewLatest(), clock: clk}, nil
}

// Frames returns the latest-frame channel.
func (s *DirSource) Frames() <-chan *types.Frame { return s.latest.Frames() }

// Dropped returns frames replaced before the pipeline took them.
func (s *DirSource) Dropped() uint64 { return s.latest.Dropped() }

// Read returns the number of frames decoded.
func (s *DirSource) Read() uint64 { return s.count.Load() }

// ReadErrors returns the number of files that could not be decoded.
func (s *DirSource) ReadErrors() uint64 { return s.errors.Load() }

// Run forwards file events until ctx is done or the watcher closes.
func (s *DirSource) Run(ctx context.Context) error {
	logger.Info("FrameSource", "Watching %s for frames", s.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isImage(ev.Name) {
				continue
			}
			s.load(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.errors.Add(1)
			logger.Warn("FrameSource", "Watcher error: %v", err)
		}
	}
}

func (s *DirSource) load(path string) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		// Write events also fire for partially written files.
		s.errors.Add(1)
		logger.Debug("FrameSource", "Skipping %s: %v", filepath.Base(path), err)
		return
	}
	num := s.count.Add(1)
	s.latest.Offer(types.NewFrame(img, num, s.clock.Now(), path))
}

// Close stops watching.
func (s *DirSource) Close() error {
	return s.watcher.Close()
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}
