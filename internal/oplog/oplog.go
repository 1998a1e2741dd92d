// Package oplog keeps the bounded, timestamped operator log surfaced by the
// monitor. Every line is mirrored to the process logger.
package oplog

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
)

// DefaultCapacity is the number of lines retained before the oldest is dropped.
const DefaultCapacity = 100

const timeLayout = "15:04:05"

// Entry is one operator log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the entry as "[HH:MM:SS] message".
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format(timeLayout), e.Message)
}

// Log is a bounded append-only list of entries. It is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	clock    clock.Clock
}

// New creates a Log holding at most capacity entries.
func New(capacity int, clk clock.Clock) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		clock:    clk,
	}
}

// Appendf adds an informational line.
func (l *Log) Appendf(format string, args ...interface{}) {
	msg := l.append(format, args...)
	logger.Info("Oplog", "%s", msg)
}

// Warnf adds a line describing a failure.
func (l *Log) Warnf(format string, args ...interface{}) {
	msg := l.append(format, args...)
	logger.Warn("Oplog", "%s", msg)
}

func (l *Log) append(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	entry := Entry{Time: l.clock.Now(), Message: msg}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	return msg
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the retained entries rendered as strings, oldest first.
func (l *Log) Lines() []string {
	entries := l.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
