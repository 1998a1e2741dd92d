// Package journal keeps a local SQLite audit trail of dispatch attempts.
package journal

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
	id          TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	box_left    REAL NOT NULL,
	box_top     REAL NOT NULL,
	box_right   REAL NOT NULL,
	box_bottom  REAL NOT NULL,
	ok          INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	message     TEXT NOT NULL,
	image_bytes INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
)`

// Record is one journaled dispatch attempt.
type Record struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Left       float32   `json:"left"`
	Top        float32   `json:"top"`
	Right      float32   `json:"right"`
	Bottom     float32   `json:"bottom"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	ImageBytes int       `json:"image_bytes"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// FromOutcome converts a dispatch outcome to a journal record.
func FromOutcome(o dispatch.Outcome) Record {
	r := Record{
		ID:         o.ID,
		Label:      o.Label,
		Confidence: o.Confidence,
		Left:       o.Box.Left,
		Top:        o.Box.Top,
		Right:      o.Box.Right,
		Bottom:     o.Box.Bottom,
		OK:         o.Err == nil,
		StatusCode: o.Result.StatusCode,
		Message:    o.Result.Message,
		ImageBytes: o.ImageBytes,
		StartedAt:  o.StartedAt,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		r.Message = o.Err.Error()
	}
	return r
}

// Journal writes records from a bounded channel on a background goroutine.
type Journal struct {
	mu         sync.RWMutex
	db         *sql.DB
	path       string
	open       bool
	written    uint64
	dropped    uint64
	recordChan chan Record
	wg         sync.WaitGroup
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create journal schema")
	}

	j := &Journal{
		db:         db,
		path:       path,
		open:       true,
		recordChan: make(chan Record, 32),
	}
	j.wg.Add(1)
	go j.writeRecords()
	return j, nil
}

// Add queues a record (non-blocking). It returns false if the record was dropped.
func (j *Journal) Add(r Record) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.open {
		return false
	}

	select {
	case j.recordChan <- r:
		return true
	default:
		j.dropped++
		return false
	}
}

// Observe adapts Add to a dispatch observer.
func (j *Journal) Observe(o dispatch.Outcome) {
	if !j.Add(FromOutcome(o)) {
		logger.Debug("Journal", "Dropped record %s", o.ID)
	}
}

func (j *Journal) writeRecords() {
	defer j.wg.Done()
	for r := range j.recordChan {
		if err := j.insert(r); err != nil {
			logger.Warn("Journal", "Write failed: %v", err)
			continue
		}
		j.mu.Lock()
		j.written++
		j.mu.Unlock()
	}
}

func (j *Journal) insert(r Record) error {
	_, err := j.db.Exec(`INSERT OR REPLACE INTO dispatches
		(id, label, confidence, box_left, box_top, box_right, box_bottom, ok, status_code, message, image_bytes, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.Confidence, r.Left, r.Top, r.Right, r.Bottom,
		r.OK, r.StatusCode, r.Message, r.ImageBytes, r.StartedAt.UnixMilli(), r.DurationMs)
	return errors.Wrap(err, "insert dispatch")
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	rows, err := j.db.Query(`SELECT id, label, confidence, box_left, box_top, box_right, box_bottom,
		ok, status_code, message, image_bytes, started_at, duration_ms
		FROM dispatches ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query dispatches")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var started int64
		if err := rows.Scan(&r.ID, &r.Label, &r.Confidence, &r.Left, &r.Top, &r.Right, &r.Bottom,
			&r.OK, &r.StatusCode, &r.Message, &r.ImageBytes, &started, &r.DurationMs); err != nil {
			return nil, errors.Wrap(err, "scan dispatch")
		}
		r.StartedAt = time.UnixMilli(started)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate dispatches")
}

// Status holds journal counters.
type Status struct {
	Path    string `json:"path"`
	Open    bool   `json:"open"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}

// GetStatus returns the current journal status.
func (j *Journal) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Status{
		Path:    j.path,
		Open:    j.open,
		Written: j.written,
		Dropped: j.dropped,
		Pending: len(j.recordChan),
	}
}

// Close drains queued records and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.open {
		j.mu.Unlock()
		return nil
	}
	j.open = false
	close(j.recordChan)
	j.mu.Unlock()

	j.wg.Wait()
	return errors.Wrap(j.db.Close(), "close journal")
}
