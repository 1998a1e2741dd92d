package webmonitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/oplog"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/pkg/types"
)

// Pipeline is the part of the frame loop the monitor controls and reads.
type Pipeline interface {
	SetDisplaySize(width, height int) error
	DisplaySize() types.DisplaySize
	Status() string
	Oplog() *oplog.Log
}

// JournalReader lists recent dispatch records.
type JournalReader interface {
	Recent(limit int) ([]journal.Record, error)
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithJournal exposes dispatch records at /api/journal.
func WithJournal(j JournalReader) ServerOption {
	return func(s *Server) { s.journal = j }
}

// Server serves the monitor endpoints.
type Server struct {
	cfg      Config
	monitor  *Monitor
	pipeline Pipeline
	journal  JournalReader
	started  time.Time
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, monitor *Monitor, p Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg.withDefaults(),
		monitor:  monitor,
		pipeline: p,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.monitor.broadcaster == nil {
		s.monitor.broadcaster = NewDetectionBroadcaster()
	}
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/display", s.handleDisplay)
	mux.HandleFunc("/api/journal", s.handleJournal)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) statusPayload() map[string]any {
	stats, latest, history := s.monitor.Snapshot()
	return map[string]any{
		"monitor":           stats,
		"status":            s.pipeline.Status(),
		"display":           s.pipeline.DisplaySize(),
		"latest_detection":  latest,
		"detection_history": history,
		"timestamp":         float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.broadcaster.Subscribe()
	defer s.monitor.broadcaster.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamDetectionEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.Keepalive)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	log := s.pipeline.Oplog()
	writeJSON(w, map[string]any{
		"entries": log.Lines(),
		"count":   log.Len(),
	})
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.pipeline.DisplaySize())
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var size types.DisplaySize
	if err := json.NewDecoder(r.Body).Decode(&size); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid display size"}, http.StatusBadRequest)
		return
	}
	if err := s.pipeline.SetDisplaySize(size.Width, size.Height); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	logger.Debug("WebMonitor", "Display size reported: %dx%d", size.Width, size.Height)
	writeJSON(w, size)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal disabled"}, http.StatusNotFound)
		return
	}
	limit := s.cfg.JournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.journal.Recent(limit)
	if err != nil {
		logger.Warn("WebMonitor", "Journal read failed: %v", errors.Cause(err))
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _, _ := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status":           "ok",
		"uptime_s":         int(time.Since(s.started).Seconds()),
		"frames_processed": stats.FramesProcessed,
		"stream_clients":   s.monitor.broadcaster.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
