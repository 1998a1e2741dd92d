package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/logger"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// DetectionBroadcaster manages fanout of detection events to multiple SSE clients.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving detection events.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// Clients returns the number of subscribed clients.
func (db *DetectionBroadcaster) Clients() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.clients)
}

// Close disconnects every client.
func (db *DetectionBroadcaster) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for id, ch := range db.clients {
		close(ch)
		delete(db.clients, id)
	}
}

// Publish serializes det once and hands it to every client. Nothing is
// serialized while no client is connected.
func (db *DetectionBroadcaster) Publish(det *DetectionResult) {
	if db.Clients() == 0 {
		return
	}
	event, err := serializeEvent(det)
	if err != nil {
		logger.Error("DetectionBroadcaster", "%v", err)
		return
	}
	db.broadcast(event)
}

func serializeEvent(det *DetectionResult) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(det)
	if err != nil {
		return nil, errors.Wrap(err, "JSON marshal")
	}

	pbEvent, err := detectionToStruct(det)
	if err != nil {
		return nil, errors.Wrap(err, "protobuf convert")
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, errors.Wrap(err, "protobuf marshal")
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// detectionToStruct builds the protobuf form of an event. Field names match
// the JSON payload.
func detectionToStruct(det *DetectionResult) (*structpb.Struct, error) {
	dets := make([]interface{}, len(det.Detections))
	for i, d := range det.Detections {
		dets[i] = map[string]interface{}{
			"label":      d.Label,
			"confidence": float64(d.Confidence),
			"bbox": map[string]interface{}{
				"left":   float64(d.BBox.Left),
				"top":    float64(d.BBox.Top),
				"right":  float64(d.BBox.Right),
				"bottom": float64(d.BBox.Bottom),
			},
		}
	}
	return structpb.NewStruct(map[string]interface{}{
		"frame_number":   float64(det.FrameNumber),
		"timestamp":      det.Timestamp,
		"num_detections": float64(det.NumDetections),
		"version":        float64(det.Version),
		"status":         det.Status,
		"display": map[string]interface{}{
			"width":  float64(det.Display.Width),
			"height": float64(det.Display.Height),
		},
		"detections": dets,
	})
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ch := range db.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
