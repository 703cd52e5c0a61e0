package pipeline

import (
	"encoding/json"

	"bevsync/internal/registry"
	"bevsync/internal/state"
	"bevsync/internal/tracker"
)

// EventType identifies a viewer-facing broadcast.
type EventType string

const (
	EventCameraInit   EventType = "camera_init"
	EventCameraUpdate EventType = "camera_update"
	EventDetectedData EventType = "detected_data"
	EventCameraStatus EventType = "camera_status"
)

// FrameMessage is one inbound frame on an ingest channel.
type FrameMessage struct {
	Version     int               `json:"v"`
	TS          *float64          `json:"ts,omitempty"`
	FrameID     *int64            `json:"frame_id,omitempty"`
	Seq         *int64            `json:"seq,omitempty"`
	CaptureTsUs *int64            `json:"capture_ts_us,omitempty"`
	Detections  []json.RawMessage `json:"detections"`
}

// Detection is one detection inside a FrameMessage. Either x/y or
// bev_x/bev_y must be present; bev_* wins per coordinate.
type Detection struct {
	X          *float64        `json:"x,omitempty"`
	Y          *float64        `json:"y,omitempty"`
	BevX       *float64        `json:"bev_x,omitempty"`
	BevY       *float64        `json:"bev_y,omitempty"`
	Confidence *float64        `json:"conf,omitempty"`
	BBox       []float64       `json:"bbox,omitempty"`
	Foot       []float64       `json:"foot,omitempty"`
	Embedding  json.RawMessage `json:"embedding,omitempty"`
	EmbB64     string          `json:"emb_b64,omitempty"`
	EmbDtype   string          `json:"emb_dtype,omitempty"`
	TrueID     *int            `json:"true_id,omitempty"`
}

// Position returns the detection's map position, or false when a coordinate
// is missing.
func (d *Detection) Position() (tracker.Point, bool) {
	x, y := d.BevX, d.BevY
	if x == nil {
		x = d.X
	}
	if y == nil {
		y = d.Y
	}
	if x == nil || y == nil {
		return tracker.Point{}, false
	}
	return tracker.Point{X: *x, Y: *y}, true
}

// HasEmbedding reports whether the detection carries an embedding in either
// encoding.
func (d *Detection) HasEmbedding() bool {
	return d.hasEmbeddingList() || d.EmbB64 != ""
}

func (d *Detection) hasEmbeddingList() bool {
	return len(d.Embedding) > 0 && string(d.Embedding) != "null"
}

// CameraListMessage is sent as camera_init and camera_update.
type CameraListMessage struct {
	Type    EventType                        `json:"type"`
	Cameras map[string]registry.CameraConfig `json:"cameras"`
}

// DetectedDataMessage carries the full LiveResult snapshot.
type DetectedDataMessage struct {
	Type EventType                   `json:"type"`
	Data map[string]state.LiveResult `json:"data"`
}

// CameraStatusMessage carries the derived status of every camera.
type CameraStatusMessage struct {
	Type   EventType                     `json:"type"`
	Status map[string]state.CameraStatus `json:"status"`
}

// Event is what the Engine publishes on the EventBus. Message is one of the
// *Message types above and is ready to be marshalled as-is.
type Event struct {
	Type    EventType
	Message any
}
