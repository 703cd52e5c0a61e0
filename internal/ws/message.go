package ws

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Control channel message types.
const (
	TypeUIHello  = "ui_hello"
	TypeFocusGID = "focus_gid"
	TypeCamMeta  = "cam_meta"
)

// ControlMessage is the envelope of every control channel message.
type ControlMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloMessage greets a new control client.
type HelloMessage struct {
	Type string    `json:"type"`
	Data HelloData `json:"data"`
}

type HelloData struct {
	OK bool `json:"ok"`
}

// FocusMessage carries the shared focused global id; a nil GID clears focus.
type FocusMessage struct {
	Type string    `json:"type"`
	Data FocusData `json:"data"`
}

type FocusData struct {
	GID *int `json:"gid"`
}

// NewHelloMessage creates a ui_hello message
func NewHelloMessage() *HelloMessage {
	return &HelloMessage{Type: TypeUIHello, Data: HelloData{OK: true}}
}

// NewFocusMessage creates a focus_gid message
func NewFocusMessage(gid *int) *FocusMessage {
	return &FocusMessage{Type: TypeFocusGID, Data: FocusData{GID: gid}}
}

// NormalizeGID converts a client-supplied focus value to a global id.
// null, "", "null" and anything that is not an integer clear the focus.
// Non-integral numbers are truncated.
func NormalizeGID(v any) *int {
	switch g := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return nil
		}
		id := int(g)
		return &id
	case json.Number:
		if id, err := strconv.Atoi(g.String()); err == nil {
			return &id
		}
		f, err := g.Float64()
		if err != nil {
			return nil
		}
		return NormalizeGID(f)
	case string:
		s := strings.TrimSpace(g)
		if s == "" || s == "null" {
			return nil
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &id
	default:
		return nil
	}
}

// cameraIDString renders the cam_id of a cam_meta payload, which edge
// devices send either as a string or a number.
func cameraIDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		return id.String(), true
	default:
		return "", false
	}
}
