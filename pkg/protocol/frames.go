// Package protocol defines the JSON frames the ohbridge server pushes over
// its WebSocket endpoint. Importable by clients.
package protocol

import "encoding/json"

// Protocol version, reported in the hello frame.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeEvent = "event"
	FrameTypePing  = "ping"
	FrameTypePong  = "pong"
)

// EventFrame is pushed from server to client.
type EventFrame struct {
	Type    string      `json:"type"`              // always "event"
	Event   string      `json:"event"`             // event name
	Payload interface{} `json:"payload,omitempty"` // event data
	Seq     int64       `json:"seq,omitempty"`     // per-session ordering sequence number
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type string `json:"type"` // always "pong"
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
