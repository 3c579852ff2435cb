// Package protocol defines the wire format of the QQ bot gateway WebSocket protocol
// and the JSON shapes shared by the relay's HTTP API.
package protocol

import (
	"encoding/json"
	"strconv"
)

// Gateway op codes.
const (
	OpDispatch       = 0
	OpHeartbeat      = 1
	OpIdentify       = 2
	OpResume         = 6
	OpReconnect      = 7
	OpInvalidSession = 9
	OpHello          = 10
	OpHeartbeatAck   = 11
)

// Frame is a single gateway frame. D is re-parsed according to Op (and T for dispatches).
type Frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"` // dispatch sequence, only on op=0
	T  string          `json:"t,omitempty"` // dispatch type, only on op=0
	ID string          `json:"id,omitempty"`
}

// HelloPayload is the d of op=10.
type HelloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// IdentifyPayload is the d of op=2.
type IdentifyPayload struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Shard      [2]int            `json:"shard"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ResumePayload is the d of op=6.
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// ReadyPayload is the d of the READY dispatch.
type ReadyPayload struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"user"`
	Shard [2]int `json:"shard"`
}

// NewHeartbeat builds an op=1 frame. A nil seq is sent as JSON null.
func NewHeartbeat(seq *int64) ([]byte, error) {
	d := []byte("null")
	if seq != nil {
		d = []byte(strconv.FormatInt(*seq, 10))
	}
	return json.Marshal(Frame{Op: OpHeartbeat, D: d})
}

// NewFrame marshals payload as the d of an op frame.
func NewFrame(op int, payload interface{}) ([]byte, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Op: op, D: d})
}

// ParseFrame decodes a raw gateway message.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
