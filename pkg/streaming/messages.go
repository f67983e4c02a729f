// Package streaming defines the JSON messages a recorder streams to a live
// telemetry server over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/rflink/bridge/pkg/core"
)

// Message types.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeSample       = "sample"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement of a session boundary.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces a recording.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// SamplePayload carries one exchange.
type SamplePayload struct {
	SessionID string       `json:"sessionId"`
	Sample    *core.Sample `json:"sample"`
}
