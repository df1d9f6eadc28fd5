// Package protocol defines the wire types shared between the gateway, the
// homebase WebSocket endpoint, and the browser WebSocket endpoint.
package protocol

import "encoding/json"

// Outbound commands (gateway -> homebase).

// EvalCommand asks the remote to execute a script and return a result.
type EvalCommand struct {
	Cmd       string `json:"cmd"` // always "eval"
	Script    string `json:"script"`
	RequestID string `json:"requestId"`
}

// SubscribeCommand asks the remote to push value changes for a key pattern.
type SubscribeCommand struct {
	Cmd   string `json:"cmd"` // always "subscribe"
	Match string `json:"match"`
	Every int    `json:"every"`
}

// UnsubscribeCommand cancels a prior subscription.
type UnsubscribeCommand struct {
	Cmd   string `json:"cmd"` // always "unsubscribe"
	Match string `json:"match"`
}

// TouchCommand asks for a one-shot push of a key's current value.
type TouchCommand struct {
	Cmd  string `json:"cmd"` // always "touch"
	Name string `json:"name"`
}

// Inbound frames (homebase -> gateway).

// InboundFrame is the superset of fields any inbound frame may carry. It is
// unmarshaled once per frame and then dispatched by shape.
type InboundFrame struct {
	// Response fields.
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`

	// Datapoint push fields.
	Type      string `json:"type"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Dtype     string `json:"dtype"`
	Data      string `json:"data"`

	// Chunked envelope fields.
	IsChunkedMessage bool   `json:"isChunkedMessage"`
	MessageID        string `json:"messageId"`
	ChunkIndex       int    `json:"chunkIndex"`
	TotalChunks      int    `json:"totalChunks"`
	IsLastChunk      bool   `json:"isLastChunk"`

	// Control ack fields.
	Action string `json:"action"`
}

// IsResponse reports whether the frame carries a request/response correlation id.
func (f *InboundFrame) IsResponse() bool {
	return f.RequestID != "" && f.Status != ""
}

// IsDatapoint reports whether the frame is a datapoint push.
func (f *InboundFrame) IsDatapoint() bool {
	return f.Type == "datapoint"
}

// IsControlAck reports whether the frame is a benign ack with no further meaning.
func (f *InboundFrame) IsControlAck() bool {
	return !f.IsResponse() && !f.IsDatapoint() && !f.IsChunkedMessage && f.Action != ""
}

// Datapoint is the normalized (name, value) pair extracted from an inbound frame.
type Datapoint struct {
	Name string
	Data string
}
