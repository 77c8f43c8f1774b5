package types

import "encoding/json"

// Subprotocol is the WebSocket subprotocol spoken by the stream transport.
const Subprotocol = "graphql-ws"

// FrameType is the type discriminator of a stream frame.
type FrameType string

// Client-to-server frame types.
const (
	FrameConnectionInit      FrameType = "connection_init"
	FrameStart               FrameType = "start"
	FrameStop                FrameType = "stop"
	FrameConnectionTerminate FrameType = "connection_terminate"
)

// Server-to-client frame types.
const (
	FrameConnectionAck   FrameType = "connection_ack"
	FrameConnectionError FrameType = "connection_error"
	FrameKeepAlive       FrameType = "ka"
	FrameData            FrameType = "data"
	FrameError           FrameType = "error"
	FrameComplete        FrameType = "complete"
)

// IsTerminal returns true if the frame ends the subscription it addresses.
func (f FrameType) IsTerminal() bool {
	return f == FrameComplete || f == FrameError
}

// Frame is one message on the stream connection.
// Payload shape depends on Type:
//   - connection_init: connection params ({accessToken})
//   - start: StartPayload
//   - data: Envelope
//   - error, connection_error: error object or list
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload of a start frame.
type StartPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}
