// Package bridge provides the WebSocket bridge between the shell and the
// sandboxed rendering surface. The surface has no OS access of its own;
// everything it may do goes through a small set of allow-listed channels.
package bridge

import (
	"encoding/json"
	"time"
)

// Channel names. These are the only channels a client can use; the
// allow-lists below are fixed at compile time, not configuration.
const (
	// ChannelGetAPIPort is an invokable request for the backend port.
	ChannelGetAPIPort = "get-api-port"

	// ChannelBackendLog streams raw backend output chunks.
	ChannelBackendLog = "backend-log"

	// ChannelBackendPort announces each successful port discovery.
	ChannelBackendPort = "backend-port"
)

// invokableChannels are request/response channels a client may invoke.
var invokableChannels = map[string]bool{
	ChannelGetAPIPort: true,
}

// subscribableChannels are event channels a client may subscribe to.
var subscribableChannels = map[string]bool{
	ChannelBackendLog:  true,
	ChannelBackendPort: true,
}

// MessageType identifies the kind of message on the wire.
type MessageType string

const (
	// MessageTypeInvoke is a client request on an invokable channel.
	MessageTypeInvoke MessageType = "invoke"

	// MessageTypeResult answers an invoke, correlated by ID.
	MessageTypeResult MessageType = "result"

	// MessageTypeSubscribe asks for events on a subscribable channel.
	MessageTypeSubscribe MessageType = "subscribe"

	// MessageTypeSubscribed confirms a subscription, correlated by ID.
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeUnsubscribe detaches the client from a channel.
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// MessageTypeEvent carries one event on a subscribed channel.
	MessageTypeEvent MessageType = "event"

	// MessageTypeError reports a failure, correlated by ID when possible.
	MessageTypeError MessageType = "error"
)

// Message is the envelope for all bridge messages. ID correlates requests
// with responses; Channel names the allow-listed channel in use.
type Message struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Channel string      `json:"channel,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// clientMessage is the inbound shape, with the payload left raw for the
// per-channel handler to decode.
type clientMessage struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LogEventPayload carries one raw backend output chunk. Chunks are
// delivered verbatim, in arrival order; there is no replay for late
// subscribers.
type LogEventPayload struct {
	Chunk     string `json:"chunk"`
	Timestamp int64  `json:"timestamp"`
}

// PortEventPayload announces a discovered backend port.
type PortEventPayload struct {
	Port int `json:"port"`
}

// PortResultPayload answers get-api-port. Port is null until discovery
// has succeeded.
type PortResultPayload struct {
	Port *int `json:"port"`
}

// ErrorPayload carries a stable error code plus a human-readable message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewLogEventMessage creates a backend-log event for one output chunk.
func NewLogEventMessage(chunk string) Message {
	return Message{
		Type:    MessageTypeEvent,
		Channel: ChannelBackendLog,
		Payload: LogEventPayload{
			Chunk:     chunk,
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

// NewPortEventMessage creates a backend-port event.
func NewPortEventMessage(port int) Message {
	return Message{
		Type:    MessageTypeEvent,
		Channel: ChannelBackendPort,
		Payload: PortEventPayload{Port: port},
	}
}

// NewResultMessage creates an invoke result correlated by id.
func NewResultMessage(id, channel string, payload interface{}) Message {
	return Message{
		Type:    MessageTypeResult,
		ID:      id,
		Channel: channel,
		Payload: payload,
	}
}

// NewErrorMessage creates an error reply.
func NewErrorMessage(id, channel, code, message string) Message {
	return Message{
		Type:    MessageTypeError,
		ID:      id,
		Channel: channel,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
