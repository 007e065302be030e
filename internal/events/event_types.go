package events

import "time"

// Platform websocket event names
const (
	EventHello      = "hello"
	EventPostUpdate = "custom_mattermost-ai_postupdate"
)

// Platform websocket actions
const (
	ActionAuthenticationChallenge = "authentication_challenge"
)

// Post update control values
const (
	ControlNone   = ""
	ControlEnd    = "end"
	ControlCancel = "cancel"
	ControlError  = "error"
)

// SSE event names written to stream subscribers
const (
	SSEEventConnected       = "connected"
	SSEEventHeartbeat       = "heartbeat"
	SSEEventContent         = "content"
	SSEEventEnd             = "end"
	SSEEventError           = "error"
	SSEEventConnectionLimit = "connection_limit"
)

// ConnectedEvent is sent when a client attaches to a post stream.
type ConnectedEvent struct {
	PostID    string    `json:"post_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// HeartbeatEvent is sent periodically to keep the connection alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// StreamFrame carries one post update to an SSE subscriber.
type StreamFrame struct {
	PostID    string    `json:"post_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionLimitEvent is sent when a post exceeds the connection limit.
type ConnectionLimitEvent struct {
	Message        string `json:"message"`
	MaxConnections int    `json:"max_connections"`
}
