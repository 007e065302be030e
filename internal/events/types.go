// Package events defines the wire vocabulary shared by the platform connection and the SSE relay.
package events

import "encoding/json"

// Envelope is one frame received on the platform websocket.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Broadcast *Broadcast      `json:"broadcast,omitempty"`
	Seq       int64           `json:"seq"`
}

// Broadcast describes who the platform delivered an envelope to.
type Broadcast struct {
	UserID    string `json:"user_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
}

// Reply is the platform's answer to an action sent over the websocket.
type Reply struct {
	Status   string          `json:"status"`
	SeqReply int64           `json:"seq_reply"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// Action is a request sent to the platform over the websocket.
type Action struct {
	Seq    int64          `json:"seq"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// PostUpdate is the data of a post update event published by the bot while it streams a reply.
type PostUpdate struct {
	PostID  string `json:"post_id"`
	Next    string `json:"next"`
	Control string `json:"control,omitempty"`
	Error   string `json:"error,omitempty"`
}
