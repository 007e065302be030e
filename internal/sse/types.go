// Package sse relays post updates to browser clients as Server-Sent Events.
package sse

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/llmbot-stream/internal/metrics"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval     time.Duration // Default: 30 seconds
	ConnectionTimeout     time.Duration // Default: 1 hour
	MaxConnectionsPerPost int           // Default: 20
	FrameQueueSize        int           // Default: 64 frames per connection
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:     30 * time.Second,
		ConnectionTimeout:     1 * time.Hour,
		MaxConnectionsPerPost: 20,
		FrameQueueSize:        64,
	}
}

// Frame is one SSE message.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// String formats the frame on the wire. Multi-line data is split across data fields.
// Format: event: <event>\ndata: <json>\nid: <id>\n\n
func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", f.Event)
	for _, line := range strings.Split(string(f.Data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	b.WriteString("\n")
	return b.String()
}

// Connection is one client attached to a post stream. Frames are queued by producers
// and written by the request goroutine that owns the connection.
type Connection struct {
	ID        string
	PostID    string
	UserID    string
	Done      chan struct{}
	CreatedAt time.Time

	frames    chan Frame
	closeOnce sync.Once
	frameSeq  atomic.Uint64
}

// NewConnection creates a connection with a frame queue of the given size.
func NewConnection(id, postID, userID string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultConfig().FrameQueueSize
	}
	return &Connection{
		ID:        id,
		PostID:    postID,
		UserID:    userID,
		Done:      make(chan struct{}),
		CreatedAt: time.Now(),
		frames:    make(chan Frame, queueSize),
	}
}

// Enqueue queues f without blocking. A connection whose queue is full is closed.
func (c *Connection) Enqueue(f Frame) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.frames <- f:
		return nil
	default:
		metrics.SSESlowConsumers.Inc()
		c.Close()
		return ErrSlowConsumer
	}
}

// Frames returns the queue drained by the writer.
func (c *Connection) Frames() <-chan Frame {
	return c.frames
}

// NextFrameID returns the next stream-unique frame id.
func (c *Connection) NextFrameID() string {
	return fmt.Sprintf("%s:%d", c.PostID, c.frameSeq.Add(1))
}

// Close closes the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}
