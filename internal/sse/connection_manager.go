package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/welldanyogia/llmbot-stream/internal/events"
)

// ConnectionManager tracks SSE connections per post.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // postID -> connID -> Connection
	config      Config
}

// NewConnectionManager creates a new ConnectionManager with the given config.
func NewConnectionManager(config Config) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		config:      config,
	}
}

// AddConnection adds a connection to its post.
// If the post has reached the connection limit, the oldest connection is sent a
// connection_limit frame and closed.
func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	postConns := cm.connections[conn.PostID]
	if postConns == nil {
		postConns = make(map[string]*Connection)
		cm.connections[conn.PostID] = postConns
	}

	if cm.config.MaxConnectionsPerPost > 0 && len(postConns) >= cm.config.MaxConnectionsPerPost {
		if oldest := oldestConnection(postConns); oldest != nil {
			cm.sendConnectionLimitFrame(oldest)
			oldest.Close()
			delete(postConns, oldest.ID)
		}
	}

	postConns[conn.ID] = conn
}

// RemoveConnection closes and removes a connection.
func (cm *ConnectionManager) RemoveConnection(postID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if postConns, exists := cm.connections[postID]; exists {
		if conn, connExists := postConns[connID]; connExists {
			conn.Close()
			delete(postConns, connID)
		}
		if len(postConns) == 0 {
			delete(cm.connections, postID)
		}
	}
}

// GetConnections returns the open connections for a post.
func (cm *ConnectionManager) GetConnections(postID string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	postConns := cm.connections[postID]
	result := make([]*Connection, 0, len(postConns))
	for _, conn := range postConns {
		if !conn.IsClosed() {
			result = append(result, conn)
		}
	}
	return result
}

// CountConnections returns the number of open connections for a post.
func (cm *ConnectionManager) CountConnections(postID string) int {
	return len(cm.GetConnections(postID))
}

// TotalConnections returns the number of open connections across all posts.
func (cm *ConnectionManager) TotalConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, postConns := range cm.connections {
		for _, conn := range postConns {
			if !conn.IsClosed() {
				total++
			}
		}
	}
	return total
}

// CleanupTimedOutConnections closes connections older than the connection timeout
// along with any that were already closed.
func (cm *ConnectionManager) CleanupTimedOutConnections() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	removed := 0
	for postID, postConns := range cm.connections {
		for connID, conn := range postConns {
			if conn.IsClosed() || time.Since(conn.CreatedAt) > cm.config.ConnectionTimeout {
				conn.Close()
				delete(postConns, connID)
				removed++
			}
		}
		if len(postConns) == 0 {
			delete(cm.connections, postID)
		}
	}
	return removed
}

// StartCleanupRoutine starts a background goroutine that periodically removes timed out connections.
// Returns a stop function to terminate the cleanup routine.
func (cm *ConnectionManager) StartCleanupRoutine(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				cm.CleanupTimedOutConnections()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// CloseAll closes every connection, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for postID, postConns := range cm.connections {
		for _, conn := range postConns {
			conn.Close()
		}
		delete(cm.connections, postID)
	}
}

// oldestConnection returns the earliest created connection.
func oldestConnection(conns map[string]*Connection) *Connection {
	var oldest *Connection
	for _, conn := range conns {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest
}

// sendConnectionLimitFrame queues a connection_limit frame. Best effort, the
// connection is closed right after.
func (cm *ConnectionManager) sendConnectionLimitFrame(conn *Connection) {
	data, err := json.Marshal(events.ConnectionLimitEvent{
		Message:        "Maximum connections for this post exceeded, closing oldest connection",
		MaxConnections: cm.config.MaxConnectionsPerPost,
	})
	if err != nil {
		return
	}
	_ = conn.Enqueue(Frame{Event: events.SSEEventConnectionLimit, ID: conn.NextFrameID(), Data: data})
}
