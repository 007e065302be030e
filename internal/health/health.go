// Package health provides health check endpoints for the relay.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ServiceStatus represents the status of a single dependency
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Stream    *StreamStats             `json:"stream,omitempty"`
	Version   string                   `json:"version,omitempty"`
}

// StreamStats summarises in-memory relay state
type StreamStats struct {
	Subscriptions int `json:"subscriptions"`
	Connections   int `json:"connections"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// Source reports whether the upstream event source is connected
type Source interface {
	Connected() bool
}

// Counters exposes relay state for the health body
type Counters interface {
	TotalSubscribers() int
}

// ConnectionCounter exposes the number of SSE connections
type ConnectionCounter interface {
	TotalConnections() int
}

// Handler handles health check requests
type Handler struct {
	source      Source
	redisClient redis.UniversalClient
	subs        Counters
	conns       ConnectionCounter
	version     string
	timeout     time.Duration
	ready       bool
	mu          sync.RWMutex
}

// Config holds health handler configuration. Any dependency may be nil.
type Config struct {
	Source      Source
	RedisClient redis.UniversalClient
	Subscribers Counters
	Connections ConnectionCounter
	Version     string
	Timeout     time.Duration // Default: 5 seconds
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Handler{
		source:      cfg.Source,
		redisClient: cfg.RedisClient,
		subs:        cfg.Subscribers,
		conns:       cfg.Connections,
		version:     cfg.Version,
		timeout:     timeout,
		ready:       true,
	}
}

// SetReady sets the readiness state, cleared during graceful shutdown
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health reports upstream and redis connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := make(map[string]ServiceStatus)
	overallStatus := "healthy"

	upstream := h.checkSource()
	services["upstream"] = upstream
	if upstream.Status != "up" {
		overallStatus = "degraded"
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis(ctx)
		services["redis"] = redisStatus
		if redisStatus.Status != "up" {
			overallStatus = "degraded"
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	}
	if h.subs != nil || h.conns != nil {
		stats := &StreamStats{}
		if h.subs != nil {
			stats.Subscriptions = h.subs.TotalSubscribers()
		}
		if h.conns != nil {
			stats.Connections = h.conns.TotalConnections()
		}
		response.Stream = stats
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Readiness is ready while not shutting down and the upstream source is connected
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady() && h.checkSource().Status == "up"

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Liveness handles the liveness probe endpoint
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkSource() ServiceStatus {
	if h.source == nil {
		return ServiceStatus{Status: "down", Error: "event source not configured"}
	}
	if !h.source.Connected() {
		return ServiceStatus{Status: "down", Error: "event source disconnected"}
	}
	return ServiceStatus{Status: "up"}
}

// checkRedis checks Redis connectivity
func (h *Handler) checkRedis(ctx context.Context) ServiceStatus {
	start := time.Now()
	_, err := h.redisClient.Ping(ctx).Result()
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}

	return ServiceStatus{
		Status:  "up",
		Latency: latency.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
