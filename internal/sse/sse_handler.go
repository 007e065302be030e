package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/welldanyogia/llmbot-stream/internal/events"
	"github.com/welldanyogia/llmbot-stream/internal/logger"
	"github.com/welldanyogia/llmbot-stream/internal/metrics"
	"github.com/welldanyogia/llmbot-stream/internal/middleware"
	"github.com/welldanyogia/llmbot-stream/internal/streaming"
)

// Handler serves post update streams over SSE.
type Handler struct {
	config      Config
	connManager *ConnectionManager
	registry    *streaming.Registry
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewHandler creates a new SSE handler subscribing to registry.
func NewHandler(config Config, connManager *ConnectionManager, registry *streaming.Registry, log *slog.Logger) *Handler {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = DefaultConfig().ConnectionTimeout
	}
	return &Handler{
		config:      config,
		connManager: connManager,
		registry:    registry,
		validate:    validator.New(),
		logger:      logger.Component(log, "sse"),
	}
}

// HandleStream streams updates for one post until the client leaves, the server
// closes the connection, or the connection times out. The subscription lives exactly
// as long as the request.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	postID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", ErrStreamingNotSupported.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	conn := NewConnection(uuid.New().String(), postID, userID, h.config.FrameQueueSize)
	h.connManager.AddConnection(conn)
	defer h.connManager.RemoveConnection(postID, conn.ID)

	handle := h.registry.Subscribe(streaming.MessageID(postID), func(ev streaming.UpdateEvent) {
		h.enqueueUpdate(conn, ev)
	})
	defer h.registry.Unsubscribe(handle)

	log := logger.WithCorrelationID(r.Context(), h.logger).With(
		slog.String("post_id", postID),
		slog.String("conn_id", conn.ID),
	)
	log.Debug("stream opened")

	w.WriteHeader(http.StatusOK)
	if err := h.writeFrame(w, flusher, h.connectedFrame(conn)); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	reason := "client disconnected"
	defer func() { log.Debug("stream closed", slog.String("reason", reason)) }()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-conn.Done:
			// Flush what was queued before the server closed us, e.g. connection_limit.
			reason = "closed by server"
			h.drain(w, flusher, conn)
			return

		case <-timeout.C:
			reason = "timeout"
			return

		case <-heartbeat.C:
			if err := h.writeFrame(w, flusher, heartbeatFrame(conn)); err != nil {
				reason = "write failed"
				return
			}

		case f := <-conn.Frames():
			if err := h.writeFrame(w, flusher, f); err != nil {
				reason = "write failed"
				return
			}
		}
	}
}

// StreamStatus is returned by HandleStatus.
type StreamStatus struct {
	PostID      string `json:"post_id"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
}

// HandleStatus reports how many clients are watching a post.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	postID, _, ok := h.identify(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StreamStatus{
		PostID:      postID,
		Connections: h.connManager.CountConnections(postID),
		Subscribers: h.registry.SubscriberCount(streaming.MessageID(postID)),
	})
}

// identify validates the post id and resolves the requesting user, writing an
// error response when either is missing.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (postID, userID string, ok bool) {
	userID, ok = middleware.ExtractUserID(r.Context())
	if !ok {
		userID = r.Header.Get(middleware.UserIDHeader)
	}
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "USER_MISSING", "Not authorized")
		return "", "", false
	}

	postID = chi.URLParam(r, "postid")
	if err := h.validate.Var(postID, "required,alphanum,max=64"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_POST_ID", "Post ID must be alphanumeric")
		return "", "", false
	}
	return postID, userID, true
}

// enqueueUpdate runs on the dispatcher goroutine and must not block.
func (h *Handler) enqueueUpdate(conn *Connection, ev streaming.UpdateEvent) {
	data, err := json.Marshal(events.StreamFrame{
		PostID:    string(ev.MessageID),
		Kind:      string(ev.Kind),
		Message:   ev.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	err = conn.Enqueue(Frame{Event: sseEventFor(ev.Kind), ID: conn.NextFrameID(), Data: data})
	if errors.Is(err, ErrSlowConsumer) {
		h.logger.Warn("closing slow stream consumer",
			slog.String("post_id", conn.PostID),
			slog.String("conn_id", conn.ID),
		)
	}
}

func (h *Handler) drain(w http.ResponseWriter, flusher http.Flusher, conn *Connection) {
	for {
		select {
		case f := <-conn.Frames():
			if err := h.writeFrame(w, flusher, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handler) writeFrame(w http.ResponseWriter, flusher http.Flusher, f Frame) error {
	if _, err := fmt.Fprint(w, f.String()); err != nil {
		return err
	}
	flusher.Flush()
	metrics.SSEFramesWritten.WithLabelValues(f.Event).Inc()
	return nil
}

func (h *Handler) connectedFrame(conn *Connection) Frame {
	data, _ := json.Marshal(events.ConnectedEvent{
		PostID:    conn.PostID,
		Timestamp: time.Now().UTC(),
		Message:   "Connected to post stream",
	})
	return Frame{Event: events.SSEEventConnected, ID: conn.NextFrameID(), Data: data}
}

func heartbeatFrame(conn *Connection) Frame {
	data, _ := json.Marshal(events.HeartbeatEvent{Timestamp: time.Now().UTC()})
	return Frame{Event: events.SSEEventHeartbeat, ID: conn.NextFrameID(), Data: data}
}

func sseEventFor(kind streaming.Kind) string {
	switch kind {
	case streaming.KindEnd:
		return events.SSEEventEnd
	case streaming.KindError:
		return events.SSEEventError
	default:
		return events.SSEEventContent
	}
}
