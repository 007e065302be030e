package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/welldanyogia/llmbot-stream/internal/events"
	"github.com/welldanyogia/llmbot-stream/internal/metrics"
)

// WebSocketClient holds an authenticated websocket connection to the chat platform and
// reconnects with capped exponential backoff when it drops.
type WebSocketClient struct {
	router

	url    string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	// readTimeout is how long the connection may stay silent, pings and pongs included,
	// before it is treated as dead.
	readTimeout  time.Duration
	pingInterval time.Duration

	connected atomic.Bool
	actionSeq atomic.Int64
}

// WebSocketOption configures a WebSocketClient.
type WebSocketOption func(*WebSocketClient)

// WithWebSocketLogger sets the client logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(c *WebSocketClient) { c.logger = componentLogger(logger, "websocket") }
}

// WithReconnectBackoff sets the reconnect delay bounds.
func WithReconnectBackoff(min, max time.Duration) WebSocketOption {
	return func(c *WebSocketClient) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(c *WebSocketClient) { c.dialer.HandshakeTimeout = d }
}

// WithKeepAlive sets how often the client pings and how long it waits for any frame,
// ping or pong before dropping the connection. pingInterval must be shorter than readTimeout.
func WithKeepAlive(pingInterval, readTimeout time.Duration) WebSocketOption {
	return func(c *WebSocketClient) {
		if pingInterval > 0 && readTimeout > pingInterval {
			c.pingInterval = pingInterval
			c.readTimeout = readTimeout
		}
	}
}

// NewWebSocketClient creates a client for the websocket endpoint at url authenticating with token.
func NewWebSocketClient(url, token string, opts ...WebSocketOption) *WebSocketClient {
	c := &WebSocketClient{
		url:          url,
		token:        token,
		dialer:       &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger:       componentLogger(nil, "websocket"),
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
		readTimeout:  60 * time.Second,
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the websocket is currently open.
func (c *WebSocketClient) Connected() bool {
	return c.connected.Load()
}

// Run connects and reads events until ctx is done, reconnecting after failures.
func (c *WebSocketClient) Run(ctx context.Context) error {
	b := newBackoff(c.minBackoff, c.maxBackoff)
	for {
		received, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			b.Reset()
		}

		delay := b.Next()
		metrics.TransportReconnects.WithLabelValues("websocket").Inc()
		c.logger.Warn("websocket disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// session runs one connection to completion. received is true once any frame arrived.
func (c *WebSocketClient) session(ctx context.Context) (received bool, err error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("websocket connected", slog.String("url", c.url))

	if c.token != "" {
		if err := c.authenticate(conn); err != nil {
			return false, err
		}
	}

	// A half-open connection never errors on its own; the read deadline catches it.
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.readTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					c.logger.Debug("websocket ping failed", slog.String("error", err.Error()))
				}
			case <-done:
				return
			}
		}
	}()

	// Sequence numbers restart at zero on every connection.
	var expected int64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		extend()

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("ignoring unparseable websocket frame", slog.String("error", err.Error()))
			continue
		}

		if env.Event == "" {
			c.handleReply(data)
			continue
		}

		if env.Seq != expected {
			metrics.TransportSequenceGaps.Inc()
			c.logger.Warn("websocket sequence gap",
				slog.Int64("expected", expected),
				slog.Int64("got", env.Seq),
			)
		}
		expected = env.Seq + 1

		c.route(env)
	}
}

func (c *WebSocketClient) authenticate(conn *websocket.Conn) error {
	action := events.Action{
		Seq:    c.actionSeq.Add(1),
		Action: events.ActionAuthenticationChallenge,
		Data:   map[string]any{"token": c.token},
	}
	if err := conn.WriteJSON(action); err != nil {
		return fmt.Errorf("send authentication challenge: %w", err)
	}
	return nil
}

func (c *WebSocketClient) handleReply(data []byte) {
	var reply events.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return
	}
	if reply.Status != "" && reply.Status != "OK" {
		c.logger.Warn("websocket action rejected",
			slog.Int64("seq_reply", reply.SeqReply),
			slog.String("status", reply.Status),
			slog.String("error", string(reply.Error)),
		)
	}
}

func (c *WebSocketClient) setConnected(v bool) {
	c.connected.Store(v)
	if v {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("closed by server (%d)", closeErr.Code)
	}
	return err.Error()
}
