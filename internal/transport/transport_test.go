package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/welldanyogia/llmbot-stream/internal/config"
	"github.com/welldanyogia/llmbot-stream/internal/events"
)

type platformStub struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	auth     []string
	actions  []events.Action
	sessions int
	frames   [][]events.Envelope
}

func (p *platformStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.auth = append(p.auth, r.Header.Get("Authorization"))
	session := p.sessions
	p.sessions++
	var frames []events.Envelope
	if session < len(p.frames) {
		frames = p.frames[session]
	}
	p.mu.Unlock()

	// Clients without a token skip the challenge.
	if r.Header.Get("Authorization") != "" {
		var action events.Action
		if err := conn.ReadJSON(&action); err == nil {
			p.mu.Lock()
			p.actions = append(p.actions, action)
			p.mu.Unlock()
			_ = conn.WriteJSON(events.Reply{Status: "OK", SeqReply: action.Seq})
		}
	}

	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return
		}
	}

	if session+1 < len(p.frames) {
		// Drop the connection so the client reconnects into the next session.
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func postUpdate(t *testing.T, seq int64, postID, next, control string) events.Envelope {
	data, err := json.Marshal(events.PostUpdate{PostID: postID, Next: next, Control: control})
	require.NoError(t, err)
	return events.Envelope{Event: events.EventPostUpdate, Data: data, Seq: seq}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(c interface {
	Handle(string, HandlerFunc)
}) (func() []events.PostUpdate, chan struct{}) {
	var mu sync.Mutex
	var got []events.PostUpdate
	notify := make(chan struct{}, 64)
	c.Handle(events.EventPostUpdate, func(data json.RawMessage) {
		var u events.PostUpdate
		_ = json.Unmarshal(data, &u)
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
		notify <- struct{}{}
	})
	return func() []events.PostUpdate {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.PostUpdate(nil), got...)
	}, notify
}

func waitFor(t *testing.T, notify <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

func TestWebSocketClient_AuthenticatesAndRoutes(t *testing.T) {
	stub := &platformStub{frames: [][]events.Envelope{{
		{Event: events.EventHello, Seq: 0},
		postUpdate(t, 1, "p1", "Hel", ""),
		postUpdate(t, 2, "p1", "Hello", ""),
		{Event: "typing", Seq: 3},
		postUpdate(t, 4, "p1", "", "end"),
	}}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client := NewWebSocketClient(wsURL(srv), "secret-token")
	updates, notify := collect(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitFor(t, notify, 3)
	assert.True(t, client.Connected())

	got := updates()
	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Next)
	assert.Equal(t, "Hello", got[1].Next)
	assert.Equal(t, "end", got[2].Control)

	stub.mu.Lock()
	assert.Equal(t, []string{"Bearer secret-token"}, stub.auth)
	require.Len(t, stub.actions, 1)
	assert.Equal(t, events.ActionAuthenticationChallenge, stub.actions[0].Action)
	assert.Equal(t, "secret-token", stub.actions[0].Data["token"])
	stub.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, client.Connected())
}

func TestWebSocketClient_ReconnectsAfterDrop(t *testing.T) {
	stub := &platformStub{frames: [][]events.Envelope{
		{{Event: events.EventHello, Seq: 0}, postUpdate(t, 1, "p1", "first", "")},
		{{Event: events.EventHello, Seq: 0}, postUpdate(t, 1, "p1", "second", "")},
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client := NewWebSocketClient(wsURL(srv), "", WithReconnectBackoff(5*time.Millisecond, 20*time.Millisecond))
	updates, notify := collect(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, notify, 2)
	got := updates()
	assert.Equal(t, "first", got[0].Next)
	assert.Equal(t, "second", got[1].Next)

	stub.mu.Lock()
	assert.GreaterOrEqual(t, stub.sessions, 2)
	assert.Empty(t, stub.actions, "no challenge without a token")
	stub.mu.Unlock()
}

func TestWebSocketClient_SequenceGapStillDelivers(t *testing.T) {
	stub := &platformStub{frames: [][]events.Envelope{{
		{Event: events.EventHello, Seq: 0},
		postUpdate(t, 5, "p1", "after gap", ""),
	}}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client := NewWebSocketClient(wsURL(srv), "")
	updates, notify := collect(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, notify, 1)
	assert.Equal(t, "after gap", updates()[0].Next)
}

func TestWebSocketClient_DropsSilentConnection(t *testing.T) {
	var mu sync.Mutex
	sessions := 0
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		sessions++
		mu.Unlock()
		// Never read, so pings go unanswered: a half-open peer.
		<-release
		conn.Close()
	}))
	defer srv.Close()
	defer close(release)

	client := NewWebSocketClient(wsURL(srv), "",
		WithKeepAlive(20*time.Millisecond, 150*time.Millisecond),
		WithReconnectBackoff(10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sessions >= 2
	}, 3*time.Second, 10*time.Millisecond, "expected a reconnect after the read deadline passed")
}

func TestWebSocketClient_PongsKeepQuietConnectionOpen(t *testing.T) {
	// The stub reads continuously, so gorilla answers every ping with a pong.
	stub := &platformStub{frames: [][]events.Envelope{{{Event: events.EventHello, Seq: 0}}}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client := NewWebSocketClient(wsURL(srv), "", WithKeepAlive(20*time.Millisecond, 150*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.True(t, client.Connected())

	stub.mu.Lock()
	assert.Equal(t, 1, stub.sessions)
	stub.mu.Unlock()
}

func TestWebSocketClient_DialFailureHonoursContext(t *testing.T) {
	client := NewWebSocketClient("ws://127.0.0.1:1/api/v4/websocket", "",
		WithReconnectBackoff(10*time.Millisecond, 10*time.Millisecond),
		WithHandshakeTimeout(100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, client.Connected())
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	b.Reset()
	assert.Equal(t, time.Second, b.Next())

	b = newBackoff(0, 0)
	assert.Equal(t, time.Second, b.Next())
}

func TestRedisSource_HandleMessage(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	src := NewRedisSource(client, "updates", nil)
	updates, notify := collect(src)

	body, err := json.Marshal(postUpdate(t, 0, "p9", "hi", ""))
	require.NoError(t, err)

	src.handleMessage(string(body))
	src.handleMessage("not json")
	src.handleMessage(`{"event":"other","data":{}}`)

	waitFor(t, notify, 1)
	got := updates()
	require.Len(t, got, 1)
	assert.Equal(t, "p9", got[0].PostID)
}

func TestRedisSource_UnreachableHonoursContext(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	src := NewRedisSource(client, "updates", nil)
	src.minBackoff = 10 * time.Millisecond
	src.maxBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := src.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, src.Connected())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Load()

	cfg.Transport.Kind = config.TransportWebSocket
	src, client, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebSocketClient{}, src)
	assert.Nil(t, client)

	cfg.Transport.Kind = config.TransportRedis
	src, client, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()
	assert.IsType(t, &RedisSource{}, src)

	cfg.Transport.Kind = "carrier-pigeon"
	_, _, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
