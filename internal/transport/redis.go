package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/welldanyogia/llmbot-stream/internal/events"
	"github.com/welldanyogia/llmbot-stream/internal/metrics"
)

// RedisSource reads event envelopes published on a Redis pub/sub channel.
// Publishers use the same JSON envelope the platform websocket sends.
type RedisSource struct {
	router

	client  redis.UniversalClient
	channel string
	logger  *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	connected atomic.Bool
}

// NewRedisSource creates a source subscribed to channel.
func NewRedisSource(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisSource {
	return &RedisSource{
		client:     client,
		channel:    channel,
		logger:     componentLogger(logger, "redis_source"),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Connected reports whether the subscription is active.
func (s *RedisSource) Connected() bool {
	return s.connected.Load()
}

// Run subscribes and delivers messages until ctx is done.
func (s *RedisSource) Run(ctx context.Context) error {
	b := newBackoff(s.minBackoff, s.maxBackoff)
	for {
		err := s.session(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.Next()
		metrics.TransportReconnects.WithLabelValues("redis").Inc()
		s.logger.Warn("redis subscription lost, resubscribing",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (s *RedisSource) session(ctx context.Context, b *backoff) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	b.Reset()

	s.setConnected(true)
	defer s.setConnected(false)
	s.logger.Info("redis subscription active", slog.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			s.handleMessage(msg.Payload)
		}
	}
}

func (s *RedisSource) handleMessage(payload string) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.logger.Debug("ignoring unparseable redis message", slog.String("error", err.Error()))
		return
	}
	s.route(env)
}

func (s *RedisSource) setConnected(v bool) {
	s.connected.Store(v)
	if v {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
}
