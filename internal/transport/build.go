package transport

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/welldanyogia/llmbot-stream/internal/config"
)

// EventSource is a Source that routes envelopes by event name.
type EventSource interface {
	Source
	Handle(event string, fn HandlerFunc)
}

// FromConfig builds the configured source. The redis client is non-nil only for the
// redis transport and is owned by the caller.
func FromConfig(cfg *config.Config, log *slog.Logger) (EventSource, redis.UniversalClient, error) {
	switch cfg.Transport.Kind {
	case config.TransportWebSocket:
		ws := NewWebSocketClient(cfg.Platform.WebSocketURL(), cfg.Platform.Token,
			WithWebSocketLogger(log),
			WithReconnectBackoff(cfg.Transport.ReconnectMin, cfg.Transport.ReconnectMax),
			WithHandshakeTimeout(cfg.Transport.HandshakeTimeout),
			WithKeepAlive(cfg.Transport.PingInterval, cfg.Transport.ReadTimeout),
		)
		return ws, nil, nil

	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		src := NewRedisSource(client, cfg.Redis.Channel, log)
		src.minBackoff, src.maxBackoff = cfg.Transport.ReconnectMin, cfg.Transport.ReconnectMax
		return src, client, nil
	}

	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}
