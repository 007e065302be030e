package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/welldanyogia/llmbot-stream/internal/events"
)

// Transport kinds
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Platform  PlatformConfig
	Transport TransportConfig
	Redis     RedisConfig
	Stream    StreamConfig
	// ServicesFile points at the YAML file describing the configured bots and backends.
	ServicesFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	AllowedOrigins []string
	// StreamOpensPerMinute limits how many streams one user may open per minute.
	StreamOpensPerMinute int
}

// PlatformConfig holds the chat platform connection settings
type PlatformConfig struct {
	URL      string
	Token    string
	PluginID string
}

// TransportConfig selects where post update events come from
type TransportConfig struct {
	Kind string
	// EventName is the websocket event carrying post updates.
	EventName        string
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	HandshakeTimeout time.Duration
	// PingInterval and ReadTimeout detect a silently dead websocket.
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// RedisConfig holds Redis connection configuration for the redis transport
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// StreamConfig holds SSE relay tuning
type StreamConfig struct {
	HeartbeatInterval     time.Duration
	ConnectionTimeout     time.Duration
	MaxConnectionsPerPost int
	FrameQueueSize        int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                 getEnv("SERVER_PORT", "8080"),
			AllowedOrigins:       getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8065"}),
			StreamOpensPerMinute: getIntEnv("STREAM_OPENS_PER_MINUTE", 60),
		},
		Platform: PlatformConfig{
			URL:      strings.TrimRight(getEnv("PLATFORM_URL", "http://localhost:8065"), "/"),
			Token:    getEnv("PLATFORM_TOKEN", ""),
			PluginID: getEnv("PLATFORM_PLUGIN_ID", "mattermost-ai"),
		},
		Transport: TransportConfig{
			Kind:             getEnv("TRANSPORT", TransportWebSocket),
			EventName:        getEnv("TRANSPORT_EVENT", events.EventPostUpdate),
			ReconnectMin:     getDurationEnv("TRANSPORT_RECONNECT_MIN", time.Second),
			ReconnectMax:     getDurationEnv("TRANSPORT_RECONNECT_MAX", 30*time.Second),
			HandshakeTimeout: getDurationEnv("TRANSPORT_HANDSHAKE_TIMEOUT", 10*time.Second),
			PingInterval:     getDurationEnv("TRANSPORT_PING_INTERVAL", 30*time.Second),
			ReadTimeout:      getDurationEnv("TRANSPORT_READ_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "llmbot:postupdates"),
		},
		Stream: StreamConfig{
			HeartbeatInterval:     getDurationEnv("STREAM_HEARTBEAT_INTERVAL", 30*time.Second),
			ConnectionTimeout:     getDurationEnv("STREAM_CONNECTION_TIMEOUT", time.Hour),
			MaxConnectionsPerPost: getIntEnv("STREAM_MAX_CONNECTIONS_PER_POST", 20),
			FrameQueueSize:        getIntEnv("STREAM_FRAME_QUEUE_SIZE", 64),
		},
		ServicesFile: getEnv("SERVICES_FILE", ""),
	}
}

// WebSocketURL returns the platform websocket endpoint derived from the platform URL
func (p *PlatformConfig) WebSocketURL() string {
	u := p.URL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v4/websocket"
}

// PluginURL returns the base URL of the plugin's REST routes
func (p *PlatformConfig) PluginURL() string {
	return p.URL + "/plugins/" + p.PluginID
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("45s") or a bare number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
