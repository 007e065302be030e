package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "PLATFORM_URL", "TRANSPORT", "STREAM_HEARTBEAT_INTERVAL", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Transport.Kind != TransportWebSocket {
		t.Errorf("expected websocket transport, got %s", cfg.Transport.Kind)
	}
	if cfg.Transport.EventName != "custom_mattermost-ai_postupdate" {
		t.Errorf("unexpected event name %s", cfg.Transport.EventName)
	}
	if cfg.Stream.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected 30s heartbeat, got %v", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Transport.PingInterval >= cfg.Transport.ReadTimeout {
		t.Errorf("ping interval %v must be shorter than read timeout %v", cfg.Transport.PingInterval, cfg.Transport.ReadTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PLATFORM_URL", "https://chat.example.com/")
	t.Setenv("PLATFORM_PLUGIN_ID", "ai")
	t.Setenv("STREAM_HEARTBEAT_INTERVAL", "15")
	t.Setenv("TRANSPORT_RECONNECT_MAX", "2m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")
	t.Setenv("STREAM_MAX_CONNECTIONS_PER_POST", "not-a-number")

	cfg := Load()
	if cfg.Platform.URL != "https://chat.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Platform.URL)
	}
	if got := cfg.Platform.WebSocketURL(); got != "wss://chat.example.com/api/v4/websocket" {
		t.Errorf("unexpected websocket url %s", got)
	}
	if got := cfg.Platform.PluginURL(); got != "https://chat.example.com/plugins/ai" {
		t.Errorf("unexpected plugin url %s", got)
	}
	if cfg.Stream.HeartbeatInterval != 15*time.Second {
		t.Errorf("expected bare seconds to parse, got %v", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Transport.ReconnectMax != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.Transport.ReconnectMax)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Stream.MaxConnectionsPerPost != 20 {
		t.Errorf("expected default on bad int, got %d", cfg.Stream.MaxConnectionsPerPost)
	}
}

func TestWebSocketURL_PlainHTTP(t *testing.T) {
	p := PlatformConfig{URL: "http://localhost:8065"}
	if got := p.WebSocketURL(); got != "ws://localhost:8065/api/v4/websocket" {
		t.Errorf("unexpected url %s", got)
	}
}

const validServices = `
defaultBotName: helper
transcriptBackend: whisper
bots:
  - name: helper
    displayName: Helper
    service:
      name: primary
      type: openai
      apiKey: sk-test
      defaultModel: gpt-4o
      tokenLimit: 128000
      streamingTimeoutSeconds: 30
  - name: claude
    displayName: Claude
    service:
      name: anthropic
      type: anthropic
      apiURL: https://api.anthropic.com
`

func TestParseServices_Valid(t *testing.T) {
	s, err := ParseServices([]byte(validServices))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Bots) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(s.Bots))
	}

	bot, err := s.Bot("")
	if err != nil || bot.Name != "helper" {
		t.Errorf("expected default bot helper, got %+v (%v)", bot, err)
	}
	if bot.Service.APIKey != "sk-test" || bot.Service.StreamingTimeoutSeconds != 30 {
		t.Errorf("unexpected service %+v", bot.Service)
	}

	if _, err := s.Bot("missing"); !errors.Is(err, ErrUnknownBot) {
		t.Errorf("expected ErrUnknownBot, got %v", err)
	}
}

func TestParseServices_Invalid(t *testing.T) {
	tests := map[string]string{
		"no bots":         "bots: []\n",
		"bad type":        "bots:\n  - name: a\n    service: {name: s, type: gemini}\n",
		"bad url":         "bots:\n  - name: a\n    service: {name: s, type: openai, apiURL: not a url}\n",
		"missing name":    "bots:\n  - service: {name: s, type: openai}\n",
		"duplicate bot":   "bots:\n  - name: a\n    service: {name: s, type: openai}\n  - name: a\n    service: {name: t, type: openai}\n",
		"unknown default": "defaultBotName: zz\nbots:\n  - name: a\n    service: {name: s, type: openai}\n",
		"bad yaml":        "bots: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseServices([]byte(doc)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestLoadServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(validServices), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadServices(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadServices(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
