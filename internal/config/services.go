package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBot is returned when a bot name is not configured
var ErrUnknownBot = errors.New("unknown bot")

// ServiceConfig describes one language-model, transcription or image backend
type ServiceConfig struct {
	Name                    string `yaml:"name" json:"name" validate:"required"`
	Type                    string `yaml:"type" json:"type" validate:"required,oneof=openai openaicompatible azure anthropic asksage whisper"`
	APIKey                  string `yaml:"apiKey" json:"-"`
	OrgID                   string `yaml:"orgId" json:"orgId,omitempty"`
	DefaultModel            string `yaml:"defaultModel" json:"defaultModel,omitempty"`
	APIURL                  string `yaml:"apiURL" json:"apiURL,omitempty" validate:"omitempty,url"`
	TokenLimit              int    `yaml:"tokenLimit" json:"tokenLimit,omitempty" validate:"gte=0"`
	StreamingTimeoutSeconds int    `yaml:"streamingTimeoutSeconds" json:"streamingTimeoutSeconds,omitempty" validate:"gte=0"`
}

// BotConfig describes one bot and the backend serving it
type BotConfig struct {
	Name               string        `yaml:"name" json:"name" validate:"required,alphanum"`
	DisplayName        string        `yaml:"displayName" json:"displayName"`
	CustomInstructions string        `yaml:"customInstructions" json:"-"`
	Service            ServiceConfig `yaml:"service" json:"service"`
}

// Services is the admin-configured set of bots and backends
type Services struct {
	Bots              []BotConfig `yaml:"bots" json:"bots" validate:"required,min=1,dive"`
	DefaultBotName    string      `yaml:"defaultBotName" json:"defaultBotName"`
	TranscriptBackend string      `yaml:"transcriptBackend" json:"transcriptBackend"`
}

var validate = validator.New()

// LoadServices reads and validates the services file at path
func LoadServices(path string) (*Services, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}
	return ParseServices(data)
}

// ParseServices parses and validates a YAML services document
func ParseServices(data []byte) (*Services, error) {
	var s Services
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse services file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints and cross references between bots
func (s *Services) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid services config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid services config: %w", err)
	}

	seen := make(map[string]bool, len(s.Bots))
	for _, b := range s.Bots {
		if seen[b.Name] {
			return fmt.Errorf("invalid services config: duplicate bot %q", b.Name)
		}
		seen[b.Name] = true
	}
	if s.DefaultBotName != "" && !seen[s.DefaultBotName] {
		return fmt.Errorf("invalid services config: default bot %q: %w", s.DefaultBotName, ErrUnknownBot)
	}
	return nil
}

// Bot returns the named bot, or the default bot when name is empty
func (s *Services) Bot(name string) (BotConfig, error) {
	if name == "" {
		name = s.DefaultBotName
	}
	if name == "" && len(s.Bots) > 0 {
		return s.Bots[0], nil
	}
	for _, b := range s.Bots {
		if b.Name == name {
			return b, nil
		}
	}
	return BotConfig{}, fmt.Errorf("%w: %s", ErrUnknownBot, name)
}
