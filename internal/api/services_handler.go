package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/llmbot-stream/internal/config"
)

// ServiceSummary describes a configured bot without its credentials
type ServiceSummary struct {
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	ServiceName  string `json:"serviceName"`
	ServiceType  string `json:"serviceType"`
	DefaultModel string `json:"defaultModel,omitempty"`
	TokenLimit   int    `json:"tokenLimit,omitempty"`
	Default      bool   `json:"default"`
}

// ServicesListResponse is the body of GET /services
type ServicesListResponse struct {
	Bots              []ServiceSummary `json:"bots"`
	TranscriptBackend string           `json:"transcriptBackend,omitempty"`
}

// ServicesHandler exposes the configured bots
type ServicesHandler struct {
	services *config.Services
}

// NewServicesHandler creates a handler over services, which may be nil when no file is configured
func NewServicesHandler(services *config.Services) *ServicesHandler {
	return &ServicesHandler{services: services}
}

// ListServices handles GET /api/v1/services
func (h *ServicesHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	if h.services == nil {
		writeError(w, http.StatusServiceUnavailable, CodeServicesUnavailable, "No services file configured")
		return
	}

	resp := ServicesListResponse{
		Bots:              make([]ServiceSummary, 0, len(h.services.Bots)),
		TranscriptBackend: h.services.TranscriptBackend,
	}
	defaultBot, _ := h.services.Bot("")
	for _, b := range h.services.Bots {
		resp.Bots = append(resp.Bots, summarize(b, b.Name == defaultBot.Name))
	}
	writeSuccess(w, http.StatusOK, resp)
}

// GetService handles GET /api/v1/services/{name}
func (h *ServicesHandler) GetService(w http.ResponseWriter, r *http.Request) {
	if h.services == nil {
		writeError(w, http.StatusServiceUnavailable, CodeServicesUnavailable, "No services file configured")
		return
	}

	name := chi.URLParam(r, "name")
	bot, err := h.services.Bot(name)
	if errors.Is(err, config.ErrUnknownBot) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Bot not found")
		return
	}
	defaultBot, _ := h.services.Bot("")
	writeSuccess(w, http.StatusOK, summarize(bot, bot.Name == defaultBot.Name))
}

func summarize(b config.BotConfig, isDefault bool) ServiceSummary {
	return ServiceSummary{
		Name:         b.Name,
		DisplayName:  b.DisplayName,
		ServiceName:  b.Service.Name,
		ServiceType:  b.Service.Type,
		DefaultModel: b.Service.DefaultModel,
		TokenLimit:   b.Service.TokenLimit,
		Default:      isDefault,
	}
}
