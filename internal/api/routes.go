package api

import (
	"github.com/go-chi/chi/v5"
)

// RegisterServiceRoutes registers the bot listing routes
func RegisterServiceRoutes(r chi.Router, handler *ServicesHandler) {
	r.Route("/services", func(r chi.Router) {
		r.Get("/", handler.ListServices)
		r.Get("/{name}", handler.GetService)
	})
}
