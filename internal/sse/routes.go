package sse

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the post stream routes. The caller supplies any
// middleware (user header, rate limits) on r.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/posts/{postid}", func(r chi.Router) {
		r.Get("/stream", handler.HandleStream)
		r.Get("/stream/status", handler.HandleStatus)
	})
}
