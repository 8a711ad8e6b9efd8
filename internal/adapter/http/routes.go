package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. wsHandler
// may be nil when the real-time stream is disabled.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/threads-runs", h.CreateThreadAndRun)
		r.Post("/append-message", h.AppendMessage)
		r.Post("/start-run", h.StartRun)
		r.Get("/run-status", h.RunStatus)
		r.Get("/messages", h.Messages)
		r.Get("/ping", h.Ping)

		r.Post("/chat", h.Chat)
		r.Post("/rating", h.Rating)

		r.Post("/forms/loyalty", h.LoyaltyForm)
		r.Post("/forms/order", h.OrderForm)
		r.Post("/forms/cycle", h.CycleForm)
	})

	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}
}
