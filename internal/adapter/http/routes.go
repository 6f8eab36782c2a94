package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the A2A routes. The agent card and health stay
// public; protect wraps everything under /a2a.
func MountRoutes(r chi.Router, h *Handlers, protect ...func(http.Handler) http.Handler) {
	r.Get("/.well-known/agent.json", h.AgentCard)
	r.Get("/health", h.Health)

	r.Route("/a2a", func(r chi.Router) {
		r.Use(protect...)

		r.Post("/", h.JSONRPC)
		r.Get("/stream/{id}", h.Stream)
		if h.opts.WebSocket != nil {
			r.Get("/ws/{id}", h.opts.WebSocket)
		}

		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
	})
}
