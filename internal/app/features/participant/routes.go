// internal/app/features/participant/routes.go
package participant

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter mounted at /api/participant.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.ServeMe)
	r.Post("/heartbeat", h.ServeHeartbeat)
	r.Get("/role", h.ServeRole)
	r.Post("/role/reveal", h.ServeReveal)
	r.Post("/role/reveal-secret", h.ServeRevealSecret)
	return r
}
