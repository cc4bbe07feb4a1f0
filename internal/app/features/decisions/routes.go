// internal/app/features/decisions/routes.go
package decisions

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted at /api/sessions/{id}/decisions.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	// Host or participant.
	r.Get("/", h.ServeList)
	r.Get("/{did}/results", h.ServeResults)

	// Participant.
	r.Post("/{did}/vote", h.ServeVote)

	r.Group(func(r chi.Router) {
		r.Use(gates.HostOnly)
		r.Post("/", h.ServeOpen)
		r.Post("/{did}/close", h.ServeClose)
		r.Post("/{did}/reveal", h.ServeReveal)
	})
	return r
}
