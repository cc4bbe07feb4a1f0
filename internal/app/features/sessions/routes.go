// internal/app/features/sessions/routes.go
package sessions

import (
	"github.com/dalemusser/liveplay/internal/app/system/gates"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the session routes on r, which is mounted at
// /api/sessions. The other per-session features mount beside them under
// /{id}, so these are registered on the shared router rather than a
// subrouter of their own.
func MountRoutes(r chi.Router, h *Handler) {
	// Public join flow.
	r.Get("/{id}", h.ServeLobby)
	r.Post("/{id}/join", h.ServeJoin)
	r.Post("/{id}/rejoin", h.ServeRejoin)

	r.Group(func(r chi.Router) {
		r.Use(gates.HostOnly)
		r.Post("/", h.ServeCreate)
		r.Get("/mine", h.ServeMine)
		r.Post("/{id}/advance", h.ServeAdvance)
		r.Post("/{id}/status", h.ServeStatus)
		r.Delete("/{id}", h.ServeDelete)
	})
}

// WSRoutes returns a subrouter mounted at /ws/sessions.
func WSRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.ServeWS)
	return r
}
